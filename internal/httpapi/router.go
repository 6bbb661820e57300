package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/exzibtx/deployd/internal/service"
	"github.com/exzibtx/deployd/internal/store"
	"github.com/exzibtx/deployd/pkg/httpx"
	"github.com/exzibtx/deployd/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers and mounts one route
// set per configured user collection.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store    store.Store
	sessions *service.SessionService

	Collections []*service.UserCollection
}

func NewRouter(buildVersion string, st store.Store, sessions *service.SessionService, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		store:        st,
		sessions:     sessions,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	for _, c := range r.Collections {
		r.registerCollection(c)
	}
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerCollection(c *service.UserCollection) {
	base := "/" + c.Name

	h := &CollectionHandler{Users: c, Sessions: r.sessions}
	auth := &AuthHandler{Users: c, Sessions: r.sessions}
	ev := &EventsHandler{Users: c, Sessions: r.sessions}

	// Literal segments (login, logout, me, events, changes) take precedence
	// over the {id} patterns, so those names are effectively reserved.
	r.Mux.Handle("POST "+base,
		httpx.Chain(http.HandlerFunc(h.HandlePost),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("POST "+base+"/{id}",
		httpx.Chain(http.HandlerFunc(h.HandlePost),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("PUT "+base+"/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleUpdateOne),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("PUT "+base,
		httpx.Chain(http.HandlerFunc(h.HandleBulkUpdate),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("GET "+base,
		httpx.Chain(http.HandlerFunc(h.HandleList),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET "+base+"/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleGetOne),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("DELETE "+base+"/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleDeleteOne),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("DELETE "+base,
		httpx.Chain(http.HandlerFunc(h.HandleBulkDelete),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// POST /login - strict rate limit (authentication attempts)
	r.Mux.Handle("POST "+base+"/login",
		httpx.Chain(http.HandlerFunc(auth.HandleLogin),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST "+base+"/logout",
		httpx.Chain(http.HandlerFunc(auth.HandleLogout),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("GET "+base+"/me",
		httpx.Chain(http.HandlerFunc(auth.HandleMe),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)

	r.Mux.Handle("POST "+base+"/events/{name}",
		httpx.Chain(http.HandlerFunc(ev.HandleEmit),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("GET "+base+"/changes",
		httpx.Chain(http.HandlerFunc(ev.HandleChanges),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may
	// poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
