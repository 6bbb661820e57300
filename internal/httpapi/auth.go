package httpapi

import (
	"net/http"

	"github.com/exzibtx/deployd/internal/service"
	"github.com/exzibtx/deployd/pkg/httpx"
)

// AuthHandler serves one collection's login, logout, and me endpoints.
type AuthHandler struct {
	Users    *service.UserCollection
	Sessions *service.SessionService
}

// HandleLogin verifies credentials and issues a session. The token is
// returned in the body and doubled as an sid cookie so browser clients get
// it for free.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	body, _ := httpx.ReadJSONBody(r)
	sess, err := h.Users.Login(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, sess)
}

// HandleLogout destroys the presented session and expires the cookie.
// Always succeeds, token or not.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.Users.Logout(r.Context(), sessionToken(r)); err != nil {
		writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the caller's own record, or 204 when anonymous.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	caller, err := resolveCaller(r, h.Sessions)
	if err != nil {
		writeError(w, r, err)
		return
	}

	me, err := h.Users.Me(r.Context(), caller)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if me == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, me)
}
