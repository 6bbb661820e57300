package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/exzibtx/deployd/internal/domain"
	"github.com/exzibtx/deployd/internal/store"
	"github.com/exzibtx/deployd/pkg/cryptox"
	"github.com/exzibtx/deployd/pkg/slogx"
)

// SessionService issues, resolves, and destroys login sessions. Tokens are
// opaque 128-character random strings; possession of one is the sole proof
// of authentication.
type SessionService struct {
	Store store.Store
}

// Create issues a new session bound to uid in the given collection.
func (s *SessionService) Create(ctx context.Context, collection, uid string) (domain.Session, error) {
	token, err := cryptox.NewSessionToken()
	if err != nil {
		return domain.Session{}, err
	}

	sess := domain.Session{
		ID:         token,
		UID:        uid,
		Collection: collection,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.Store.Sessions().Create(ctx, sess); err != nil {
		return domain.Session{}, err
	}
	return sess, nil
}

// Resolve maps a presented token to the caller's identity. Unknown tokens
// and tokens whose user no longer exists resolve to anonymous (nil), never
// an error; stale sessions are purged lazily on the way.
func (s *SessionService) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, nil
	}

	sess, err := s.Store.Sessions().Get(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec, err := s.Store.Documents().Get(ctx, sess.Collection, sess.UID)
	if errors.Is(err, store.ErrNotFound) {
		// The user is gone; the session must not outlive it.
		if derr := s.Store.Sessions().Delete(ctx, token); derr != nil {
			slogx.FromContext(ctx).Warn("failed to purge stale session", slog.Any("err", derr))
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &domain.Identity{
		Record:     rec,
		SessionID:  token,
		Collection: sess.Collection,
	}, nil
}

// Destroy removes a session. Destroying an unknown token is not an error.
func (s *SessionService) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.Store.Sessions().Delete(ctx, token)
}

// DestroyAllFor removes every session bound to uid. Invoked when the user
// record is deleted.
func (s *SessionService) DestroyAllFor(ctx context.Context, uid string) error {
	return s.Store.Sessions().DeleteAllForUser(ctx, uid)
}
