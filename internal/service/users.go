package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/exzibtx/deployd/internal/domain"
	"github.com/exzibtx/deployd/internal/events"
	"github.com/exzibtx/deployd/internal/permission"
	"github.com/exzibtx/deployd/internal/store"
	"github.com/exzibtx/deployd/pkg/cryptox"
)

const (
	msgRequired  = "is required"
	msgDuplicate = "is already in use"
)

// UserCollection is the behavior of one named user collection: CRUD with
// credential handling, login sessions, permission gating, change
// notifications, and custom events. One instance per configured collection,
// all sharing the store, session service, and permission engine.
type UserCollection struct {
	Name     string
	Store    store.Store
	Sessions *SessionService
	Perms    *permission.Engine
	Bus      *events.Bus
	Events   *events.Registry
}

func NewUserCollection(name string, st store.Store, sessions *SessionService, perms *permission.Engine, bus *events.Bus) *UserCollection {
	return &UserCollection{
		Name:     name,
		Store:    st,
		Sessions: sessions,
		Perms:    perms,
		Bus:      bus,
		Events:   events.NewRegistry(),
	}
}

// Post routes a create-or-update: a body or path carrying an id addresses an
// existing record, anything else creates a new one.
func (c *UserCollection) Post(ctx context.Context, caller *domain.Identity, pathID string, body map[string]any) (domain.Record, error) {
	id := pathID
	if id == "" {
		if v, ok := body[domain.FieldID].(string); ok {
			id = v
		}
	}
	if id != "" {
		return c.Update(ctx, caller, id, body)
	}
	return c.Create(ctx, caller, body)
}

// Create validates and stores a new user record. Missing required fields are
// collected into a single validation error rather than reported one at a
// time; username uniqueness rides on the store's constraint so concurrent
// creates cannot race past the check.
func (c *UserCollection) Create(ctx context.Context, caller *domain.Identity, body map[string]any) (domain.Record, error) {
	rec := domain.Record(body).Clone()
	delete(rec, domain.FieldID)
	delete(rec, domain.FieldIsMe)

	verr := domain.NewValidationError()
	username, _ := rec[domain.FieldUsername].(string)
	if username == "" {
		verr.Add(domain.FieldUsername, msgRequired)
	}
	password, _ := rec[domain.FieldPassword].(string)
	if password == "" {
		verr.Add(domain.FieldPassword, msgRequired)
	}
	if verr.Any() {
		return nil, verr
	}

	if _, err := c.Perms.Evaluate(ctx, &permission.Request{
		Collection: c.Name,
		Action:     permission.ActionCreate,
		CallerID:   caller.UserID(),
		Changes:    rec,
	}); err != nil {
		return nil, err
	}

	digest, err := cryptox.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	rec[domain.FieldPassword] = digest

	id, err := cryptox.NewResourceID()
	if err != nil {
		return nil, err
	}
	rec[domain.FieldID] = id
	if _, ok := rec[domain.FieldReputation]; !ok {
		rec[domain.FieldReputation] = float64(0)
	}

	if err := c.Store.Documents().Insert(ctx, c.Name, rec); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			verr.Add(domain.FieldUsername, msgDuplicate)
			return nil, verr
		}
		return nil, err
	}

	out := c.sanitize(rec, caller)
	c.publish(domain.ChangeCreated, out)
	return out, nil
}

// Update applies a partial update to one record. Registered update hooks run
// first and may grant trusted field writes; the credential gate then rejects
// the whole write if any remaining username or password change does not come
// from the record's owner.
func (c *UserCollection) Update(ctx context.Context, caller *domain.Identity, id string, changes map[string]any) (domain.Record, error) {
	existing, err := c.Store.Documents().Get(ctx, c.Name, id)
	if err != nil {
		return nil, err
	}

	dec, err := c.Perms.Evaluate(ctx, &permission.Request{
		Collection: c.Name,
		Action:     permission.ActionUpdate,
		CallerID:   caller.UserID(),
		TargetID:   id,
		Changes:    domain.Record(changes),
	})
	if err != nil {
		return nil, err
	}

	updated, err := c.applyUpdate(ctx, c.Store.Documents(), caller, existing, changes, dec)
	if err != nil {
		return nil, err
	}

	out := c.sanitize(updated, caller)
	c.publish(domain.ChangeUpdated, out)
	return out, nil
}

// UpdateMatching applies one set of changes to every record matching the
// query, atomically. Without a bypass from a permission hook the matching
// set is narrowed to the caller's own record.
func (c *UserCollection) UpdateMatching(ctx context.Context, caller *domain.Identity, query, changes map[string]any) ([]domain.Record, error) {
	req := &permission.Request{
		Collection: c.Name,
		Action:     permission.ActionUpdate,
		CallerID:   caller.UserID(),
		Query:      query,
		Changes:    domain.Record(changes),
	}
	dec, err := c.Perms.Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}

	matching, err := c.Store.Documents().Find(ctx, c.Name, req.Query)
	if err != nil {
		return nil, err
	}
	matching = c.narrowToOwner(matching, caller, dec)

	var results []domain.Record
	err = c.Store.WithTx(ctx, func(tx store.Tx) error {
		results = results[:0]
		for _, existing := range matching {
			updated, err := c.applyUpdate(ctx, tx.Documents(), caller, existing, changes, dec)
			if err != nil {
				return err
			}
			results = append(results, c.sanitize(updated, caller))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, out := range results {
		c.publish(domain.ChangeUpdated, out)
	}
	return results, nil
}

// applyUpdate runs the hook-gate-merge-persist pipeline for one record
// against the given repo, so targeted and transactional bulk updates share
// one code path. Callers publish the change notification after commit.
func (c *UserCollection) applyUpdate(ctx context.Context, docs store.Documents, caller *domain.Identity, existing domain.Record, changes map[string]any, dec permission.Decision) (domain.Record, error) {
	ch := domain.Record(changes).Clone()
	delete(ch, domain.FieldID)
	delete(ch, domain.FieldIsMe)

	visible := existing.Clone()
	delete(visible, domain.FieldPassword)
	trusted, err := c.Events.RunUpdate(ctx, visible, ch)
	if err != nil {
		return nil, err
	}

	if !dec.Bypass {
		if verr := c.Perms.CheckFields(caller.UserID(), existing.ID(), ch, trusted); verr != nil {
			return nil, verr
		}
	}

	verr := domain.NewValidationError()
	if v, present := ch[domain.FieldUsername]; present {
		if s, _ := v.(string); s == "" {
			verr.Add(domain.FieldUsername, msgRequired)
		}
	}
	if v, present := ch[domain.FieldPassword]; present {
		s, _ := v.(string)
		if s == "" {
			verr.Add(domain.FieldPassword, msgRequired)
		} else {
			digest, err := cryptox.HashPassword(s)
			if err != nil {
				return nil, fmt.Errorf("hash password: %w", err)
			}
			ch[domain.FieldPassword] = digest
		}
	}
	if verr.Any() {
		return nil, verr
	}

	merged := existing.Clone()
	for k, v := range ch {
		merged[k] = v
	}

	if err := docs.Update(ctx, c.Name, existing.ID(), merged); err != nil {
		if errors.Is(err, store.ErrDuplicateUsername) {
			verr.Add(domain.FieldUsername, msgDuplicate)
			return nil, verr
		}
		return nil, err
	}
	return merged, nil
}

// Get returns one record by id, sans password.
func (c *UserCollection) Get(ctx context.Context, caller *domain.Identity, id string) (domain.Record, error) {
	if _, err := c.Perms.Evaluate(ctx, &permission.Request{
		Collection: c.Name,
		Action:     permission.ActionRead,
		CallerID:   caller.UserID(),
		TargetID:   id,
	}); err != nil {
		return nil, err
	}

	rec, err := c.Store.Documents().Get(ctx, c.Name, id)
	if err != nil {
		return nil, err
	}
	return c.sanitize(rec, caller), nil
}

// List returns every record matching the query, in insertion order.
func (c *UserCollection) List(ctx context.Context, caller *domain.Identity, query map[string]any) ([]domain.Record, error) {
	req := &permission.Request{
		Collection: c.Name,
		Action:     permission.ActionRead,
		CallerID:   caller.UserID(),
		Query:      query,
	}
	if _, err := c.Perms.Evaluate(ctx, req); err != nil {
		return nil, err
	}

	recs, err := c.Store.Documents().Find(ctx, c.Name, req.Query)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, c.sanitize(rec, caller))
	}
	return out, nil
}

// Delete removes one record by id. Deleting an absent record is a no-op.
// Every session bound to the record is destroyed with it.
func (c *UserCollection) Delete(ctx context.Context, caller *domain.Identity, id string) error {
	if _, err := c.Perms.Evaluate(ctx, &permission.Request{
		Collection: c.Name,
		Action:     permission.ActionDelete,
		CallerID:   caller.UserID(),
		TargetID:   id,
	}); err != nil {
		return err
	}

	if err := c.Store.Documents().Delete(ctx, c.Name, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := c.Sessions.DestroyAllFor(ctx, id); err != nil {
		return err
	}
	c.publish(domain.ChangeDeleted, domain.Record{domain.FieldID: id})
	return nil
}

// DeleteMatching removes every record matching the query, atomically, and
// reports how many went. Without a bypass from a permission hook the
// matching set is narrowed to the caller's own record.
func (c *UserCollection) DeleteMatching(ctx context.Context, caller *domain.Identity, query map[string]any) (int, error) {
	req := &permission.Request{
		Collection: c.Name,
		Action:     permission.ActionDelete,
		CallerID:   caller.UserID(),
		Query:      query,
	}
	dec, err := c.Perms.Evaluate(ctx, req)
	if err != nil {
		return 0, err
	}

	matching, err := c.Store.Documents().Find(ctx, c.Name, req.Query)
	if err != nil {
		return 0, err
	}
	matching = c.narrowToOwner(matching, caller, dec)

	err = c.Store.WithTx(ctx, func(tx store.Tx) error {
		for _, rec := range matching {
			if err := tx.Documents().Delete(ctx, c.Name, rec.ID()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, rec := range matching {
		if err := c.Sessions.DestroyAllFor(ctx, rec.ID()); err != nil {
			return 0, err
		}
		c.publish(domain.ChangeDeleted, domain.Record{domain.FieldID: rec.ID()})
	}
	return len(matching), nil
}

// Login verifies credentials and issues a session. Every failure mode, from
// a missing body to a wrong password, collapses to the same error so the
// response never reveals whether the username exists.
func (c *UserCollection) Login(ctx context.Context, body map[string]any) (domain.Session, error) {
	username, _ := body[domain.FieldUsername].(string)
	password, _ := body[domain.FieldPassword].(string)
	if username == "" || password == "" {
		return domain.Session{}, domain.ErrInvalidCredentials
	}

	recs, err := c.Store.Documents().Find(ctx, c.Name, map[string]any{domain.FieldUsername: username})
	if err != nil {
		return domain.Session{}, err
	}
	if len(recs) == 0 || !cryptox.VerifyPassword(password, recs[0].Password()) {
		return domain.Session{}, domain.ErrInvalidCredentials
	}

	return c.Sessions.Create(ctx, c.Name, recs[0].ID())
}

// Logout destroys the presented session. Unknown tokens succeed silently.
func (c *UserCollection) Logout(ctx context.Context, token string) error {
	return c.Sessions.Destroy(ctx, token)
}

// Me returns the caller's own record, or nil when the caller is anonymous
// or logged into a different collection. Never an error in the anonymous
// case; "who am I" has a valid answer of "nobody".
func (c *UserCollection) Me(ctx context.Context, caller *domain.Identity) (domain.Record, error) {
	if caller == nil || caller.Collection != c.Name {
		return nil, nil
	}
	return c.sanitize(caller.Record, caller), nil
}

// Emit runs the handler chain registered for a named custom event.
func (c *UserCollection) Emit(ctx context.Context, name string, payload map[string]any) (any, error) {
	return c.Events.Emit(ctx, name, payload)
}

// narrowToOwner applies the default bulk-mutation scope: absent a bypass,
// only the caller's own record survives the matching set.
func (c *UserCollection) narrowToOwner(matching []domain.Record, caller *domain.Identity, dec permission.Decision) []domain.Record {
	if !dec.RestrictToOwner || dec.Bypass {
		return matching
	}
	own := matching[:0]
	for _, rec := range matching {
		if caller.UserID() != "" && rec.ID() == caller.UserID() {
			own = append(own, rec)
		}
	}
	return own
}

// sanitize prepares a record for the outside: the password digest never
// leaves the service, and isMe marks whether the record is the caller's own.
func (c *UserCollection) sanitize(rec domain.Record, caller *domain.Identity) domain.Record {
	out := rec.Clone()
	delete(out, domain.FieldPassword)
	out[domain.FieldIsMe] = caller.UserID() != "" && caller.UserID() == rec.ID() && caller.Collection == c.Name
	return out
}

// publish broadcasts a committed mutation. isMe is caller-relative, so it is
// dropped from the shared payload.
func (c *UserCollection) publish(t domain.ChangeType, payload domain.Record) {
	ev := payload.Clone()
	delete(ev, domain.FieldIsMe)
	c.Bus.Publish(domain.ChangeEvent{Type: t, Collection: c.Name, Payload: ev})
}
