package sqlite

import (
	"context"
	"time"

	"github.com/exzibtx/deployd/internal/domain"
)

type sessionsRepo struct {
	db dbtx
}

func (r *sessionsRepo) Create(ctx context.Context, s domain.Session) error {
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, collection, uid, created_at) VALUES (?, ?, ?, ?)`,
		s.ID, s.Collection, s.UID, created.Unix(),
	)
	return err
}

func (r *sessionsRepo) Get(ctx context.Context, id string) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, collection, uid, created_at FROM sessions WHERE id = ?`,
		id,
	)

	var (
		s       domain.Session
		created int64
	)
	if err := row.Scan(&s.ID, &s.Collection, &s.UID, &created); err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.CreatedAt = time.Unix(created, 0).UTC()
	return s, nil
}

func (r *sessionsRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

func (r *sessionsRepo) DeleteAllForUser(ctx context.Context, uid string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE uid = ?`, uid)
	return err
}

func (r *sessionsRepo) DeleteOrphans(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE NOT EXISTS (
			SELECT 1 FROM documents d
			WHERE d.collection = sessions.collection AND d.id = sessions.uid
		)`,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
