package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/exzibtx/deployd/internal/domain"
	"github.com/exzibtx/deployd/internal/store"
)

type documentsRepo struct {
	db dbtx
}

func (r *documentsRepo) Get(ctx context.Context, collection, id string) (domain.Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, mapNotFound(err)
	}
	return decodeRecord(raw)
}

func (r *documentsRepo) Find(ctx context.Context, collection string, query map[string]any) ([]domain.Record, error) {
	sqlQuery, args := buildFind(collection, query)

	rows, err := r.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *documentsRepo) Insert(ctx context.Context, collection string, rec domain.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)`,
		collection, rec.ID(), raw,
	)
	return mapConstraint(err)
}

func (r *documentsRepo) Update(ctx context.Context, collection, id string, rec domain.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET data = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE collection = ? AND id = ?`,
		raw, collection, id,
	)
	if err != nil {
		return mapConstraint(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *documentsRepo) Delete(ctx context.Context, collection, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// buildFind assembles the SELECT for a field-equality query. Query keys are
// sorted so generated SQL is deterministic; values land in json_extract
// comparisons which rely on sqlite's numeric affinity for int/float matches.
func buildFind(collection string, query map[string]any) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT data FROM documents WHERE collection = ?`)
	args := []any{collection}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if k == domain.FieldID {
			b.WriteString(` AND id = ?`)
			args = append(args, query[k])
			continue
		}
		fmt.Fprintf(&b, ` AND json_extract(data, '$.%s') = ?`, sanitizeFieldName(k))
		args = append(args, normalizeArg(query[k]))
	}

	b.WriteString(` ORDER BY rowid`)
	return b.String(), args
}

// sanitizeFieldName keeps only characters safe inside the json path literal.
// Field names come from client queries, so this is the injection boundary.
func sanitizeFieldName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return -1
	}, name)
}

// normalizeArg converts query values into types database/sql accepts.
func normalizeArg(v any) any {
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		return v
	}
}

func decodeRecord(raw []byte) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
