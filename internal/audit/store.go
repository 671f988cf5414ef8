package audit

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/parkir-api/internal/db"
)

// PgStore keeps audit entries in the audit_log table.
type PgStore struct {
	db db.DBTX
}

// NewStore binds a store to a pool or transaction.
func NewStore(q db.DBTX) *PgStore {
	return &PgStore{db: q}
}

const entryColumns = `id, actor_kind, operator_id, action, resource_type, resource_id, method, path, route,
	status, ip, user_agent, request_id, metadata, created_at`

// Insert appends an entry.
func (s *PgStore) Insert(ctx context.Context, e Entry) error {
	var metadata any
	if len(e.Metadata) > 0 {
		metadata = []byte(e.Metadata)
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_log (actor_kind, operator_id, action, resource_type, resource_id, method, path, route,
			status, ip, user_agent, request_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		string(e.ActorKind), e.OperatorID, e.Action, e.ResourceType, e.ResourceID, e.Method, e.Path, e.Route,
		e.Status, e.IP, e.UserAgent, e.RequestID, metadata, e.CreatedAt,
	)
	return err
}

// List returns entries newest first.
func (s *PgStore) List(ctx context.Context, f Filter, limit, offset int) ([]Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM audit_log
		WHERE ($1 = '' OR resource_type = $1) AND ($2 = '' OR resource_id = $2)
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`,
		f.ResourceType, f.ResourceID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanEntry)
}

// Count returns the number of entries matching f.
func (s *PgStore) Count(ctx context.Context, f Filter) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM audit_log
		WHERE ($1 = '' OR resource_type = $1) AND ($2 = '' OR resource_id = $2)`,
		f.ResourceType, f.ResourceID,
	).Scan(&n)
	return n, err
}

func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var (
		e        Entry
		kind     string
		metadata []byte
	)
	err := row.Scan(&e.ID, &kind, &e.OperatorID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Method, &e.Path,
		&e.Route, &e.Status, &e.IP, &e.UserAgent, &e.RequestID, &metadata, &e.CreatedAt)
	e.ActorKind = ActorKind(kind)
	if len(metadata) > 0 {
		e.Metadata = metadata
	}
	return e, err
}
