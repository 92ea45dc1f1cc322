package journal

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgStore struct{ pool *pgxpool.Pool }

// NewPGStore stores entries in the write_journal table.
func NewPGStore(pool *pgxpool.Pool) Store { return &pgStore{pool: pool} }

const entryCols = `id, request_id, actor_role, actor_id, operation, fecha, hora,
	paciente_nro, action, payload, outcome, error, created_at, resolved_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var payload []byte
	err := row.Scan(&e.ID, &e.RequestID, &e.ActorRole, &e.ActorID, &e.Operation, &e.Fecha, &e.Hora,
		&e.PacienteNro, &e.Action, &payload, &e.Outcome, &e.Error, &e.CreatedAt, &e.ResolvedAt)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}

func (s *pgStore) Create(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var payload []byte
	if len(e.Payload) > 0 {
		payload = e.Payload
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO write_journal (id, request_id, actor_role, actor_id, operation, fecha, hora,
			paciente_nro, action, payload, outcome, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING created_at`,
		e.ID, e.RequestID, e.ActorRole, e.ActorID, e.Operation, e.Fecha, e.Hora,
		e.PacienteNro, e.Action, payload, e.Outcome, e.Error).Scan(&e.CreatedAt)
}

func (s *pgStore) Resolve(ctx context.Context, id uuid.UUID, outcome Outcome, errText string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE write_journal SET outcome=$2, error=$3, resolved_at=NOW()
		WHERE id = $1`, id, outcome, errText)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgStore) List(ctx context.Context, outcome Outcome, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM write_journal WHERE $1 = '' OR outcome = $1`, outcome).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `SELECT `+entryCols+` FROM write_journal
		WHERE $1 = '' OR outcome = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, outcome, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
