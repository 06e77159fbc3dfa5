// internal/journal/postgres.go
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const schema = `
CREATE TABLE IF NOT EXISTS ledger_journal (
	id UUID PRIMARY KEY,
	member_id BIGINT NOT NULL,
	entry_type TEXT NOT NULL,
	month_key TEXT NOT NULL DEFAULT '',
	amount NUMERIC NOT NULL,
	balance_before NUMERIC NOT NULL,
	balance_after NUMERIC NOT NULL,
	payment_id BIGINT NOT NULL DEFAULT 0,
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	resolved_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS ledger_journal_member_idx ON ledger_journal (member_id, created_at DESC);
CREATE INDEX IF NOT EXISTS ledger_journal_open_idx ON ledger_journal (created_at) WHERE entry_type = 'PaymentPartiallyApplied' AND resolved_at IS NULL;
`

const selectColumns = `id, member_id, entry_type, month_key, amount, balance_before, balance_after, payment_id, detail, created_at, resolved_at`

// PostgresStore keeps the journal in PostgreSQL.
type PostgresStore struct {
	db     *sqlx.DB
	tracer trace.Tracer
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db:     db,
		tracer: otel.Tracer("memberdesk/internal/journal"),
	}
}

// OpenPostgres connects with lib/pq and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the journal table and its indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create journal schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, e Entry) (Entry, error) {
	e = stamp(e)
	ctx, span := s.tracer.Start(ctx, "journal.append",
		trace.WithAttributes(
			attribute.String("entry.id", e.ID.String()),
			attribute.String("entry.type", string(e.Type)),
			attribute.Int64("member.id", e.MemberID),
		),
	)
	defer span.End()

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO ledger_journal (id, member_id, entry_type, month_key, amount, balance_before, balance_after, payment_id, detail, created_at, resolved_at)
		VALUES (:id, :member_id, :entry_type, :month_key, :amount, :balance_before, :balance_after, :payment_id, :detail, :created_at, :resolved_at)
	`, e)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return Entry{}, fmt.Errorf("append %s: %w", e.ID, ErrDuplicateEntry)
		}
		span.RecordError(err)
		return Entry{}, fmt.Errorf("insert journal entry: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ForMember(ctx context.Context, memberID int64, limit int) ([]Entry, error) {
	ctx, span := s.tracer.Start(ctx, "journal.for_member",
		trace.WithAttributes(attribute.Int64("member.id", memberID), attribute.Int("limit", limit)),
	)
	defer span.End()

	query := `SELECT ` + selectColumns + ` FROM ledger_journal WHERE member_id = $1 ORDER BY created_at DESC, id`
	args := []interface{}{memberID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var entries []Entry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("query member journal: %w", err)
	}
	span.SetAttributes(attribute.Int("entries.loaded", len(entries)))
	return entries, nil
}

func (s *PostgresStore) Unreconciled(ctx context.Context) ([]Entry, error) {
	ctx, span := s.tracer.Start(ctx, "journal.unreconciled")
	defer span.End()

	var entries []Entry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT `+selectColumns+`
		FROM ledger_journal
		WHERE entry_type = $1 AND resolved_at IS NULL
		ORDER BY created_at ASC
	`, PaymentPartiallyApplied)
	if err != nil {
		return nil, fmt.Errorf("query unreconciled entries: %w", err)
	}
	span.SetAttributes(attribute.Int("entries.open", len(entries)))
	return entries, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, span := s.tracer.Start(ctx, "journal.resolve",
		trace.WithAttributes(attribute.String("entry.id", id.String())),
	)
	defer span.End()

	var entryType EntryType
	err := s.db.GetContext(ctx, &entryType, `SELECT entry_type FROM ledger_journal WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("resolve %s: %w", id, ErrEntryNotFound)
	}
	if err != nil {
		return fmt.Errorf("query journal entry: %w", err)
	}
	if entryType != PaymentPartiallyApplied {
		return fmt.Errorf("resolve %s: %w", id, ErrNotResolvable)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE ledger_journal SET resolved_at = $2 WHERE id = $1 AND resolved_at IS NULL
	`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("resolve journal entry: %w", err)
	}
	return nil
}
