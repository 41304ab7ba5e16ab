package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicore/clinic-ops/pkg/logging"
)

// OutboxEntry represents a pending event.
type OutboxEntry struct {
	ID        uuid.UUID
	Kind      Kind
	Payload   json.RawMessage
	Attempts  int32
	CreatedAt time.Time
}

// DeliveryHandler consumes committed events.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Execer is the slice of a transaction the outbox needs; pgx.Tx satisfies
// it, as do the repository querier interfaces of the business packages.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// OutboxStore persists events for reliable post-commit delivery. Business
// services insert through InsertTx so the event shares the operation's
// transaction and can never outlive a rollback.
type OutboxStore struct {
	db db
}

func NewOutboxStore(db db) *OutboxStore {
	if db == nil {
		panic("events: db required")
	}
	return &OutboxStore{db: db}
}

// InsertTx queues an event inside the caller's transaction.
func (s *OutboxStore) InsertTx(ctx context.Context, tx Execer, kind Kind, payload any) (uuid.UUID, error) {
	if !kind.Valid() {
		return uuid.Nil, fmt.Errorf("events: unknown kind %q", kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	id := uuid.New()
	query := `
		INSERT INTO outbox (id, kind, payload)
		VALUES ($1, $2, $3)
	`
	if _, err := tx.Exec(ctx, query, id, string(kind), data); err != nil {
		return uuid.Nil, fmt.Errorf("events: insert outbox: %w", err)
	}
	return id, nil
}

func (s *OutboxStore) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	query := `
		SELECT id, kind, payload, attempts, created_at
		FROM outbox
		WHERE delivered_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var kind string
		var payload []byte
		if err := rows.Scan(&entry.ID, &kind, &payload, &entry.Attempts, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Kind = Kind(kind)
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE outbox
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkFailed bumps the attempt counter; the entry stays pending for retry.
func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE outbox
		SET attempts = attempts + 1
		WHERE id = $1 AND delivered_at IS NULL
	`
	if _, err := s.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("events: mark failed: %w", err)
	}
	return nil
}

// Deliverer polls the outbox and invokes the handler. It runs strictly
// outside any business transaction, so delivery problems cannot reach the
// caller of the triggering operation.
type Deliverer struct {
	store     *OutboxStore
	handler   DeliveryHandler
	logger    *logging.Logger
	batchSize int32
	interval  time.Duration
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:     store,
		handler:   handler,
		logger:    logger,
		batchSize: 25,
		interval:  2 * time.Second,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain processes one batch of pending entries. Exposed so tests and the
// shutdown path can flush without the ticker.
func (d *Deliverer) Drain(ctx context.Context) {
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return
	}
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.logger.Error("outbox delivery failed",
				"event_id", entry.ID,
				"kind", entry.Kind,
				"attempts", entry.Attempts,
				"error", err,
			)
			if markErr := d.store.MarkFailed(ctx, entry.ID); markErr != nil {
				d.logger.Error("outbox mark failed errored", "event_id", entry.ID, "error", markErr)
			}
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			d.logger.Error("outbox mark delivered errored", "event_id", entry.ID, "error", err)
			continue
		}
		if !ok {
			d.logger.Warn("outbox entry already delivered", "event_id", entry.ID)
		}
	}
}
