package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"bridge/apps/bridge/internal/model"
)

// OutboxRepository stages lifecycle events for Kafka delivery.
type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

// Record stages one event. payload is marshalled to the JSONB column.
func (r *OutboxRepository) Record(aggregateID, eventType string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO event_outbox (event_id, aggregate_id, event_type, status, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New().String(), aggregateID, eventType, model.OutboxStatusUnsent, blob)
	if err != nil {
		return fmt.Errorf("failed to store outbox event: %w", err)
	}

	r.logger.Info("Stored event", zap.String("event_type", eventType), zap.String("aggregate_id", aggregateID))
	return nil
}

// GetUnsentEventsForProcessing claims a batch of unsent events. The
// SELECT ... FOR UPDATE SKIP LOCKED plus the status flip keeps two
// publisher instances from delivering the same event.
func (r *OutboxRepository) GetUnsentEventsForProcessing(limit int) ([]model.OutboxEvent, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	rows, err := tx.Query(`
		SELECT event_id, aggregate_id, event_type, status, payload, created_at
		FROM event_outbox
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, model.OutboxStatusUnsent, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.AggregateID, &event.EventType,
			&event.Status, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	rows.Close()

	for _, event := range events {
		_, err = tx.Exec(`
			UPDATE event_outbox
			SET status = $1
			WHERE event_id = $2 AND status = $3
		`, model.OutboxStatusProcessing, event.EventID, model.OutboxStatusUnsent)
		if err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return events, nil
}

func (r *OutboxRepository) MarkEventAsSent(eventID string) error {
	_, err := r.db.Exec(`
		UPDATE event_outbox
		SET status = $1
		WHERE event_id = $2
	`, model.OutboxStatusSent, eventID)
	return err
}

// MarkEventAsFailed returns the event to unsent for retry.
func (r *OutboxRepository) MarkEventAsFailed(eventID string) error {
	_, err := r.db.Exec(`
		UPDATE event_outbox
		SET status = $1
		WHERE event_id = $2 AND status = $3
	`, model.OutboxStatusUnsent, eventID, model.OutboxStatusProcessing)
	return err
}

// PruneSent deletes delivered events older than the retention horizon.
func (r *OutboxRepository) PruneSent(olderThan time.Time) (int64, error) {
	result, err := r.db.Exec(`
		DELETE FROM event_outbox
		WHERE status = $1 AND created_at < $2
	`, model.OutboxStatusSent, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune outbox: %w", err)
	}
	return result.RowsAffected()
}
