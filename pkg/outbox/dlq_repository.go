package outbox

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/escrowhub-backend/pkg/db/models"
	"github.com/angelmondragon/escrowhub-backend/pkg/enums"
)

// DLQRepository archives events the relay stopped retrying.
type DLQRepository struct{}

func NewDLQRepository() *DLQRepository {
	return &DLQRepository{}
}

// DeadLetter copies event into an archive row stamped with why it failed.
func DeadLetter(event models.OutboxEvent, reason enums.DeadLetterReason, cause error, at time.Time) models.OutboxDLQ {
	return models.OutboxDLQ{
		ID:            uuid.New(),
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  lastError(cause),
		AttemptCount:  event.AttemptCount,
		FailedAt:      at.UTC(),
	}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errTxRequired
	}
	if entry.EventID == uuid.Nil {
		return errors.New("dead letter requires an event id")
	}
	if !entry.ErrorReason.IsValid() {
		return fmt.Errorf("invalid dead letter reason %q", entry.ErrorReason)
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	return tx.Create(&entry).Error
}
