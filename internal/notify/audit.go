package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ActivityLog is the append-only audit sink backing
// scheduling.AuditSink.
type ActivityLog struct {
	db DB
}

func NewActivityLog(db DB) *ActivityLog {
	return &ActivityLog{db: db}
}

func (l *ActivityLog) RecordActivity(ctx context.Context, activityType, message string, appointmentID uuid.UUID) error {
	var apptID *uuid.UUID
	if appointmentID != uuid.Nil {
		apptID = &appointmentID
	}

	_, err := l.db.Exec(ctx, `
		INSERT INTO activity_logs (activity_type, message, appointment_id, created_at)
		VALUES ($1, $2, $3, now())
	`, activityType, message, apptID)
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}
