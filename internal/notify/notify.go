// internal/notify/notify.go

// Package notify delivers transient success and error messages to the
// dashboard operator.
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one user-visible message.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	Level     Level     `json:"type"`
	Message   string    `json:"message"`
	MemberID  int64     `json:"member_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Sink receives notifications.
type Sink interface {
	Publish(ctx context.Context, n Notification) error
}

// New builds a notification stamped now.
func New(level Level, memberID int64, message string) Notification {
	return Notification{
		ID:        uuid.New(),
		Level:     level,
		Message:   message,
		MemberID:  memberID,
		CreatedAt: time.Now().UTC(),
	}
}

// Success is shorthand for a success notification.
func Success(memberID int64, message string) Notification {
	return New(LevelSuccess, memberID, message)
}

// Error is shorthand for an error notification.
func Error(memberID int64, message string) Notification {
	return New(LevelError, memberID, message)
}

// Fanout publishes to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Publish(context.Context, Notification) error { return nil }
