package queue

import (
	"context"
	"strings"
)

// Archive receives write-behind copies of task records and room messages.
// It is never the source of truth: the live store starts empty on every
// process start, and archive failures never fail a mutation.
type Archive interface {
	SaveTask(ctx context.Context, task Task) error
	SaveRoomMessage(ctx context.Context, msg RoomMessage) error
	ListTasks(ctx context.Context, limit int) ([]Task, error)
	Close() error
}

// NewArchive returns a postgres archive when a database URL is
// configured, nil otherwise.
func NewArchive(ctx context.Context, databaseURL string) (Archive, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	return NewPostgresArchive(ctx, databaseURL)
}
