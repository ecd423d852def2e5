package config

import (
	"context"
	"errors"

	"camrelay/internal/models"
)

// ErrNotFound reports that a channel has no upstream configuration.
var ErrNotFound = errors.New("channel config not found")

// ErrUnavailable reports that the configuration source could not be reached.
// Callers degrade to caller-supplied parameters or skip the cycle.
var ErrUnavailable = errors.New("config source unavailable")

// Repository is the read surface for channel and schedule configuration.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Channel returns the upstream configuration for one channel.
	Channel(ctx context.Context, channelID string) (models.ChannelConfig, error)

	// ScheduleEntries lists the full schedule set for one scheduler instance.
	ScheduleEntries(ctx context.Context, kind models.ScheduleKind) ([]models.ScheduleEntry, error)

	// Close releases any underlying connections.
	Close(ctx context.Context) error
}
