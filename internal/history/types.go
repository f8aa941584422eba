package history

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

var ErrClosed = errors.New("history store closed")

// Record is one transfer outcome.
type Record struct {
	Link     string
	Started  time.Time
	Duration time.Duration
	OK       bool
	Err      string
}

// Store persists transfer records.
type Store interface {
	Append(ctx context.Context, r Record) error
	// Recent returns up to n records, newest first. An empty link matches all links.
	Recent(ctx context.Context, link string, n int) ([]Record, error)
	// Prune drops records that started before cutoff and reports how many.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// Config selects and tunes the backend.
//
// Driver values: "none" or empty (disabled), "memory", "sqlite".
type Config struct {
	Driver      string
	Path        string
	Size        int           // memory only; 0 means 1000
	Retention   time.Duration // 0 keeps everything
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}
