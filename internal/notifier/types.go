package notifier

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Config controls alert delivery.
type Config struct {
	Enabled     bool
	ChatID      int64
	ThreadID    int
	RatePerSec  int
	QueueSize   int
	RetryMax    int
	DedupWindow time.Duration
}

// Sender posts one text message.
type Sender interface {
	SendText(ctx context.Context, chatID int64, threadID int, text string) error
}

type HistoryItem struct {
	At    time.Time `json:"at"`
	Text  string    `json:"text"`
	Error string    `json:"error,omitempty"`
}
