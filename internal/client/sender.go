package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"mechat/internal/models"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultSendRetries    = 3
	DefaultSendRetryDelay = 2 * time.Second
)

// ErrSendFailed wraps the last error once every retry has been used.
var ErrSendFailed = errors.New("message could not be sent")

// Poster persists a message on the server.
type Poster interface {
	SendMessage(ctx context.Context, chatID, body string) (models.Message, error)
}

// Sender posts messages with a bounded, fixed-delay retry. Client errors
// other than 429 are not retried.
type Sender struct {
	poster  Poster
	retries uint
	delay   time.Duration

	// retries used by the send in progress, zero when idle
	retryCount atomic.Int64
}

func NewSender(poster Poster, retries int, delay time.Duration) *Sender {
	if retries <= 0 {
		retries = DefaultSendRetries
	}
	if delay <= 0 {
		delay = DefaultSendRetryDelay
	}
	return &Sender{poster: poster, retries: uint(retries), delay: delay}
}

func (s *Sender) RetryCount() int {
	return int(s.retryCount.Load())
}

func (s *Sender) Send(ctx context.Context, chatID, body string) (models.Message, error) {
	s.retryCount.Store(0)

	op := func() (models.Message, error) {
		m, err := s.poster.SendMessage(ctx, chatID, body)
		if err == nil {
			return m, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return models.Message{}, backoff.Permanent(err)
		}
		return models.Message{}, err
	}

	m, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.delay)),
		backoff.WithMaxTries(s.retries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			n := s.retryCount.Add(1)
			slog.Warn("send failed, retrying", "chat_id", chatID, "retry", n, "in", next, "error", err)
		}),
	)
	s.retryCount.Store(0)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return m, nil
}
