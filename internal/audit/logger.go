package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// writeTimeout bounds each background audit write.
const writeTimeout = 10 * time.Second

// Inserter persists one audit entry.
type Inserter interface {
	Insert(ctx context.Context, e Entry) error
}

// Logger writes audit entries asynchronously. Log returns immediately and
// persistence failures are swallowed into the application log: the audit
// trail must never block or fail recommendation delivery.
type Logger struct {
	store  Inserter
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewLogger creates an async audit logger.
func NewLogger(store Inserter, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: store, logger: logger}
}

// Log dispatches one entry for background persistence and returns
// immediately. The entry is normalized first so the containment invariant
// holds regardless of what the generator reported.
func (l *Logger) Log(e Entry) {
	e.Normalize()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		if err := l.store.Insert(ctx, e); err != nil {
			l.logger.Warn("audit write failed",
				"recommendation", e.RecommendationID, "error", err)
		}
	}()
}

// Wait blocks until all dispatched writes have finished. Used at shutdown
// and in tests.
func (l *Logger) Wait() {
	l.wg.Wait()
}
