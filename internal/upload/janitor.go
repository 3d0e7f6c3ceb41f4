package upload

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper removes expired sessions. *Engine satisfies it.
type Sweeper interface {
	CleanupExpiredSessions(ctx context.Context) (int, error)
}

// StartJanitor runs s.CleanupExpiredSessions every interval until ctx is done
// or the returned stop func is called. A non-positive interval disables it.
// stop waits for an in-flight sweep to return.
func StartJanitor(ctx context.Context, s Sweeper, interval time.Duration, log logrus.FieldLogger) func() {
	if interval <= 0 {
		return func() {}
	}

	log = log.WithField("component", "janitor")
	ctx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				// the sweeper logs what it removed
				if _, err := s.CleanupExpiredSessions(ctx); err != nil {
					log.WithError(err).Warn("expired session sweep failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	log.WithField("interval", interval.String()).Info("janitor started")

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
