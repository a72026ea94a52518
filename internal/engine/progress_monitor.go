package engine

import (
	"context"
	"time"

	"github.com/NamanBalaji/tfm/internal/logger"
)

// Watch samples the named job every interval and sends its summary on the
// returned channel. A slow reader misses samples rather than blocking the
// sampler. The channel is closed after the job stops running, when the job
// disappears or when ctx is done.
func (e *Engine) Watch(ctx context.Context, name string, interval time.Duration) <-chan Summary {
	if interval <= 0 {
		interval = time.Second
	}

	updates := make(chan Summary, 1)

	go e.monitorProgress(ctx, name, interval, updates)

	return updates
}

func (e *Engine) monitorProgress(ctx context.Context, name string, interval time.Duration, updates chan<- Summary) {
	defer close(updates)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		running := e.isRunning(name)

		st, err := e.GetStatus(name)
		if err != nil {
			logger.Debugf("Stopped watching job %s: %v", name, err)
			return
		}

		if !running {
			// Final state is delivered even to a slow reader.
			select {
			case updates <- st.Summary:
			case <-ctx.Done():
			}

			return
		}

		broadcastProgress(updates, st.Summary)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// broadcastProgress drops the sample while the previous one is unread.
func broadcastProgress(updates chan<- Summary, s Summary) {
	select {
	case updates <- s:
	default:
	}
}

func (e *Engine) isRunning(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.jobs[name]

	return ok
}
