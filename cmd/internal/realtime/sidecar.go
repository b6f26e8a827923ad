package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type sideJob struct {
	name string
	fn   func(ctx context.Context) error
}

// sidecar runs hub side effects (mirror writes, announcements) off the hub loop.
// Jobs run one at a time in submission order. A full queue drops the job.
type sidecar struct {
	log     *slog.Logger
	metrics Metrics
	timeout time.Duration

	jobs chan sideJob
	quit chan struct{}
	wg   sync.WaitGroup

	stopOnce sync.Once
}

func newSidecar(log *slog.Logger, m Metrics, queue int, timeout time.Duration) *sidecar {
	s := &sidecar{
		log:     log,
		metrics: m,
		timeout: timeout,
		jobs:    make(chan sideJob, queue),
		quit:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *sidecar) submit(name string, fn func(ctx context.Context) error) bool {
	select {
	case <-s.quit:
		return false
	default:
	}

	select {
	case s.jobs <- sideJob{name: name, fn: fn}:
		return true
	default:
		s.metrics.SideEffectDropped(name)
		s.log.Warn("presence.sidecar.drop", "job", name, "queue", cap(s.jobs))
		return false
	}
}

func (s *sidecar) run() {
	defer s.wg.Done()
	for {
		select {
		case j := <-s.jobs:
			s.exec(j)
		case <-s.quit:
			// Drain whatever was accepted before stop.
			for {
				select {
				case j := <-s.jobs:
					s.exec(j)
				default:
					return
				}
			}
		}
	}
}

func (s *sidecar) exec(j sideJob) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := j.fn(ctx); err != nil {
		s.metrics.SideEffectFailed(j.name)
		s.log.Warn("presence.sidecar.fail", "job", j.name, "err", err)
	}
}

// stop refuses new jobs, drains the queue and waits for the worker, bounded by ctx.
func (s *sidecar) stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.quit) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
