package probe

import (
	"context"
	"time"

	"linkmon/internal/models"
	"linkmon/internal/track"
)

// Prober performs one connectivity attempt cycle for a single link. A prober
// may hold a connection open between cycles; Close releases it.
type Prober interface {
	Link() models.Link
	Cycle(ctx context.Context) error
	Close()
}

// Runner drives one prober forever on a fixed cadence and reports every
// outcome to the state table. There is no backoff: a failed cycle waits the
// fixed retry delay and tries again. Runners are fully independent of each
// other.
type Runner struct {
	prober   Prober
	table    *track.Table
	interval time.Duration
	retry    time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRunner wires a prober to the table. interval is the delay after a
// successful cycle, retry the delay after a failed one.
func NewRunner(p Prober, table *track.Table, interval, retry time.Duration) *Runner {
	if interval <= 0 {
		interval = time.Second
	}
	if retry <= 0 {
		retry = interval
	}
	return &Runner{
		prober:   p,
		table:    table,
		interval: interval,
		retry:    retry,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the probe loop in a goroutine.
func (r *Runner) Start() {
	r.table.Register(r.prober.Link())
	go r.run()
}

// Stop requests loop termination and waits until it is done.
func (r *Runner) Stop() {
	select {
	case <-r.doneCh:
		return
	default:
	}
	close(r.stopCh)
	<-r.doneCh
}

func (r *Runner) run() {
	defer close(r.doneCh)
	defer r.prober.Close()

	link := r.prober.Link()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stopCh
		cancel()
	}()

	for {
		delay := r.interval
		if err := r.prober.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.table.ReportFailure(link, err)
			delay = r.retry
		} else {
			r.table.ReportSuccess(link)
		}

		select {
		case <-time.After(delay):
		case <-r.stopCh:
			return
		}
	}
}
