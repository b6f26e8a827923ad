package realtime

import "time"

// debouncer is a single cancellable timer: each schedule cancels and replaces
// the pending one. Its methods must run on the hub loop; fired callbacks are
// handed to post so they run on the loop too.
type debouncer struct {
	post  func(fn func())
	timer *time.Timer
	gen   uint64
}

func (d *debouncer) schedule(delay time.Duration, fn func()) {
	d.cancel()
	gen := d.gen
	d.timer = time.AfterFunc(delay, func() {
		d.post(func() {
			// A timer that was stopped too late still fires; the generation tells us.
			if d.gen != gen {
				return
			}
			d.timer = nil
			fn()
		})
	})
}

func (d *debouncer) cancel() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *debouncer) pending() bool { return d.timer != nil }
