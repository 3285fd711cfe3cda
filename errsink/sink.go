// Package errsink is the process-wide observability channel of §4.9: a
// place FatalSink bulk-item errors, indexers restarted after an
// index-closed run, and failed watcher alias switches are reported to.
// It never blocks the caller -- a report
// is a non-blocking channel send into a bounded buffer, consumed by one
// background goroutine that logs structured fields and, when a DSN is
// configured, forwards to Sentry, mirroring the teacher's
// internal.HandleError/FlushError split between "record this" and
// "make sure it's flushed before exit".
package errsink

import (
	"sync/atomic"
	"time"

	sentry "github.com/getsentry/sentry-go"

	"github.com/nanaya/osu-elastic-indexer/x"
)

var log = x.Log("errsink")

// defaultBuffer is the bounded channel depth past which new reports
// start dropping the oldest unreported one.
const defaultBuffer = 256

// report is one error observation queued for the background consumer.
type report struct {
	err    error
	fields map[string]interface{}
}

// Sink is a bounded, non-blocking error-reporting channel. The zero
// value is not usable; construct with New.
type Sink struct {
	ch      chan report
	done    chan struct{}
	dropped int64 // atomic
	sentry  bool

	// OnReport, if set, is invoked by the background consumer after each
	// report is logged (and forwarded to Sentry, if enabled) -- a testing
	// hook for asserting a report actually reached the sink, mirroring
	// dispatch.Dispatcher's OnBatchCompleted.
	OnReport func(err error, fields map[string]interface{})
}

// New starts a Sink. dsn enables Sentry forwarding when non-empty,
// matching the teacher's SENTRY_DSN-gated initErrorHandler; an empty dsn
// degrades to logging only.
func New(dsn string) (*Sink, error) {
	s := &Sink{
		ch:   make(chan report, defaultBuffer),
		done: make(chan struct{}),
	}
	if dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: dsn}); err != nil {
			return nil, x.Wrap(err, "initializing sentry")
		}
		s.sentry = true
	}
	go s.run()
	return s, nil
}

// Report queues err for logging (and optional Sentry forwarding) without
// blocking the caller. A full buffer drops the oldest queued report and
// counts the drop, per §4.9.
func (s *Sink) Report(err error, fields map[string]interface{}) {
	if err == nil {
		return
	}
	r := report{err: err, fields: fields}
	select {
	case s.ch <- r:
		return
	default:
	}
	// Buffer full: drop the oldest to make room, counting the drop.
	select {
	case <-s.ch:
		atomic.AddInt64(&s.dropped, 1)
	default:
	}
	select {
	case s.ch <- r:
	default:
		atomic.AddInt64(&s.dropped, 1)
	}
}

// Dropped returns the number of reports discarded so far because the
// buffer was full.
func (s *Sink) Dropped() int64 {
	return atomic.LoadInt64(&s.dropped)
}

func (s *Sink) run() {
	defer close(s.done)
	for r := range s.ch {
		entry := x.LogErr(log, r.err)
		for k, v := range r.fields {
			entry = entry.WithField(k, v)
		}
		if s.sentry {
			eventID := sentry.CaptureException(r.err)
			if eventID != nil {
				entry = entry.WithField("sentry_event_id", *eventID)
			}
		}
		entry.Error("reported error")
		if s.OnReport != nil {
			s.OnReport(r.err, r.fields)
		}
	}
}

// Close stops accepting reports and waits for the queue to drain, then
// flushes any pending Sentry transport, matching the teacher's
// FlushError call on shutdown.
func (s *Sink) Close() {
	close(s.ch)
	<-s.done
	if s.sentry {
		sentry.Flush(2 * time.Second)
	}
}
