package signal

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultOperationSinkCapacity is the per-request sink bound (spec §3).
	DefaultOperationSinkCapacity = 1000
	// DefaultGlobalSinkCapacity is the process-scoped sink bound (spec §3).
	DefaultGlobalSinkCapacity = 100_000
	// DefaultGlobalSinkTTL is the process-scoped sink's absolute retention.
	DefaultGlobalSinkTTL = 24 * time.Hour
)

// GlobalSink is the process-scoped sink every operation summary and
// aberration signal is published to. It is a singleton per process:
// exactly one instance backs the signature coordinator and cluster
// engine, per spec §9 "Global mutable state... explicit process-scoped
// services with documented init/teardown and no hidden singletons".
type GlobalSink struct {
	*Sink
	ttl      time.Duration
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewGlobalSink constructs the process-scoped sink and starts its TTL
// sweep goroutine. Callers must call Close on shutdown.
func NewGlobalSink(capacity int, ttl time.Duration) *GlobalSink {
	if capacity <= 0 {
		capacity = DefaultGlobalSinkCapacity
	}
	if ttl <= 0 {
		ttl = DefaultGlobalSinkTTL
	}
	g := &GlobalSink{
		Sink: NewSink(capacity),
		ttl:  ttl,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go g.sweepLoop()
	return g
}

func (g *GlobalSink) sweepLoop() {
	defer close(g.done)
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-g.ttl)
			if removed := g.SweepOlderThan(cutoff); removed > 0 {
				log.Debug().Int("removed", removed).Msg("global sink ttl sweep")
			}
		}
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (g *GlobalSink) Close() {
	g.stopOnce.Do(func() { close(g.stop) })
	<-g.done
}
