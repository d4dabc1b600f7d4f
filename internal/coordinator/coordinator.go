// Package coordinator implements the process-scoped SignatureCoordinator:
// a cross-request, per-signature sliding-window engine with keyed-
// sequential updates and aberration detection (spec §4.7).
package coordinator

import (
	"runtime"
	"sync"
	"time"

	rendezvous "github.com/dgryski/go-rendezvous"
	"github.com/rs/zerolog/log"

	"github.com/northboundlabs/botshield/internal/monitoring"
)

// AberrationSignal is one entry in the coordinator's aberration stream
// (spec §4.7 `AberrationSignals()`).
type AberrationSignal struct {
	Signature string
	Score     float64
	Reason    string
}

// Config carries the coordinator's tunables (mirrors config.CoordinatorConfig
// field-for-field so callers can pass it through directly).
type Config struct {
	MaxSignaturesInWindow             int
	SignatureWindow                   time.Duration
	SignatureTtl                      time.Duration
	MaxRequestsPerSignature           int
	AberrationScoreThreshold          float64
	MinRequestsForAberrationDetection int
}

// SignatureCoordinator is the process-scoped singleton tracking per-
// signature behavior across requests. Construct exactly one per process
// (spec §9 "explicit process-scoped services with documented init/
// teardown and no hidden singletons").
type SignatureCoordinator struct {
	cfg     Config
	cache   *slidingCache
	metrics *monitoring.MetricsCollector

	numShards  int
	hasher     *rendezvous.Rendezvous
	shardIndex map[string]int
	shards     []*shardQueue
	wg         sync.WaitGroup

	aberrations chan AberrationSignal
	closeOnce   sync.Once
	done        chan struct{}
}

type jobEntry struct {
	signature string
	summary   OperationSummary
}

const shardQueueCapacity = 256
const backpressureWait = 5 * time.Millisecond
const backpressurePoll = 200 * time.Microsecond

// shardQueue is a bounded, mutex-guarded FIFO for one shard. It is not a
// plain channel because RecordAsync's drop-oldest-for-key backpressure path
// (spec §5/§7) needs to scan and remove a specific queued entry, which a
// channel's opaque buffer doesn't allow.
type shardQueue struct {
	mu       sync.Mutex
	items    []jobEntry
	capacity int
	wake     chan struct{}
}

func newShardQueue(capacity int) *shardQueue {
	return &shardQueue{
		items:    make([]jobEntry, 0, capacity),
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

func (q *shardQueue) tryPush(job jobEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, job)
	return true
}

// evictOldestForSignatureAndPush drops the oldest queued entry for job's
// signature to make room, then appends job. If nothing queued shares job's
// signature, it falls back to dropping the oldest entry overall so the
// queue never grows past capacity. Returns the signature that was evicted,
// or "" if the queue had a free slot after all.
func (q *shardQueue) evictOldestForSignatureAndPush(job jobEntry) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) < q.capacity {
		q.items = append(q.items, job)
		return ""
	}

	for i, it := range q.items {
		if it.signature == job.signature {
			rest := make([]jobEntry, 0, len(q.items))
			rest = append(rest, q.items[:i]...)
			rest = append(rest, q.items[i+1:]...)
			rest = append(rest, job)
			q.items = rest
			return it.signature
		}
	}

	evicted := q.items[0].signature
	rest := make([]jobEntry, 0, len(q.items))
	rest = append(rest, q.items[1:]...)
	rest = append(rest, job)
	q.items = rest
	return evicted
}

func (q *shardQueue) drain() []jobEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = make([]jobEntry, 0, q.capacity)
	return out
}

func (q *shardQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// New builds a coordinator and starts its worker shards. Close stops them.
func New(cfg Config, metrics *monitoring.MetricsCollector) *SignatureCoordinator {
	numShards := 2 * runtime.GOMAXPROCS(0)
	if numShards < 2 {
		numShards = 2
	}
	names := make([]string, numShards)
	index := make(map[string]int, numShards)
	for i := range names {
		names[i] = shardName(i)
		index[names[i]] = i
	}

	c := &SignatureCoordinator{
		cfg:         cfg,
		cache:       newSlidingCache(cfg.MaxSignaturesInWindow, cfg.SignatureTtl, nil),
		metrics:     metrics,
		numShards:   numShards,
		hasher:      rendezvous.New(names, rendezvousHash),
		shardIndex:  index,
		shards:      make([]*shardQueue, numShards),
		aberrations: make(chan AberrationSignal, 256),
		done:        make(chan struct{}),
	}
	for i := 0; i < numShards; i++ {
		c.shards[i] = newShardQueue(shardQueueCapacity)
		c.wg.Add(1)
		go c.runShard(c.shards[i])
	}
	return c
}

func shardName(i int) string { return "shard-" + itoa(i) }

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	return string(buf[pos:])
}

func rendezvousHash(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// RecordAsync enqueues an update keyed by signature. Updates for the same
// signature are processed strictly serially by the shard rendezvous-hashed
// to that signature; different signatures run in parallel across shards.
// A full shard queue is given a bounded wait of up to 5ms to drain; if it's
// still full after that, the oldest queued entry for the same signature is
// evicted to make room for the new one (spec §5/§7 drop-oldest-for-key).
func (c *SignatureCoordinator) RecordAsync(summary OperationSummary) {
	shardName := c.hasher.Get(summary.Signature)
	idx := c.shardIndex[shardName]
	queue := c.shards[idx]
	job := jobEntry{signature: summary.Signature, summary: summary}

	deadline := time.Now().Add(backpressureWait)
	for {
		if queue.tryPush(job) {
			queue.notify()
			return
		}
		if time.Now().After(deadline) {
			break
		}
		time.Sleep(backpressurePoll)
	}

	evictedSignature := queue.evictOldestForSignatureAndPush(job)
	queue.notify()
	log.Warn().Str("signature", summary.Signature).Str("evicted_signature", evictedSignature).
		Msg("coordinator backpressure, oldest-for-key entry evicted")
	if c.metrics != nil {
		c.metrics.RecordCoordinatorBackpressure()
	}
}

func (c *SignatureCoordinator) runShard(queue *shardQueue) {
	defer c.wg.Done()
	for {
		for _, job := range queue.drain() {
			c.process(job)
		}
		select {
		case <-queue.wake:
		case <-c.done:
			for _, job := range queue.drain() {
				c.process(job)
			}
			return
		}
	}
}

func (c *SignatureCoordinator) process(job jobEntry) {
	atom := c.cache.GetOrCreate(job.signature, func() *Atom {
		return NewAtom(c.cfg.SignatureWindow, c.cfg.MaxRequestsPerSignature, c.cfg.AberrationScoreThreshold, c.cfg.MinRequestsForAberrationDetection)
	})
	justTurnedAberrant := atom.Append(job.summary)
	if justTurnedAberrant {
		snap := atom.Snapshot()
		sig := AberrationSignal{Signature: job.signature, Score: snap.AberrationScore, Reason: "behavior window crossed aberration threshold"}
		select {
		case c.aberrations <- sig:
		default:
		}
		if c.metrics != nil {
			c.metrics.RecordAberration()
		}
	}
}

// Query returns the current behavior snapshot for a signature, O(1).
func (c *SignatureCoordinator) Query(signature string) (Snapshot, bool) {
	atom, ok := c.cache.Get(signature)
	if !ok {
		return Snapshot{}, false
	}
	return atom.Snapshot(), true
}

// AberrationSignals returns the channel aberration events are published
// on. Callers should drain it continuously; it is buffered and drops
// events if the buffer fills rather than blocking workers.
func (c *SignatureCoordinator) AberrationSignals() <-chan AberrationSignal {
	return c.aberrations
}

// Stats reports the coordinator's admin/observability surface (spec §6
// "Stats() convention").
func (c *SignatureCoordinator) Stats() map[string]any {
	return map[string]any{
		"active_signatures": c.cache.Len(),
		"shards":            c.numShards,
	}
}

// Close stops all worker shards and waits for them to drain.
func (c *SignatureCoordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
		close(c.aberrations)
	})
}
