// Package fanout delivers scoped events to connected subscribers.
package fanout

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"livesession/internal/clock"
	"livesession/pkg/interfaces"
	"livesession/pkg/types"
)

// Config sizes the dispatcher
type Config struct {
	Shards    int
	QueueSize int
}

// DefaultConfig returns the dispatcher sizing used in production
func DefaultConfig() Config {
	return Config{Shards: 8, QueueSize: 1024}
}

// Dispatcher fans events out to the subscribers of a scope
// ARCHITECTURAL DISCOVERY: Each scope hashes to exactly one shard and each shard
// has one worker, so events on the same scope are delivered in emission order
// while different scopes proceed in parallel
type Dispatcher struct {
	directory interfaces.Directory
	clock     clock.Clock
	shards    []*shard

	running  bool
	shutdown chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex

	emitted   atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

type shard struct {
	mu    sync.Mutex
	seqs  map[string]uint64
	queue chan *delivery
}

type delivery struct {
	event   *types.Event
	exclude []string
}

// NewDispatcher creates a dispatcher resolving recipients through directory
func NewDispatcher(directory interfaces.Directory, cfg Config, c clock.Clock) *Dispatcher {
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultConfig().Shards
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if c == nil {
		c = clock.Real()
	}

	d := &Dispatcher{
		directory: directory,
		clock:     c,
		shards:    make([]*shard, cfg.Shards),
		shutdown:  make(chan struct{}),
	}
	for i := range d.shards {
		d.shards[i] = &shard{
			seqs:  make(map[string]uint64),
			queue: make(chan *delivery, cfg.QueueSize),
		}
	}
	return d
}

// Start launches one worker per shard
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrDispatcherAlreadyRunning
	}
	d.running = true

	slog.Info("Starting fan-out dispatcher", "shards", len(d.shards))
	for _, s := range d.shards {
		d.wg.Add(1)
		go d.run(ctx, s)
	}
	return nil
}

// Stop signals the workers and waits for them to exit
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return ErrDispatcherNotRunning
	}
	d.running = false
	close(d.shutdown)
	d.mu.Unlock()

	d.wg.Wait()
	slog.Info("Fan-out dispatcher stopped")
	return nil
}

// Broadcast stamps the event and queues it on the scope's shard
// FUNCTIONAL DISCOVERY: Never blocks. A full shard is reported to the caller
// who logs it; delivery failures past this point are only counted
func (d *Dispatcher) Broadcast(scope types.Scope, eventType string, payload interface{}, exclude ...string) (*types.Event, error) {
	if eventType == "" {
		return nil, ErrMissingEventType
	}
	if !validScope(scope) {
		return nil, ErrInvalidScope
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return nil, ErrDispatcherNotRunning
	}

	key := scope.Key()
	s := d.shardFor(key)

	// TECHNICAL DISCOVERY: Sequence assignment and enqueue share one critical
	// section so queue order always matches sequence order
	s.mu.Lock()
	defer s.mu.Unlock()

	event := &types.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Scope:     scope,
		Seq:       s.seqs[key] + 1,
		Timestamp: d.clock.Now().UTC(),
		Payload:   payload,
	}

	select {
	case s.queue <- &delivery{event: event, exclude: exclude}:
		s.seqs[key] = event.Seq
		d.emitted.Add(1)
		return event, nil
	default:
		return nil, ErrQueueFull
	}
}

// GetStats returns delivery counters for health reporting
func (d *Dispatcher) GetStats() map[string]uint64 {
	return map[string]uint64{
		"emitted":   d.emitted.Load(),
		"delivered": d.delivered.Load(),
		"dropped":   d.dropped.Load(),
	}
}

func (d *Dispatcher) run(ctx context.Context, s *shard) {
	defer d.wg.Done()
	for {
		select {
		case item := <-s.queue:
			d.deliver(item)
		case <-d.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// deliver resolves recipients at delivery time; subscribers that connect later
// never see the event
func (d *Dispatcher) deliver(item *delivery) {
	event := item.event
	for _, sub := range d.recipients(event.Scope) {
		if excluded(sub.GetUserID(), item.exclude) {
			continue
		}
		if err := sub.Send(event); err != nil {
			d.dropped.Add(1)
			slog.Warn("Event delivery failed",
				"event", event.Type,
				"scope", event.Scope.Key(),
				"user_id", sub.GetUserID(),
				"error", err)
			continue
		}
		d.delivered.Add(1)
	}
}

func (d *Dispatcher) recipients(scope types.Scope) []interfaces.Subscriber {
	if d.directory == nil {
		return nil
	}
	switch scope.Kind {
	case types.ScopeSession:
		return d.directory.SessionSubscribers(scope.SessionID)
	case types.ScopePersonal:
		return d.directory.PersonalSubscribers(scope.Identity)
	case types.ScopeTopicWaitingRoom:
		return d.directory.TopicSubscribers(scope.SessionID, scope.TopicID)
	default:
		return nil
	}
}

func (d *Dispatcher) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return d.shards[h.Sum32()%uint32(len(d.shards))]
}

func validScope(scope types.Scope) bool {
	switch scope.Kind {
	case types.ScopeSession:
		return scope.SessionID != ""
	case types.ScopePersonal:
		return scope.Identity != ""
	case types.ScopeTopicWaitingRoom:
		return scope.SessionID != "" && scope.TopicID != ""
	default:
		return false
	}
}

func excluded(userID string, exclude []string) bool {
	for _, id := range exclude {
		if id == userID {
			return true
		}
	}
	return false
}
