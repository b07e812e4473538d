package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dvegas03/MechAI/pkg/detection"
	"github.com/dvegas03/MechAI/pkg/procedure"
)

// DefaultChannel is the pub/sub channel events are published on.
const DefaultChannel = "mechai:events"

// Event types published by Redis.
const (
	EventState      = "state"
	EventStep       = "step"
	EventTranscript = "transcript"
	EventPartial    = "partial"
	EventDetections = "detections"
	EventHighlight  = "highlight"
	EventCompleted  = "completed"
)

// Event is the JSON payload published for every sink call.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

// Publisher is the subset of *redis.Client used by Redis.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisConfig configures the Redis sink.
type RedisConfig struct {
	Channel        string
	QueueSize      int
	PublishTimeout time.Duration
}

// DefaultRedisConfig returns the default configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Channel:        DefaultChannel,
		QueueSize:      256,
		PublishTimeout: 2 * time.Second,
	}
}

// Redis publishes events to a Redis channel from a background goroutine.
// When the queue is full new events are dropped.
type Redis struct {
	pub    Publisher
	cfg    RedisConfig
	logger *slog.Logger

	queue   chan Event
	quit    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	sent    atomic.Uint64
}

var _ Sink = (*Redis)(nil)

// NewRedis creates a Redis sink. Call Run to start publishing.
func NewRedis(pub Publisher, cfg RedisConfig, logger *slog.Logger) *Redis {
	d := DefaultRedisConfig()
	if cfg.Channel == "" {
		cfg.Channel = d.Channel
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = d.QueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = d.PublishTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		pub:    pub,
		cfg:    cfg,
		logger: logger.With("component", "sink.redis", "channel", cfg.Channel),
		queue:  make(chan Event, cfg.QueueSize),
		quit:   make(chan struct{}),
	}
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("sink: redis ping %s: %w", addr, err)
	}
	return client, nil
}

// Run publishes queued events until ctx is done or Close is called.
func (r *Redis) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.quit:
			return
		case ev := <-r.queue:
			r.publish(ctx, ev)
		}
	}
}

func (r *Redis) publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.Warn("encode event", "type", ev.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()
	if err := r.pub.Publish(ctx, r.cfg.Channel, payload).Err(); err != nil {
		r.logger.Warn("publish event", "type", ev.Type, "error", err)
		return
	}
	r.sent.Add(1)
}

// Close stops Run. Queued events are discarded.
func (r *Redis) Close() {
	r.once.Do(func() { close(r.quit) })
}

// Dropped returns the number of events dropped because the queue was full.
func (r *Redis) Dropped() uint64 { return r.dropped.Load() }

// Sent returns the number of events published.
func (r *Redis) Sent() uint64 { return r.sent.Load() }

func (r *Redis) enqueue(typ string, data any) {
	ev := Event{ID: uuid.NewString(), Type: typ, Data: data, Time: time.Now()}
	select {
	case r.queue <- ev:
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("event queue full, dropping")
		}
	}
}

func (r *Redis) StateChanged(old, new string) {
	r.enqueue(EventState, map[string]string{"old": old, "new": new})
}

func (r *Redis) StepChanged(step *procedure.StepContext) {
	if step == nil {
		r.enqueue(EventStep, nil)
		return
	}
	s := *step
	r.enqueue(EventStep, &s)
}

func (r *Redis) Transcript(role, text string) {
	r.enqueue(EventTranscript, map[string]string{"role": role, "text": text})
}

func (r *Redis) Partial(text string) {
	r.enqueue(EventPartial, map[string]string{"text": text})
}

func (r *Redis) Detections(set detection.Set) {
	r.enqueue(EventDetections, set.Clone())
}

func (r *Redis) Highlight(class string) {
	r.enqueue(EventHighlight, map[string]string{"class": class})
}

func (r *Redis) Completed() {
	r.enqueue(EventCompleted, nil)
}
