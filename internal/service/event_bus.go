package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/codequest-api/internal/observability"
)

const eventBufferSize = 16

// Domain event types.
const (
	EventSubmissionCompleted = "submission.completed"
	EventSessionStarted      = "session.started"
	EventSessionHeartbeat    = "session.heartbeat"
	EventSessionProctoring   = "session.proctoring"
	EventSessionEnded        = "session.ended"
	EventSessionExpired      = "session.expired"
	EventTestPublished       = "test.published"
)

// DomainEvent is broadcast in-process and, when configured, to peer nodes
// through Redis pub/sub and NATS.
type DomainEvent struct {
	ID           string                 `json:"id"`
	Type         string                 `json:"type"`
	TestID       uint                   `json:"test_id,omitempty"`
	VendorID     uint                   `json:"vendor_id,omitempty"`
	UserID       uint                   `json:"user_id,omitempty"`
	SessionID    uint                   `json:"session_id,omitempty"`
	SubmissionID uint                   `json:"submission_id,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Source       string                 `json:"source"`
	OccurredAt   time.Time              `json:"occurred_at"`

	// Remote is set on events received from a peer node.
	Remote bool `json:"-"`
}

// EventHandler reacts to every event seen by the bus.
type EventHandler func(ctx context.Context, event DomainEvent)

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent)
}

// EventBus fans domain events out to local subscribers, registered handlers
// and peer nodes.
type EventBus interface {
	EventPublisher
	Subscribe(key string) (<-chan DomainEvent, func())
	Handle(handler EventHandler)
	Start(ctx context.Context)
}

type eventBus struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	tracer       trace.Tracer
	broker       *eventBroker
	nodeID       string
	now          func() time.Time

	handlersMu sync.RWMutex
	handlers   []EventHandler

	seenMu sync.Mutex
	seen   map[string]time.Time
}

type eventBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan DomainEvent]struct{}
}

// NewEventBus constructs the bus. Either transport may be nil.
func NewEventBus(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) EventBus {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".events"
	}

	return &eventBus{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "event_bus").Logger(),
		tracer:       otel.Tracer("github.com/noah-isme/codequest-api/internal/service/events"),
		broker:       &eventBroker{subscribers: make(map[string]map[chan DomainEvent]struct{})},
		nodeID:       uuid.NewString(),
		now:          time.Now,
		seen:         make(map[string]time.Time),
	}
}

// SessionKey is the subscription key for events about one session.
func SessionKey(sessionID uint) string {
	return fmt.Sprintf("session:%d", sessionID)
}

// TestKey is the subscription key for events about one test.
func TestKey(testID uint) string {
	return fmt.Sprintf("test:%d", testID)
}

func (b *eventBus) Start(ctx context.Context) {
	if b.redis != nil && b.redisChannel != "" {
		go b.consumeRedis(ctx)
	}
	if b.nats != nil && b.natsSubject != "" {
		go b.consumeNATS(ctx)
	}
}

func (b *eventBus) Handle(handler EventHandler) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers = append(b.handlers, handler)
}

func (b *eventBus) Publish(ctx context.Context, event DomainEvent) {
	ctx, span := b.tracer.Start(ctx, "events.publish", trace.WithAttributes(
		attribute.String("event.type", event.Type),
	))
	defer span.End()

	event.Source = b.nodeID
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = b.now().UTC()
	}

	observability.Events().WithLabelValues(event.Type, "local").Inc()
	b.dispatch(ctx, event)

	if err := b.forward(ctx, event); err != nil {
		span.RecordError(err)
		b.logger.Warn().Err(err).Str("type", event.Type).Msg("failed to forward event to peers")
	}
}

func (b *eventBus) Subscribe(key string) (<-chan DomainEvent, func()) {
	channel := make(chan DomainEvent, eventBufferSize)
	b.broker.subscribe(key, channel)

	var once sync.Once
	return channel, func() {
		once.Do(func() { b.broker.unsubscribe(key, channel) })
	}
}

func (b *eventBus) dispatch(ctx context.Context, event DomainEvent) {
	if event.SessionID != 0 {
		b.broker.broadcast(SessionKey(event.SessionID), event)
	}
	if event.TestID != 0 {
		b.broker.broadcast(TestKey(event.TestID), event)
	}

	b.handlersMu.RLock()
	handlers := append([]EventHandler(nil), b.handlers...)
	b.handlersMu.RUnlock()
	for _, handler := range handlers {
		handler(ctx, event)
	}
}

func (b *eventBus) forward(ctx context.Context, event DomainEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if b.redis != nil && b.redisChannel != "" {
		if err := b.redis.Publish(ctx, b.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if b.nats != nil && b.natsSubject != "" {
		if err := b.nats.Publish(b.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (b *eventBus) consumeRedis(ctx context.Context) {
	pubsub := b.redis.Subscribe(ctx, b.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			b.logger.Error().Err(err).Msg("event redis subscription closed")
			return
		}
		b.receive(ctx, []byte(msg.Payload), "redis")
	}
}

func (b *eventBus) consumeNATS(ctx context.Context) {
	sub, err := b.nats.Subscribe(b.natsSubject, func(msg *nats.Msg) {
		b.receive(ctx, msg.Data, "nats")
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to subscribe to nats events subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			b.logger.Warn().Err(err).Msg("failed to drain events nats subscription")
		}
	}()
}

// receive handles an event from a peer. Events this node published are
// ignored, and an event arriving over both transports is dispatched once.
func (b *eventBus) receive(ctx context.Context, payload []byte, origin string) {
	var event DomainEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		b.logger.Warn().Err(err).Str("origin", origin).Msg("invalid event payload")
		return
	}

	if event.Source == b.nodeID || event.Type == "" {
		return
	}
	if !b.markSeen(event.ID) {
		return
	}

	event.Remote = true
	observability.Events().WithLabelValues(event.Type, origin).Inc()
	b.dispatch(ctx, event)
}

const (
	seenRetention = 5 * time.Minute
	seenMaxSize   = 4096
)

func (b *eventBus) markSeen(id string) bool {
	if id == "" {
		return true
	}

	b.seenMu.Lock()
	defer b.seenMu.Unlock()

	now := b.now()
	if _, ok := b.seen[id]; ok {
		return false
	}
	if len(b.seen) >= seenMaxSize {
		for key, at := range b.seen {
			if now.Sub(at) > seenRetention {
				delete(b.seen, key)
			}
		}
	}
	b.seen[id] = now
	return true
}

func (b *eventBroker) subscribe(key string, ch chan DomainEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[key]; !exists {
		b.subscribers[key] = make(map[chan DomainEvent]struct{})
	}
	b.subscribers[key][ch] = struct{}{}
}

func (b *eventBroker) unsubscribe(key string, ch chan DomainEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[key]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, key)
		}
	}
}

func (b *eventBroker) broadcast(key string, event DomainEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[key] {
		select {
		case ch <- event:
		default:
		}
	}
}
