package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grading-api/internal/dto"
	"github.com/noah-isme/gema-grading-api/internal/observability"
)

const (
	gradingEventBufferSize = 16
	recentEventWindow      = 256
)

// GradingEventPublisher announces grading state changes.
type GradingEventPublisher interface {
	Publish(ctx context.Context, event dto.GradingEvent)
}

// GradingEventService fans grading events out to every API node and to the
// admin SSE subscribers connected to this node.
type GradingEventService interface {
	GradingEventPublisher
	Subscribe() (<-chan dto.GradingEvent, func())
	Start(ctx context.Context)
}

type gradingEventService struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	broker       *gradingEventBroker
	nodeID       string
	recent       *recentIDs
}

type gradingEnvelope struct {
	ID     string           `json:"id"`
	Source string           `json:"source"`
	Event  dto.GradingEvent `json:"event"`
	SentAt time.Time        `json:"sent_at"`
}

type gradingEventBroker struct {
	mu          sync.RWMutex
	subscribers map[chan dto.GradingEvent]struct{}
}

// NewGradingEventService wires the event fan-out. Either transport may be nil.
// channelBase is used as the Redis channel and, with ':' turned into '.', as
// the NATS subject.
func NewGradingEventService(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) GradingEventService {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":events"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".events"
	}

	return &gradingEventService{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "grading_events").Logger(),
		broker:       &gradingEventBroker{subscribers: make(map[chan dto.GradingEvent]struct{})},
		nodeID:       uuid.NewString(),
		recent:       newRecentIDs(recentEventWindow),
	}
}

func (s *gradingEventService) Start(ctx context.Context) {
	if s.redis != nil && s.redisChannel != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

// Publish delivers locally first, then to the brokers. Broker failures are
// logged and never returned.
func (s *gradingEventService) Publish(ctx context.Context, event dto.GradingEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	s.broker.broadcast(event)

	payload, err := json.Marshal(gradingEnvelope{ID: uuid.NewString(), Source: s.nodeID, Event: event, SentAt: time.Now().UTC()})
	if err != nil {
		s.logger.Warn().Err(err).Str("submission_id", event.SubmissionID).Msg("failed to encode grading event")
		return
	}

	if s.redis != nil && s.redisChannel != "" {
		if err := s.redis.Publish(ctx, s.redisChannel, payload).Err(); err != nil {
			s.logger.Warn().Err(err).Str("submission_id", event.SubmissionID).Msg("failed to publish grading event to redis")
		} else {
			observability.GradingEvents().WithLabelValues("redis", "out").Inc()
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			s.logger.Warn().Err(err).Str("submission_id", event.SubmissionID).Msg("failed to publish grading event to nats")
		} else {
			observability.GradingEvents().WithLabelValues("nats", "out").Inc()
		}
	}
}

func (s *gradingEventService) Subscribe() (<-chan dto.GradingEvent, func()) {
	channel := make(chan dto.GradingEvent, gradingEventBufferSize)

	s.broker.subscribe(channel)
	observability.EventClientsActive().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.broker.unsubscribe(channel)
			observability.EventClientsActive().Dec()
		})
	}

	return channel, cleanup
}

func (s *gradingEventService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("grading event redis subscription closed")
			return
		}
		s.handleEvent("redis", []byte(msg.Payload))
	}
}

func (s *gradingEventService) consumeNATS(ctx context.Context) {
	// Every node needs every event, so this is a plain subscription rather
	// than a queue group.
	sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
		s.handleEvent("nats", msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats grading subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain grading nats subscription")
		}
	}()
}

func (s *gradingEventService) handleEvent(transport string, payload []byte) {
	var envelope gradingEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Str("transport", transport).Msg("invalid grading event payload")
		return
	}

	if envelope.Source == s.nodeID {
		return
	}
	// With both transports enabled every event arrives twice.
	if envelope.ID != "" && !s.recent.add(envelope.ID) {
		return
	}

	observability.GradingEvents().WithLabelValues(transport, "in").Inc()
	s.broker.broadcast(envelope.Event)
}

func (b *gradingEventBroker) subscribe(ch chan dto.GradingEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[ch] = struct{}{}
}

func (b *gradingEventBroker) unsubscribe(ch chan dto.GradingEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// broadcast drops the event for subscribers whose buffer is full.
func (b *gradingEventBroker) broadcast(event dto.GradingEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// recentIDs remembers the last n ids in a ring.
type recentIDs struct {
	mu   sync.Mutex
	ring []string
	next int
	set  map[string]struct{}
}

func newRecentIDs(n int) *recentIDs {
	return &recentIDs{ring: make([]string, n), set: make(map[string]struct{}, n)}
}

// add reports false when id was already seen.
func (r *recentIDs) add(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.set[id]; ok {
		return false
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.set, old)
	}
	r.ring[r.next] = id
	r.set[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
	return true
}

type noopGradingEvents struct{}

func (noopGradingEvents) Publish(context.Context, dto.GradingEvent) {}
