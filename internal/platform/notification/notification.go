// Package notification publishes pipeline changes to live clinic displays.
// Publishing is fire-and-forget: it happens after commit and a failure never
// affects the committed change.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type Kind string

const (
	KindEncounterCreated Kind = "encounter.created"
	KindEncounterChanged Kind = "encounter.state_changed"
	KindEncounterUpdated Kind = "encounter.updated"
	KindEventRecorded    Kind = "clinical_event.recorded"
	KindEventCorrected   Kind = "clinical_event.corrected"
	KindProblemChanged   Kind = "problem.changed"
)

// Message is the JSON payload put on the channel.
type Message struct {
	Kind        Kind      `json:"kind"`
	LocationID  string    `json:"location_id,omitempty"`
	PatientID   string    `json:"patient_id,omitempty"`
	EncounterID string    `json:"encounter_id,omitempty"`
	State       string    `json:"state,omitempty"`
	ActorID     string    `json:"actor_id,omitempty"`
	At          time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, msg Message)
	Close() error
}

// NopPublisher drops every message.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Message) {}
func (NopPublisher) Close() error                     { return nil }

type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Close() error
}

type RedisPublisher struct {
	rdb     redisClient
	channel string
	logger  zerolog.Logger
	timeout time.Duration
}

// NewRedisPublisher connects to url (redis://...) and pings it once.
func NewRedisPublisher(ctx context.Context, url, channel string, logger zerolog.Logger) (*RedisPublisher, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisPublisher(rdb, channel, logger), nil
}

func newRedisPublisher(rdb redisClient, channel string, logger zerolog.Logger) *RedisPublisher {
	if channel == "" {
		channel = "emr.pipeline"
	}
	return &RedisPublisher{
		rdb:     rdb,
		channel: channel,
		logger:  logger.With().Str("component", "notification").Logger(),
		timeout: 2 * time.Second,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		p.logger.Warn().Err(err).Str("kind", string(msg.Kind)).Msg("marshal notification")
		return
	}
	// The request context may already be cancelled once the response is written.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.rdb.Publish(pubCtx, p.channel, raw).Err(); err != nil {
		p.logger.Warn().Err(err).
			Str("kind", string(msg.Kind)).
			Str("encounter_id", msg.EncounterID).
			Msg("publish notification failed")
	}
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}

// Multi fans each message out to every publisher in order.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, msg Message) {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	for _, p := range m {
		p.Publish(ctx, msg)
	}
}

// Close closes every publisher and returns the first error.
func (m Multi) Close() error {
	var first error
	for _, p := range m {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
