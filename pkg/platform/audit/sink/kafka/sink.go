// Package kafka publishes audit events to per-category Kafka topics.
//
// Each event category maps to its own topic so downstream consumers can
// apply different retention policies: compliance events are kept for years,
// security events for months, operational events for weeks.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "warden/pkg/platform/audit"
)

// DefaultTopicPrefix is prepended to the category to form the topic name.
const DefaultTopicPrefix = "warden.audit"

// Sink publishes audit events to Kafka.
type Sink struct {
	client *kgo.Client
	prefix string
	logger *slog.Logger
}

// Option configures the Sink.
type Option func(*Sink)

// WithTopicPrefix overrides the default topic prefix.
func WithTopicPrefix(prefix string) Option {
	return func(s *Sink) {
		s.prefix = prefix
	}
}

// WithLogger sets a logger for publish diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		s.logger = logger
	}
}

// New creates a Kafka audit sink on top of an existing client.
func New(client *kgo.Client, opts ...Option) *Sink {
	s := &Sink{
		client: client,
		prefix: DefaultTopicPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Topics returns every topic this sink may produce to, one per category.
// Pass these to kafka.EnsureTopics at startup.
func (s *Sink) Topics() []string {
	categories := []audit.EventCategory{
		audit.CategoryCompliance,
		audit.CategorySecurity,
		audit.CategoryOperations,
	}
	topics := make([]string, 0, len(categories))
	for _, c := range categories {
		topics = append(topics, s.topicFor(c))
	}
	return topics
}

func (s *Sink) topicFor(category audit.EventCategory) string {
	return s.prefix + "." + string(category)
}

// payload is the JSON structure written to Kafka. Field names match
// audit.Event so consumers can deserialize without a separate schema.
type payload struct {
	ID        string `json:"ID"`
	Category  string `json:"Category"`
	Timestamp string `json:"Timestamp"`
	UserID    string `json:"UserID,omitempty"`
	TenantID  string `json:"TenantID,omitempty"`
	Subject   string `json:"Subject,omitempty"`
	Action    string `json:"Action"`
	Provider  string `json:"Provider,omitempty"`
	Reason    string `json:"Reason,omitempty"`
	IP        string `json:"IP,omitempty"`
	RequestID string `json:"RequestID,omitempty"`
}

// Publish sends one event to the topic for its category. The record key is
// the user ID when present so per-user events stay ordered within a
// partition.
func (s *Sink) Publish(ctx context.Context, event audit.Event) error {
	category := event.Category
	if category == "" {
		category = audit.AuditEvent(event.Action).Category()
	}

	eventID := uuid.New()
	p := payload{
		ID:        eventID.String(),
		Category:  string(category),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Subject:   event.Subject,
		Action:    event.Action,
		Provider:  event.Provider,
		Reason:    event.Reason,
		IP:        event.IP,
		RequestID: event.RequestID,
	}
	if !event.UserID.IsNil() {
		p.UserID = uuid.UUID(event.UserID).String()
	}
	if !event.TenantID.IsNil() {
		p.TenantID = uuid.UUID(event.TenantID).String()
	}

	value, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	key := eventID.String()
	if !event.UserID.IsNil() {
		key = uuid.UUID(event.UserID).String()
	}

	record := &kgo.Record{
		Topic: s.topicFor(category),
		Key:   []byte(key),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		s.logger.ErrorContext(ctx, "audit publish failed",
			"topic", record.Topic,
			"action", event.Action,
			"error", err,
		)
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}
