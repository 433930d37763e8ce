package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/medgate/dispatcher/internal/domain/outcome"
)

// Producer sends records to the broker. The transactional implementation
// commits all records atomically or none at all.
type Producer interface {
	Send(ctx context.Context, records ...*kgo.Record) error
}

// Emitter publishes lifecycle events. Status events and retry requests go
// through the plain producer with no internal retry; indexer notifications
// are paired with their status event inside one transaction.
type Emitter struct {
	plain          Producer
	tx             Producer
	topics         Topics
	serviceName    string
	maxRequestSize int
	logger         zerolog.Logger
}

func NewEmitter(plain, tx Producer, topics Topics, serviceName string, maxRequestSize int, logger zerolog.Logger) *Emitter {
	return &Emitter{
		plain:          plain,
		tx:             tx,
		topics:         topics,
		serviceName:    serviceName,
		maxRequestSize: maxRequestSize,
		logger:         logger.With().Str("component", "events").Logger(),
	}
}

// statusRecord stamps the sender identity on a copy of env, leaving the
// caller's envelope untouched.
func (e *Emitter) statusRecord(env *Envelope) (*kgo.Record, error) {
	stamped := *env
	stamped.MicroserviceName = e.serviceName
	if stamped.EventDate.IsZero() {
		stamped.EventDate = time.Now()
	}
	value, err := marshalBounded(&stamped, e.maxRequestSize)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: e.topics.Status,
		Key:   []byte(stamped.WorkflowInstanceID),
		Value: value,
	}, nil
}

// SendStatus publishes a single status event keyed by workflow id.
func (e *Emitter) SendStatus(ctx context.Context, env *Envelope) error {
	rec, err := e.statusRecord(env)
	if err != nil {
		return err
	}
	return e.plain.Send(ctx, rec)
}

// SendIndexAndStatus publishes the indexer record and its status event in
// one transaction. A failure on either aborts both.
func (e *Emitter) SendIndexAndStatus(ctx context.Context, key string, payload []byte, priority outcome.Priority, class outcome.DocumentClass, env *Envelope) error {
	status, err := e.statusRecord(env)
	if err != nil {
		return err
	}
	index := &kgo.Record{
		Topic: e.topics.IndexerTopic(priority, class),
		Key:   []byte(key),
		Value: payload,
	}
	if err := e.tx.Send(ctx, index, status); err != nil {
		e.logger.Error().Err(err).Str("workflow_instance_id", env.WorkflowInstanceID).
			Msg("transactional publish aborted")
		return err
	}
	return nil
}

// SendRetryRequest re-publishes a request body on a retry topic so the
// indexer replays it later. The payload degrades to a fixed marker when the
// request cannot be serialized.
func (e *Emitter) SendRetryRequest(ctx context.Context, topic, wii string, request any) error {
	value, err := json.Marshal(request)
	if err != nil {
		value = []byte("Unable to deserialize content request")
	}
	return e.plain.Send(ctx, &kgo.Record{
		Topic: topic,
		Key:   []byte(wii),
		Value: value,
	})
}
