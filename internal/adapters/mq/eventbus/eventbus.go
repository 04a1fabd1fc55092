// Package eventbus carries protocol events over a watermill Pub/Sub.
//
// Every event goes to one topic so consumers observe a single stream. The
// event name travels in message metadata and the payload is the event as JSON.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/nikhlu07/Credo/internal/domain/model"
	"github.com/nikhlu07/Credo/pkg/logger"
	"github.com/nikhlu07/Credo/pkg/metrics"
)

const (
	// DefaultTopic is the topic protocol events are published on.
	DefaultTopic = "credo.events"

	// MetadataEvent is the metadata key holding the event name.
	MetadataEvent = "event"

	defaultBuffer = 1024
)

// Bus publishes protocol events and hands out subscriptions to them.
type Bus struct {
	pubsub *gochannel.GoChannel
	topic  string
	buffer int64
	log    logger.Logger
	closed atomic.Bool
}

// New creates an in-process bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		topic:  DefaultTopic,
		buffer: defaultBuffer,
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.pubsub = gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: b.buffer,
	}, newWatermillLogger(b.log))
	return b
}

// Topic returns the topic events are published on.
func (b *Bus) Topic() string { return b.topic }

// Emit publishes events and logs failures. It implements model.Emitter.
func (b *Bus) Emit(ctx context.Context, events ...model.Event) {
	if err := b.Publish(ctx, events...); err != nil {
		b.log.Error(ctx, "publish events", logger.Error(err))
	}
}

// Publish encodes and publishes events in order.
func (b *Bus) Publish(ctx context.Context, events ...model.Event) error {
	if b.closed.Load() {
		return ErrClosed
	}
	msgs := make([]*message.Message, 0, len(events))
	for _, e := range events {
		msg, err := Encode(e)
		if err != nil {
			metrics.RecordEventPublishError()
			return err
		}
		msg.SetContext(ctx)
		msgs = append(msgs, msg)
	}
	if err := b.pubsub.Publish(b.topic, msgs...); err != nil {
		metrics.RecordEventPublishError()
		return fmt.Errorf("publish to %s: %w", b.topic, err)
	}
	for _, e := range events {
		metrics.RecordEventPublished(e.EventName())
	}
	return nil
}

// Subscribe returns a channel of messages published after the call. Each
// message must be acked or nacked; a nacked message is delivered again.
func (b *Bus) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	ch, err := b.pubsub.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", b.topic, err)
	}
	return ch, nil
}

// Close stops the bus and closes all subscription channels.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.pubsub.Close()
}

// Encode wraps e in a message with a fresh UUID.
func Encode(e model.Event) (*message.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.EventName(), err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(MetadataEvent, e.EventName())
	return msg, nil
}

var decoders = map[string]func([]byte) (model.Event, error){
	model.EventScoreUpdated:              decodeAs[model.ScoreUpdated],
	model.EventUserRegistered:            decodeAs[model.UserRegistered],
	model.EventScoreDeactivated:          decodeAs[model.ScoreDeactivated],
	model.EventOracleAuthorized:          decodeAs[model.OracleAuthorized],
	model.EventOwnershipTransferred:      decodeAs[model.OwnershipTransferred],
	model.EventScoreUpdateSubmitted:      decodeAs[model.ScoreUpdateSubmitted],
	model.EventBatchScoreUpdateSubmitted: decodeAs[model.BatchScoreUpdateSubmitted],
	model.EventSignerAuthorized:          decodeAs[model.SignerAuthorized],
	model.EventSignerUpdated:             decodeAs[model.SignerUpdated],
	model.EventRegistryUpdated:           decodeAs[model.RegistryUpdated],
}

func decodeAs[T model.Event](payload []byte) (model.Event, error) {
	var e T
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// Decode restores the event carried by msg.
func Decode(msg *message.Message) (model.Event, error) {
	name := msg.Metadata.Get(MetadataEvent)
	decode, ok := decoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, name)
	}
	e, err := decode(msg.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return e, nil
}
