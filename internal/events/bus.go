package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/skyline-signage/player-core/internal/logging"
)

// Bus is the in-process playback-event pub/sub, backed by Watermill's
// gochannel implementation (grounded on the teacher's watermill.Publisher
// wrapper in internal/eventprocessor/publisher.go, minus the NATS
// reconnection and circuit-breaker concerns a single-process channel has
// no use for).
type Bus struct {
	pubSub *gochannel.GoChannel
}

// NewBus constructs the playback-event bus with a bounded buffer; a slow
// or absent subscriber must never block the renderer's event emission
// (the never-block rule §5 sets for the resolver is applied to this event
// sink as well).
func NewBus() *Bus {
	logger := watermillLogger{}
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, logger)
	return &Bus{pubSub: pubSub}
}

// Publish encodes and publishes a playback event (typically called by the
// rendering shell, which this core does not itself implement — §1
// "Out of scope: Rendering of layouts").
func (b *Bus) Publish(ev PlaybackEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(ev.EventID, payload)
	return b.pubSub.Publish(Topic, msg)
}

// Subscribe returns a channel of decoded playback events for the
// proof-of-play collector (§6 "the stats collector subscribes").
func (b *Bus) Subscribe(ctx context.Context) (<-chan PlaybackEvent, error) {
	raw, err := b.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}
	out := make(chan PlaybackEvent, 256)
	go func() {
		defer close(out)
		for msg := range raw {
			var ev PlaybackEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.Component("events").Warn().Err(err).Msg("dropping malformed playback event")
				msg.Ack()
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				msg.Ack()
				return
			}
			msg.Ack()
		}
	}()
	return out, nil
}

// Close releases the underlying pub/sub.
func (b *Bus) Close() error { return b.pubSub.Close() }

// watermillLogger adapts zerolog to watermill.LoggerAdapter, the same
// bridge the teacher builds ad hoc around its NewStdLogger calls.
type watermillLogger struct{}

func (watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	logging.Component("events").Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}
func (watermillLogger) Info(msg string, fields watermill.LogFields) {
	logging.Component("events").Info().Fields(map[string]any(fields)).Msg(msg)
}
func (watermillLogger) Debug(msg string, fields watermill.LogFields) {
	logging.Component("events").Debug().Fields(map[string]any(fields)).Msg(msg)
}
func (watermillLogger) Trace(msg string, fields watermill.LogFields) {
	logging.Component("events").Trace().Fields(map[string]any(fields)).Msg(msg)
}
func (watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillLogger{}
}
