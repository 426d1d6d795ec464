package events

import (
	"context"
	"encoding/json"
	"fmt"

	"agency_calls_backend/platform/logger"

	"github.com/redis/go-redis/v9"
)

// RelayChannel carries events from the scheduler process to API processes.
const RelayChannel = "calls:events"

type envelope struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

var relayDecoders = map[string]func(json.RawMessage) (Event, error){
	TranscriptReady{}.EventName():  decodeAs[TranscriptReady],
	TranscriptFailed{}.EventName(): decodeAs[TranscriptFailed],
}

func decodeAs[T Event](raw json.RawMessage) (Event, error) {
	var e T
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// RelayedEventNames lists the events that cross processes.
func RelayedEventNames() []string {
	return []string{TranscriptReady{}.EventName(), TranscriptFailed{}.EventName()}
}

// RedisForwarder publishes handled events on RelayChannel.
type RedisForwarder struct {
	client *redis.Client
}

func NewRedisForwarder(client *redis.Client) *RedisForwarder {
	return &RedisForwarder{client: client}
}

// Subscribe registers the forwarder for every relayed event.
func (f *RedisForwarder) Subscribe(bus Bus) {
	for _, name := range RelayedEventNames() {
		bus.Subscribe(name, f)
	}
}

func (f *RedisForwarder) Handle(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data, err := json.Marshal(envelope{Name: event.EventName(), Payload: payload})
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, RelayChannel, data).Err()
}

// RelayFromRedis republishes relayed events on bus until ctx ends.
func RelayFromRedis(ctx context.Context, client *redis.Client, bus Bus, log *logger.Logger) error {
	sub := client.Subscribe(ctx, RelayChannel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", RelayChannel, err)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			event, err := decodeRelayed([]byte(msg.Payload))
			if err != nil {
				log.Warn("dropping relayed event", "error", err)
				continue
			}
			bus.Publish(ctx, event)
		}
	}
}

func decodeRelayed(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	decode, ok := relayDecoders[env.Name]
	if !ok {
		return nil, fmt.Errorf("unknown relayed event %q", env.Name)
	}
	return decode(env.Payload)
}
