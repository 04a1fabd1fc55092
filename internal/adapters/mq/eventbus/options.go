package eventbus

import "github.com/nikhlu07/Credo/pkg/logger"

// Option applies a configuration option to the Bus.
type Option func(*Bus)

// WithTopic overrides the topic events are published on.
func WithTopic(topic string) Option {
	return func(b *Bus) {
		if topic != "" {
			b.topic = topic
		}
	}
}

// WithBuffer sets the per-subscriber output buffer.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = int64(n)
		}
	}
}

// WithLogger sets the logger, also used for watermill's internal logs.
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.log = l
		}
	}
}
