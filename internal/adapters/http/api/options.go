package api

import "github.com/nikhlu07/Credo/pkg/logger"

type serverConfig struct {
	maxLimit int
	rps      float64
	burst    int
	log      logger.Logger
}

// Option applies a configuration option to the Server.
type Option func(*serverConfig)

// WithMaxLeaderboardLimit caps GET /v1/leaderboard?limit.
func WithMaxLeaderboardLimit(n int) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxLimit = n
		}
	}
}

// WithRateLimit sets the per-client budget of the submit routes. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *serverConfig) {
		c.rps = rps
		c.burst = burst
	}
}

// WithLogger sets the logger used for failed requests.
func WithLogger(l logger.Logger) Option {
	return func(c *serverConfig) {
		if l != nil {
			c.log = l
		}
	}
}
