package ranking

import "time"

// Option applies a configuration option to the Ranking.
type Option func(*Ranking)

// WithMetricsInterval sets the interval for background metrics updates.
func WithMetricsInterval(interval time.Duration) Option {
	return func(r *Ranking) {
		if interval > 0 {
			r.metricsInterval = interval
		}
	}
}
