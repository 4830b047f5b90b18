package reliability

import (
	"context"
	"sync"

	"gridtune/internal/core/domain"
	"gridtune/internal/core/ports"
	"gridtune/pkg/circuitbreaker"
	"gridtune/pkg/retry"

	"go.uber.org/zap"
)

// ProbeWrapper wraps a NetworkProbe with retry logic and a circuit
// breaker. A flapping external probe must not stall the evaluation loop,
// so once the breaker opens the wrapper serves the last good reading.
type ProbeWrapper struct {
	probe  ports.NetworkProbe
	logger *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker

	// The loop ticker and the manual evaluate endpoint both reach this
	// concurrently.
	mu       sync.RWMutex
	lastGood domain.NetworkReading
}

// NewProbeWrapper creates a new wrapper with retry and circuit breaker
func NewProbeWrapper(
	probe ports.NetworkProbe,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *ProbeWrapper {
	wrapper := &ProbeWrapper{
		probe:          probe,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("probe circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

// AmbientReading queries the wrapped probe, retrying transient failures.
// When the breaker is open or all attempts fail, the last good reading
// is returned so the cycle can still run on slightly stale data.
func (w *ProbeWrapper) AmbientReading(ctx context.Context) (domain.NetworkReading, error) {
	if !w.retryConfig.Enabled {
		return w.probe.AmbientReading(ctx)
	}

	reading, err := retry.RetryWithResult(ctx, w.retryConfig, func() (domain.NetworkReading, error) {
		return circuitbreaker.Do(w.circuitBreaker, func() (domain.NetworkReading, error) {
			return w.probe.AmbientReading(ctx)
		})
	})
	if err != nil {
		w.mu.RLock()
		cached := w.lastGood
		w.mu.RUnlock()
		if !cached.Timestamp.IsZero() {
			w.logger.Warnw("probe unavailable, serving last good reading",
				"error", err,
				"reading_age", cached.Timestamp,
			)
			return cached, nil
		}
		return domain.NetworkReading{}, err
	}

	w.mu.Lock()
	w.lastGood = reading
	w.mu.Unlock()
	return reading, nil
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (w *ProbeWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}
