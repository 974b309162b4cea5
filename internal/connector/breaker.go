package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"wearable-connector/internal/common/errors"
	"wearable-connector/internal/common/logging"
)

// BreakerConfig holds circuit breaker tuning for vendor API calls
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that opens the circuit
	MaxFailures int
	// Timeout is how long the circuit stays open before probing
	Timeout time.Duration
	// MaxConcurrentRequests limits probes in the half-open state
	MaxConcurrentRequests int
}

// DefaultBreakerConfig returns the tuning used for vendor API calls
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:           5,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 2,
	}
}

// VendorBreaker guards one vendor's API with a circuit breaker. A vendor
// outage trips the circuit so queued consumers stop burning rate-limit
// quota on calls that cannot succeed.
type VendorBreaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
}

// NewVendorBreaker creates a circuit breaker for one vendor's API
func NewVendorBreaker(name string, config BreakerConfig, logger logging.Logger) *VendorBreaker {
	if config.MaxFailures <= 0 || config.Timeout <= 0 || config.MaxConcurrentRequests <= 0 {
		config = DefaultBreakerConfig()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.Field{Key: "breaker", Value: name},
				logging.Field{Key: "from", Value: from.String()},
				logging.Field{Key: "to", Value: to.String()},
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}

			// Only vendor-side failures count against the circuit.
			// Rate limiting and our own auth problems say nothing
			// about vendor health.
			switch errors.GetType(err) {
			case errors.ErrTypeVendorAPI:
				return errors.StatusCode(err) != 0 && errors.StatusCode(err) < 500
			default:
				return true
			}
		},
	}

	return &VendorBreaker{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Execute runs fn inside the circuit breaker. An open circuit fails fast
// with a VendorAPIError so callers treat it like a vendor outage.
func (b *VendorBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return errors.VendorAPIError(fmt.Sprintf("circuit breaker %q is open", b.name), 503)
	}
	return err
}

// IsOpen reports whether the circuit is currently open
func (b *VendorBreaker) IsOpen() bool {
	return b.breaker.State() == gobreaker.StateOpen
}
