package breaker

import (
	"github.com/go-kratos/kratos/v2/errors"
)

// Error reasons carried by breaker errors.
const (
	ReasonCircuitOpen     = "CIRCUIT_OPEN"
	ReasonCircuitTimeout  = "CIRCUIT_TIMEOUT"
	ReasonBreakerNotFound = "BREAKER_NOT_FOUND"
)

var (
	// ErrCircuitOpen is returned when a call is rejected without being executed.
	// Use errors.Is to detect it; returned values carry the breaker name in metadata.
	ErrCircuitOpen = errors.ServiceUnavailable(ReasonCircuitOpen, "circuit breaker is open")

	// ErrTimeout is returned when a guarded call exceeds the breaker timeout.
	ErrTimeout = errors.GatewayTimeout(ReasonCircuitTimeout, "circuit breaker call timed out")

	// ErrNotFound is returned by registry operations addressing an unknown breaker.
	ErrNotFound = errors.NotFound(ReasonBreakerNotFound, "circuit breaker not found")
)

func openError(name string) error {
	return ErrCircuitOpen.WithMetadata(map[string]string{"breaker": name})
}

func timeoutError(name string) error {
	return ErrTimeout.WithMetadata(map[string]string{"breaker": name})
}

func notFoundError(name string) error {
	return ErrNotFound.WithMetadata(map[string]string{"breaker": name})
}

// IsCircuitOpen reports whether err is a circuit-open rejection.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

// IsTimeout reports whether err is a breaker timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
