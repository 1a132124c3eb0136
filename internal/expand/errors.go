package expand

import (
	"fmt"

	"github.com/rotisserie/eris"
)

var (
	// ErrDiscoveryFailed matches every *DiscoveryFailedError via errors.Is.
	ErrDiscoveryFailed = eris.New("discovery failed")
	// ErrNoResults is the cause when every attempt succeeded but returned nothing.
	ErrNoResults = eris.New("no results")
)

// DiscoveryFailedError reports an exhausted attempt budget. Cause is the last
// per-attempt error, or ErrNoResults.
type DiscoveryFailedError struct {
	Attempts int
	Cause    error
}

func (e *DiscoveryFailedError) Error() string {
	return fmt.Sprintf("discovery failed after %d attempts: %v", e.Attempts, e.Cause)
}

// Unwrap exposes both the sentinel and the cause to errors.Is and errors.As.
func (e *DiscoveryFailedError) Unwrap() []error {
	return []error{ErrDiscoveryFailed, e.Cause}
}
