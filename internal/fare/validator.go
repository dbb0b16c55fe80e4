package fare

import (
	"time"

	"github.com/DDPL-Work/traveldesk/internal/domain"
)

// Executable reports whether a quoted fare can still be executed at the
// given instant. Expiry is provider-determined and authoritative: a fare is
// executable up to and including its expiry timestamp, with no tolerance
// window.
func Executable(snapshot domain.FareSnapshot, now time.Time) bool {
	return !now.After(snapshot.FareExpiry)
}
