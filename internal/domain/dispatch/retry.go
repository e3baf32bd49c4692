package dispatch

import "time"

// Failure reasons this service assigns itself. Vendor callbacks carry their
// own vocabulary; retryableReasons covers both.
const (
	ReasonProviderTimeout = "provider-timeout"
	ReasonTransientError  = "transient-error"
)

var retryableReasons = map[string]bool{
	"busy":                true,
	"dial-busy":           true,
	"no-answer":           true,
	"voicemail":           true,
	ReasonProviderTimeout: true,
	ReasonTransientError:  true,
}

// Policy decides whether a failed dispatch is retried and after how long.
type Policy struct {
	BaseMinutes int
	MaxRetries  int
}

func DefaultPolicy() Policy { return Policy{BaseMinutes: 5, MaxRetries: 3} }

// Decision is the policy outcome for one failure.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide maps a failure reason and the current retry count to retry-after or
// terminal failure. Delay doubles with each attempt.
func (p Policy) Decide(reason string, retryCount int) Decision {
	if retryCount >= p.MaxRetries || !retryableReasons[reason] {
		return Decision{Retry: false}
	}
	return Decision{
		Retry: true,
		Delay: time.Duration(p.BaseMinutes<<retryCount) * time.Minute,
	}
}
