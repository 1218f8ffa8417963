package services

import (
	"golang.org/x/time/rate"
)

// Requests per second allowed per service. Changing them requires a restart.
const (
	LibraryRate  = 2
	MetadataRate = 1
)

// Limiters holds the process-wide token buckets.
//
// One instance is built at startup and passed to every client; the metadata bucket is shared by
// release-group searches and cover-art downloads. The download service is not limited.
type Limiters struct {
	Library  *rate.Limiter
	Metadata *rate.Limiter
}

// NewLimiters returns buckets with capacity one at the fixed per-service rates.
func NewLimiters() *Limiters {
	return &Limiters{
		Library:  rate.NewLimiter(rate.Limit(LibraryRate), 1),
		Metadata: rate.NewLimiter(rate.Limit(MetadataRate), 1),
	}
}

// UnlimitedLimiters never block; used by tests.
func UnlimitedLimiters() *Limiters {
	return &Limiters{
		Library:  rate.NewLimiter(rate.Inf, 1),
		Metadata: rate.NewLimiter(rate.Inf, 1),
	}
}
