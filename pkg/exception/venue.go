package exception

import "github.com/yanun0323/errors"

// Venue rejections surfaced to callers. The coordinator never retries
// automatically: a retried order could double-fill when the original
// succeeded downstream after a timeout.
var (
	ErrVenueRejected = errors.New("venue: order rejected")
	ErrVenueTimeout  = errors.New("venue: request timed out")
)

// Venue-side failure causes, wrapped into ErrVenueRejected/ErrVenueTimeout
// at the coordinator boundary.
var (
	ErrVenueInstrumentHalted   = errors.New("venue: instrument halted")
	ErrVenueInsufficientMargin = errors.New("venue: insufficient margin")
	ErrVenueConnectionLost     = errors.New("venue: connection lost")
	ErrVenueUnknownInstrument  = errors.New("venue: unknown instrument")
)

// Fill sanity failures. A fill failing these checks is never committed.
var (
	ErrVenueEmptyReference   = errors.New("venue: empty order reference")
	ErrVenueOverfill         = errors.New("venue: fill exceeds requested quantity")
	ErrVenueFillDirection    = errors.New("venue: fill direction mismatch")
	ErrVenueNonPositivePrice = errors.New("venue: non-positive fill price")
)
