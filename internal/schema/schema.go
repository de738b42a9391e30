package schema

// SchemaVersion is the current trade record schema version.
const SchemaVersion uint16 = 1

// Instrument identifies a tradable symbol at the execution venue. It is the
// identity key for venue-level positions.
type Instrument string

// Flags annotate non-fatal deviations on an otherwise successful submit.
const (
	// FlagRiskShrunk marks a record whose quantity was reduced by the risk gate.
	FlagRiskShrunk uint16 = 1 << iota
	// FlagPartialFill marks a record rescaled against a partial venue fill.
	FlagPartialFill
	// FlagUnjournaled marks a committed record whose journal append failed.
	FlagUnjournaled
)
