package opus

import "errors"

// Sentinel errors for OpusHead validation failures (RFC 7845 Section 5.1).
var (
	// ErrInvalidMagic is returned when a packet does not begin with the
	// "OpusHead" signature.
	ErrInvalidMagic = errors.New("opus: invalid header magic")

	// ErrTooShort is returned when a packet is shorter than the header
	// layout requires.
	ErrTooShort = errors.New("opus: header too short")

	// ErrInvalidVersion is returned for any header version other than 1.
	ErrInvalidVersion = errors.New("opus: unsupported header version")

	// ErrInvalidChannels is returned for a zero channel count, or a count
	// outside the bounds of the declared channel mapping family.
	ErrInvalidChannels = errors.New("opus: invalid channel count")

	// ErrInvalidMapping is returned when the stream/coupled counts or the
	// channel mapping table violate RFC 7845 Section 5.1.1.
	ErrInvalidMapping = errors.New("opus: invalid channel mapping")
)
