package ogg

import "errors"

// Sentinel errors for structural violations of the Ogg framing rules.
// These enable callers to programmatically distinguish failure modes
// using errors.Is.
var (
	// ErrCapturePattern is returned when a page does not begin with "OggS".
	ErrCapturePattern = errors.New("ogg: invalid capture pattern")

	// ErrVersion is returned when a page declares a stream structure
	// version other than 0.
	ErrVersion = errors.New("ogg: unsupported stream structure version")

	// ErrChecksum is returned when CRC validation is enabled and a page
	// checksum does not match its contents.
	ErrChecksum = errors.New("ogg: page checksum mismatch")

	// ErrSequenceGap is returned when a page sequence number is not the
	// successor of the previous page's sequence number.
	ErrSequenceGap = errors.New("ogg: page sequence gap")

	// ErrBOSViolation is returned when the beginning-of-stream flag is
	// missing from the first page or present on a later one.
	ErrBOSViolation = errors.New("ogg: begin-of-stream flag violation")

	// ErrEOSViolation is returned when a page follows one marked
	// end-of-stream, or an end-of-stream page ends mid-packet.
	ErrEOSViolation = errors.New("ogg: end-of-stream flag violation")

	// ErrSerialMismatch is returned when a page carries a serial number
	// different from the stream's, e.g. in chained or multiplexed files.
	ErrSerialMismatch = errors.New("ogg: bitstream serial number mismatch")

	// ErrPacketSkipped reports that a complete packet was discarded
	// because it exceeded the configured maximum packet size. The stream
	// position has advanced past the packet; demuxing may continue.
	ErrPacketSkipped = errors.New("ogg: oversized packet skipped")
)
