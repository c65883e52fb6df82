package opus

import (
	"encoding/binary"
	"fmt"
)

const (
	magicSize = 8

	// Minimum OpusHead size: magic(8) + version(1) + channel_count(1) +
	// pre_skip(2) + input_sample_rate(4) + output_gain(2) +
	// mapping_family(1) (RFC 7845 Section 5.1).
	headMinSize = 19

	// With a nonzero mapping family the header additionally carries
	// stream_count(1) + coupled_count(1) before the mapping table.
	headMinSizeMapping = 21
)

var (
	headMagic = []byte("OpusHead")
	tagsMagic = []byte("OpusTags")
)

// Head is a parsed OpusHead identification header.
type Head struct {
	Version         uint8
	Channels        uint8
	PreSkip         uint16 // priming samples to discard, at 48 kHz
	InputSampleRate uint32 // informational only, never validated
	OutputGain      int16  // Q7.8 dB gain to apply to decoded output
	MappingFamily   uint8

	// StreamCount, CoupledCount and Mapping describe the stream layout.
	// For mapping family 0 they are derived (1, 0 or 1, zero table), not
	// read from the wire. Mapping has exactly Channels entries; the value
	// 255 marks a silent channel.
	StreamCount  uint8
	CoupledCount uint8
	Mapping      []byte
}

// IsHead reports whether the packet begins with the OpusHead signature.
// Short packets are not an error; they simply do not match.
func IsHead(packet []byte) bool {
	return len(packet) >= magicSize && string(packet[:magicSize]) == string(headMagic)
}

// IsTags reports whether the packet begins with the OpusTags signature.
func IsTags(packet []byte) bool {
	return len(packet) >= magicSize && string(packet[:magicSize]) == string(tagsMagic)
}

// ParseHead parses and validates an OpusHead packet per RFC 7845
// Section 5.1. Checks run in a fixed order so a malformed header always
// reports the same error: magic, length, version, channel count, mapping
// layout, then the family-specific constraints.
func ParseHead(packet []byte) (*Head, error) {
	if !IsHead(packet) {
		return nil, ErrInvalidMagic
	}
	if len(packet) < headMinSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooShort, len(packet))
	}

	h := &Head{
		Version:         packet[8],
		Channels:        packet[9],
		PreSkip:         binary.LittleEndian.Uint16(packet[10:12]),
		InputSampleRate: binary.LittleEndian.Uint32(packet[12:16]),
		OutputGain:      int16(binary.LittleEndian.Uint16(packet[16:18])),
		MappingFamily:   packet[18],
	}

	if h.Version != 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, h.Version)
	}
	if h.Channels == 0 {
		return nil, fmt.Errorf("%w: zero channels", ErrInvalidChannels)
	}

	// InputSampleRate is informational only (RFC 7845 Section 5.1):
	// decoders must not reject a stream over an unexpected value.

	if h.MappingFamily != 0 {
		if len(packet) < headMinSizeMapping+int(h.Channels) {
			return nil, fmt.Errorf("%w: %d bytes for %d channels", ErrTooShort, len(packet), h.Channels)
		}
		h.StreamCount = packet[19]
		h.CoupledCount = packet[20]
		h.Mapping = make([]byte, h.Channels)
		copy(h.Mapping, packet[headMinSizeMapping:])

		// Every table entry must index a decodable stream channel or be
		// the silent-channel sentinel 255 (RFC 7845 Section 5.1.1).
		total := int(h.StreamCount) + int(h.CoupledCount)
		for i, m := range h.Mapping {
			if int(m) >= total && m != 255 {
				return nil, fmt.Errorf("%w: table[%d]=%d, %d stream channels", ErrInvalidMapping, i, m, total)
			}
		}
	} else {
		h.StreamCount = 1
		if h.Channels == 2 {
			h.CoupledCount = 1
		}
		h.Mapping = make([]byte, h.Channels)
	}

	switch h.MappingFamily {
	case 0:
		// Family 0 (RTP, mono/stereo) allows at most two channels.
		if h.Channels > 2 {
			return nil, fmt.Errorf("%w: %d channels for family 0", ErrInvalidChannels, h.Channels)
		}
	case 1:
		// Family 1 (Vorbis surround) allows up to eight channels.
		if h.Channels > 8 {
			return nil, fmt.Errorf("%w: %d channels for family 1", ErrInvalidChannels, h.Channels)
		}
		if err := h.validateCounts(); err != nil {
			return nil, err
		}
	default:
		// Families 2-254 are reserved and 255 is experimental; treat them
		// as family 255 (RFC 7845 Section 5.1.1.4) and only check the
		// basic layout constraints.
		if err := h.validateCounts(); err != nil {
			return nil, err
		}
	}

	return h, nil
}

func (h *Head) validateCounts() error {
	if h.StreamCount == 0 {
		return fmt.Errorf("%w: zero streams", ErrInvalidMapping)
	}
	if h.CoupledCount > h.StreamCount {
		return fmt.Errorf("%w: %d coupled of %d streams", ErrInvalidMapping, h.CoupledCount, h.StreamCount)
	}
	return nil
}
