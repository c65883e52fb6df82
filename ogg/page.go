package ogg

import (
	"encoding/binary"
	"fmt"
)

const (
	headerSize     = 27  // fixed page header, RFC 3533 Section 6
	maxSegments    = 255 // segment table entries per page
	maxSegmentSize = 255 // lacing value ceiling; 255 means "continues"
)

// Page header type flag bits (RFC 3533 Section 6).
const (
	flagContinued = 0x01
	flagBOS       = 0x02
	flagEOS       = 0x04
)

var capturePattern = [4]byte{'O', 'g', 'g', 'S'}

// pageHeader holds the fixed-size portion of an Ogg page header. The
// segment table follows it on the wire and is staged separately.
type pageHeader struct {
	granulePos int64
	serial     uint32
	sequence   uint32
	checksum   uint32
	segments   int
	continued  bool
	bos        bool
	eos        bool
}

// parsePageHeader decodes the 27 fixed header bytes. It validates only the
// fields that are self-contained; stream-level checks (serial continuity,
// sequence numbering, flag placement) belong to the Demuxer.
func parsePageHeader(buf []byte) (pageHeader, error) {
	var h pageHeader
	if [4]byte(buf[0:4]) != capturePattern {
		return h, fmt.Errorf("%w: % X", ErrCapturePattern, buf[0:4])
	}
	if buf[4] != 0 {
		return h, fmt.Errorf("%w: %d", ErrVersion, buf[4])
	}
	h.continued = buf[5]&flagContinued != 0
	h.bos = buf[5]&flagBOS != 0
	h.eos = buf[5]&flagEOS != 0
	h.granulePos = int64(binary.LittleEndian.Uint64(buf[6:14]))
	h.serial = binary.LittleEndian.Uint32(buf[14:18])
	h.sequence = binary.LittleEndian.Uint32(buf[18:22])
	h.checksum = binary.LittleEndian.Uint32(buf[22:26])
	h.segments = int(buf[26])
	return h, nil
}
