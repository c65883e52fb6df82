package ogg

import "fmt"

const (
	// DefaultInitialBufferSize is the starting capacity of the packet
	// assembly buffer.
	DefaultInitialBufferSize = 1024

	// DefaultMaxPacketSize bounds packet assembly. Packets larger than
	// this are consumed but not delivered (ErrPacketSkipped).
	DefaultMaxPacketSize = 1 << 20

	maxBodySize = maxSegments * maxSegmentSize
)

type phase uint8

const (
	phaseHeader   phase = iota // staging the 27 fixed header bytes
	phaseSegments              // staging the segment table
	phaseBody                  // consuming body straight from caller input
	phaseBodyCRC               // buffering the full body for CRC validation
	phaseEmit                  // emitting packets from the validated body
)

type skipKind uint8

const (
	skipNone     skipKind = iota
	skipOversize          // packet exceeds maxPacket; report ErrPacketSkipped
	skipForeign           // continuation of a packet never started; drop silently
)

// Demuxer extracts logical packets from a single Ogg bitstream fed to it
// incrementally. The zero value is not usable; construct with NewDemuxer.
//
// A Demuxer is not safe for concurrent use.
type Demuxer struct {
	enableCRC  bool
	initialBuf int
	maxPacket  int

	phase   phase
	hdr     [headerSize]byte
	hdrFill int
	segs    [maxSegments]byte
	segFill int

	page pageHeader

	// body walk state
	segIndex  int
	segRemain int
	inSegment bool

	// current packet assembly
	pkt    []byte
	pktLen int
	skip   skipKind

	// CRC-mode page body and emission cursors
	body      []byte
	bodyFill  int
	bodyPos   int
	emitStart int

	crc uint32

	// stream-level validation state
	serial             uint32
	pages              uint64
	sequence           uint32
	eosSeen            bool
	prevEndedContinued bool
	failed             error

	stats Stats
}

// NewDemuxer creates a demuxer for one logical bitstream.
func NewDemuxer(opts ...func(*Demuxer)) *Demuxer {
	d := &Demuxer{
		initialBuf: DefaultInitialBufferSize,
		maxPacket:  DefaultMaxPacketSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DemuxerOptCRC enables CRC32 validation of every page. This buffers each
// page in full before delivering its packets, disabling zero-copy delivery.
func DemuxerOptCRC() func(*Demuxer) {
	return func(d *Demuxer) {
		d.enableCRC = true
	}
}

// DemuxerOptMaxPacketSize sets the packet size above which packets are
// skipped instead of assembled.
func DemuxerOptMaxPacketSize(n int) func(*Demuxer) {
	return func(d *Demuxer) {
		d.maxPacket = n
	}
}

// DemuxerOptInitialBufferSize sets the initial capacity of the packet
// assembly buffer. The buffer grows on demand up to the maximum packet size.
func DemuxerOptInitialBufferSize(n int) func(*Demuxer) {
	return func(d *Demuxer) {
		d.initialBuf = n
	}
}

// NextPacket consumes bytes from input until it has produced at most one
// complete packet. It returns the packet (nil if more input is needed), the
// number of input bytes consumed, and an error.
//
// A nil packet with a nil error means more data is required; the demuxer
// has buffered any partial page or packet internally and the caller must
// advance its input by the consumed count before calling again. A non-nil
// error that is ErrPacketSkipped is recoverable: an oversized packet was
// discarded and demuxing may continue. All other errors are structural and
// latch the demuxer until Reset.
//
// The returned packet's Data is valid only until the next call.
func (d *Demuxer) NextPacket(input []byte) (*Packet, int, error) {
	if d.failed != nil {
		return nil, 0, d.failed
	}

	pos := 0
	spanStart := -1 // start offset in input of the current packet's unflushed bytes

	for {
		switch d.phase {
		case phaseHeader:
			n := copy(d.hdr[d.hdrFill:], input[pos:])
			d.hdrFill += n
			pos += n
			if d.hdrFill < headerSize {
				return nil, pos, nil
			}
			h, err := parsePageHeader(d.hdr[:])
			if err != nil {
				return nil, pos, d.fail(err)
			}
			if err := d.checkPage(h); err != nil {
				return nil, pos, d.fail(err)
			}
			d.page = h
			d.segFill = 0
			if d.enableCRC {
				hdr := d.hdr
				hdr[22], hdr[23], hdr[24], hdr[25] = 0, 0, 0, 0
				d.crc = updateCRC32(0, hdr[:])
			}

			// RFC 3533 Section 5: a partial packet is only continued by a
			// page carrying the continued flag. On a mismatch the partial
			// data must not be decoded; drop it and realign. The reverse
			// mismatch (continued flag with nothing to continue) discards
			// the foreign leading segments.
			if d.assembling() && !h.continued {
				d.resetPacket()
			}
			if !d.assembling() && h.continued {
				d.skip = skipForeign
			}
			d.phase = phaseSegments

		case phaseSegments:
			n := copy(d.segs[d.segFill:d.page.segments], input[pos:])
			d.segFill += n
			pos += n
			if d.segFill < d.page.segments {
				return nil, pos, nil
			}
			d.segIndex = 0
			d.inSegment = false
			if d.enableCRC {
				d.crc = updateCRC32(d.crc, d.segs[:d.page.segments])
				if d.body == nil {
					d.body = make([]byte, maxBodySize)
				}
				d.bodyFill = 0
				d.phase = phaseBodyCRC
			} else {
				d.phase = phaseBody
			}

		case phaseBody:
			pkt, newPos, done, err := d.walkBody(input, pos, &spanStart)
			pos = newPos
			if err != nil || pkt != nil || done {
				return pkt, pos, err
			}
			// page finished without completing a packet; next page header

		case phaseBodyCRC:
			need := d.bodyLen()
			n := copy(d.body[d.bodyFill:need], input[pos:])
			d.bodyFill += n
			pos += n
			if d.bodyFill < need {
				return nil, pos, nil
			}
			d.crc = updateCRC32(d.crc, d.body[:need])
			if d.crc != d.page.checksum {
				return nil, pos, d.fail(fmt.Errorf("%w: page %d", ErrChecksum, d.page.sequence))
			}
			d.bodyPos = 0
			d.emitStart = 0
			d.phase = phaseEmit

		case phaseEmit:
			pkt, err := d.emit()
			if err != nil || pkt != nil {
				return pkt, pos, err
			}
			// page fully emitted; next page header
		}
	}
}

// walkBody consumes body bytes directly from input, segment by segment.
// It returns a completed packet, a skip error, or done=true when input is
// exhausted. A false done with nil packet means the page body finished
// without a packet boundary and parsing continues on the next page.
func (d *Demuxer) walkBody(input []byte, pos int, spanStart *int) (*Packet, int, bool, error) {
	for d.segIndex < d.page.segments {
		lacing := int(d.segs[d.segIndex])
		if !d.inSegment {
			d.segRemain = lacing
			d.inSegment = true
		}
		if d.segRemain > 0 {
			avail := len(input) - pos
			if avail == 0 {
				d.flushSpan(input, spanStart, pos)
				return nil, pos, true, nil
			}
			n := min(d.segRemain, avail)
			if d.skip == skipNone && *spanStart < 0 {
				*spanStart = pos
			}
			pos += n
			d.segRemain -= n
			d.pktLen += n
			if d.skip == skipNone && d.pktLen > d.maxPacket {
				d.skip = skipOversize
				d.pkt = d.pkt[:0]
				*spanStart = -1
			}
			if d.segRemain > 0 {
				d.flushSpan(input, spanStart, pos)
				return nil, pos, true, nil
			}
		}

		d.inSegment = false
		d.segIndex++
		if lacing == maxSegmentSize {
			continue // packet continues into the next segment
		}

		last := d.segIndex == d.page.segments
		if last {
			if err := d.finishPage(); err != nil {
				return nil, pos, false, d.fail(err)
			}
		}
		switch d.skip {
		case skipOversize:
			d.resetPacket()
			d.stats.SkippedPackets++
			return nil, pos, false, ErrPacketSkipped
		case skipForeign:
			d.resetPacket()
			if last {
				return nil, pos, false, nil
			}
			continue
		}

		var data []byte
		if len(d.pkt) == 0 && *spanStart >= 0 {
			data = input[*spanStart:pos]
			d.stats.ZeroCopyPackets++
		} else {
			d.flushSpan(input, spanStart, pos)
			data = d.pkt
			d.stats.BufferedPackets++
		}
		*spanStart = -1
		pkt := d.newPacket(data, last)
		d.resetPacket()
		return pkt, pos, false, nil
	}

	// Page body exhausted mid-packet (final lacing 255) or empty page.
	d.flushSpan(input, spanStart, pos)
	if err := d.finishPage(); err != nil {
		return nil, pos, false, d.fail(err)
	}
	return nil, pos, false, nil
}

// emit walks the validated page body in CRC mode, one packet per call.
// A nil packet with nil error means the page is exhausted.
func (d *Demuxer) emit() (*Packet, error) {
	for d.segIndex < d.page.segments {
		lacing := int(d.segs[d.segIndex])
		d.bodyPos += lacing
		d.pktLen += lacing
		d.segIndex++
		if d.skip == skipNone && d.pktLen > d.maxPacket {
			d.skip = skipOversize
			d.pkt = d.pkt[:0]
			d.emitStart = d.bodyPos
		}
		if lacing == maxSegmentSize {
			continue
		}

		last := d.segIndex == d.page.segments
		if last {
			if err := d.finishPage(); err != nil {
				return nil, d.fail(err)
			}
		}
		span := d.body[d.emitStart:d.bodyPos]
		d.emitStart = d.bodyPos
		switch d.skip {
		case skipOversize:
			d.resetPacket()
			d.stats.SkippedPackets++
			return nil, ErrPacketSkipped
		case skipForeign:
			d.resetPacket()
			if last {
				return nil, nil
			}
			continue
		}

		var data []byte
		if len(d.pkt) == 0 {
			data = span
		} else {
			d.appendPacket(span)
			data = d.pkt
		}
		d.stats.BufferedPackets++
		pkt := d.newPacket(data, last)
		d.resetPacket()
		return pkt, nil
	}

	// Page exhausted mid-packet; carry the partial bytes before the body
	// buffer is reused for the next page.
	if d.skip == skipNone && d.bodyPos > d.emitStart {
		d.appendPacket(d.body[d.emitStart:d.bodyPos])
	}
	if err := d.finishPage(); err != nil {
		return nil, d.fail(err)
	}
	return nil, nil
}

// CurrentPageHasContinuedFlag reports whether the page whose body is being
// consumed carries the continued-packet flag.
func (d *Demuxer) CurrentPageHasContinuedFlag() bool {
	return d.page.continued
}

// PreviousPageEndedWithContinuedPacket reports whether the most recently
// completed page ended with a lacing value of 255, i.e. whether the next
// page must carry the continued-packet flag.
func (d *Demuxer) PreviousPageEndedWithContinuedPacket() bool {
	return d.prevEndedContinued
}

// Reset returns the demuxer to its initial state for a new stream. Internal
// buffers are retained for reuse and cumulative statistics are preserved.
func (d *Demuxer) Reset() {
	d.phase = phaseHeader
	d.hdrFill = 0
	d.segFill = 0
	d.page = pageHeader{}
	d.segIndex = 0
	d.segRemain = 0
	d.inSegment = false
	d.resetPacket()
	d.bodyFill = 0
	d.bodyPos = 0
	d.emitStart = 0
	d.pages = 0
	d.serial = 0
	d.sequence = 0
	d.eosSeen = false
	d.prevEndedContinued = false
	d.failed = nil
}

// Stats returns delivery and buffering statistics.
func (d *Demuxer) Stats() Stats {
	s := d.stats
	s.BufferCapacity = cap(d.pkt)
	return s
}

// checkPage applies the stream-level framing rules to a newly parsed page
// header.
func (d *Demuxer) checkPage(h pageHeader) error {
	if d.eosSeen {
		return fmt.Errorf("%w: page after end of stream", ErrEOSViolation)
	}
	if d.pages == 0 {
		if !h.bos {
			return fmt.Errorf("%w: first page missing flag", ErrBOSViolation)
		}
		d.serial = h.serial
	} else {
		if h.bos {
			return fmt.Errorf("%w: flag on page %d", ErrBOSViolation, h.sequence)
		}
		if h.serial != d.serial {
			return fmt.Errorf("%w: got %#x, want %#x", ErrSerialMismatch, h.serial, d.serial)
		}
		if h.sequence != d.sequence+1 {
			return fmt.Errorf("%w: got %d, want %d", ErrSequenceGap, h.sequence, d.sequence+1)
		}
	}
	d.sequence = h.sequence
	d.pages++
	return nil
}

// finishPage runs end-of-page bookkeeping: the end-of-stream lacing rule
// and the continued-packet prediction for the following page.
func (d *Demuxer) finishPage() error {
	endedContinued := d.page.segments > 0 && d.segs[d.page.segments-1] == maxSegmentSize
	if d.page.eos {
		if endedContinued {
			return fmt.Errorf("%w: end-of-stream page ends mid-packet", ErrEOSViolation)
		}
		d.eosSeen = true
	}
	d.prevEndedContinued = endedContinued
	d.phase = phaseHeader
	d.hdrFill = 0
	return nil
}

func (d *Demuxer) bodyLen() int {
	n := 0
	for _, l := range d.segs[:d.page.segments] {
		n += int(l)
	}
	return n
}

func (d *Demuxer) newPacket(data []byte, last bool) *Packet {
	return &Packet{
		Data:       data,
		GranulePos: d.page.granulePos,
		BOS:        d.page.bos,
		EOS:        d.page.eos && last,
		LastOnPage: last,
	}
}

// flushSpan moves the current packet's unflushed input bytes into the
// assembly buffer, switching the packet from zero-copy to buffered delivery.
func (d *Demuxer) flushSpan(input []byte, spanStart *int, pos int) {
	if *spanStart < 0 {
		return
	}
	d.appendPacket(input[*spanStart:pos])
	*spanStart = -1
}

func (d *Demuxer) appendPacket(b []byte) {
	if d.pkt == nil {
		d.pkt = make([]byte, 0, d.initialBuf)
	}
	d.pkt = append(d.pkt, b...)
	if cap(d.pkt) > d.stats.MaxBufferCapacity {
		d.stats.MaxBufferCapacity = cap(d.pkt)
	}
}

func (d *Demuxer) resetPacket() {
	d.pkt = d.pkt[:0]
	d.pktLen = 0
	d.skip = skipNone
}

// assembling reports whether a packet is partially assembled, i.e. the
// previous page ended with a lacing value of 255.
func (d *Demuxer) assembling() bool {
	return d.pktLen > 0
}

func (d *Demuxer) fail(err error) error {
	d.failed = err
	return err
}
