package oggopus

import (
	"errors"
	"fmt"

	"github.com/zsiec/oggopus/ogg"
	"github.com/zsiec/oggopus/opus"
)

const (
	// DefaultSampleRate is the output rate used when no option overrides
	// it. 48 kHz is the Opus reference rate, so no resampling occurs.
	DefaultSampleRate = 48000

	// initialBufferSize seeds the demuxer's packet assembly buffer.
	initialBufferSize = 1024

	// maxAudioPacketSize bounds a single Opus packet: 255 streams at the
	// 120 ms self-delimited maximum is far below this, so anything larger
	// is corruption rather than audio.
	maxAudioPacketSize = 61440

	// Comment header bounds from RFC 7845 Section 5.2. The ceiling of
	// 120 MB accommodates embedded album art; the floor is the fixed
	// preamble: magic, vendor length and list length.
	minTagsSize = 16
	maxTagsSize = 125829120

	// invalidGranule is the sentinel for a page with no completed packets.
	invalidGranule = -1

	// referenceRate is the clock the pre-skip count and granule positions
	// are expressed in, regardless of output rate.
	referenceRate = 48000
)

type state uint8

const (
	stateAwaitHead state = iota
	stateAwaitTags
	stateDecoding
)

// Decoder is the Ogg Opus streaming state machine. The zero value is not
// usable; construct with NewDecoder.
type Decoder struct {
	sampleRate      int
	channelOverride int
	enableCRC       bool
	codecFactory    CodecFactory
	src             PacketSource

	state state
	head  *opus.Head
	codec Codec

	outputChannels int
	headSeen       bool
	tagsSeen       bool
	eosSeen        bool

	packetsOnPage   int
	expectContinued bool

	lastGranule      int64
	firstPageSamples int64

	samplesDecodedTotal uint64
	preSkipDone         bool
	lastRequiredLen     int

	pending *pendingPacket
}

// pendingPacket holds a packet whose processing failed retryably, along with
// the byte count the original call buffered so the retry can report it.
type pendingPacket struct {
	pkt      ogg.Packet
	consumed int
}

// NewDecoder returns a Decoder producing interleaved 16-bit PCM at 48 kHz
// with the stream's own channel count. Options adjust both.
func NewDecoder(opts ...func(*Decoder)) *Decoder {
	d := &Decoder{
		sampleRate:       DefaultSampleRate,
		codecFactory:     defaultCodecFactory,
		firstPageSamples: -1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// DecoderOptSampleRate sets the output sample rate. Opus decodes natively
// at 8, 12, 16, 24 and 48 kHz; other values fail on the first audio packet.
func DecoderOptSampleRate(rate int) func(*Decoder) {
	return func(d *Decoder) {
		d.sampleRate = rate
	}
}

// DecoderOptChannels forces the output channel count regardless of the
// stream's, letting the codec up- or downmix. Zero keeps the stream's.
func DecoderOptChannels(n int) func(*Decoder) {
	return func(d *Decoder) {
		d.channelOverride = n
	}
}

// DecoderOptCRC enables page checksum verification in the demuxer, at the
// cost of buffering each page whole.
func DecoderOptCRC() func(*Decoder) {
	return func(d *Decoder) {
		d.enableCRC = true
	}
}

// DecoderOptPacketSource substitutes the container demultiplexer.
func DecoderOptPacketSource(src PacketSource) func(*Decoder) {
	return func(d *Decoder) {
		d.src = src
	}
}

// DecoderOptCodecFactory substitutes the codec constructor.
func DecoderOptCodecFactory(f CodecFactory) func(*Decoder) {
	return func(d *Decoder) {
		d.codecFactory = f
	}
}

// Decode feeds input bytes through the demuxer and, once a whole packet is
// available, processes it. It returns the number of input bytes consumed
// and the number of samples per channel written to pcm. Both may be zero:
// zero samples with a nil error means more input is needed.
//
// pcm may be nil until the stream's headers have been processed. After a
// retryable error (ErrBufferTooSmall, ErrAllocationFailed) the failing call
// reports zero bytes consumed; the deferred packet is reprocessed on the
// next call before any new input is read.
func (d *Decoder) Decode(input []byte, pcm []int16) (bytesConsumed, samplesDecoded int, err error) {
	if input == nil {
		return 0, 0, fmt.Errorf("%w: nil input", ErrInputInvalid)
	}
	if d.state == stateDecoding {
		if pcm == nil {
			return 0, 0, fmt.Errorf("%w: nil output buffer", ErrInputInvalid)
		}
		if len(pcm) == 0 {
			return 0, 0, fmt.Errorf("%w: empty output buffer", ErrBufferTooSmall)
		}
	}
	// No pages may follow one flagged end of stream (RFC 3533 Section 6).
	if d.eosSeen {
		return 0, 0, fmt.Errorf("%w: input after end of stream", ErrInputInvalid)
	}
	if d.src == nil {
		d.src = d.newDemuxer()
	}

	if d.pending != nil {
		pkt := d.pending.pkt
		samples, perr := d.processPacket(&pkt, pcm)
		if retryable(perr) {
			return 0, 0, perr
		}
		consumed := d.pending.consumed
		d.pending = nil
		return consumed, samples, perr
	}

	pkt, consumed, err := d.src.NextPacket(input)
	if err != nil {
		if errors.Is(err, ogg.ErrPacketSkipped) {
			return consumed, 0, d.packetSkipped()
		}
		return consumed, 0, fmt.Errorf("%w: %s", ErrInputInvalid, err)
	}
	if pkt == nil {
		return consumed, 0, nil
	}

	samples, perr := d.processPacket(pkt, pcm)
	if retryable(perr) {
		d.stash(pkt, consumed)
		return 0, 0, perr
	}
	return consumed, samples, perr
}

func retryable(err error) bool {
	return errors.Is(err, ErrBufferTooSmall) || errors.Is(err, ErrAllocationFailed)
}

func (d *Decoder) newDemuxer() PacketSource {
	opts := []func(*ogg.Demuxer){
		ogg.DemuxerOptInitialBufferSize(initialBufferSize),
		ogg.DemuxerOptMaxPacketSize(maxTagsSize),
	}
	if d.enableCRC {
		opts = append(opts, ogg.DemuxerOptCRC())
	}
	return ogg.NewDemuxer(opts...)
}

// stash copies a retryably failed packet so the next Decode call reprocesses
// it before reading new input. The copy is required because packet data is
// only valid until the source's next use.
func (d *Decoder) stash(pkt *ogg.Packet, consumed int) {
	p := *pkt
	p.Data = append([]byte(nil), pkt.Data...)
	d.pending = &pendingPacket{pkt: p, consumed: consumed}
}

// packetSkipped handles a packet the demuxer discarded for exceeding the
// size ceiling. Only the comment header may legitimately grow that large
// (embedded cover art); treat the skip as having satisfied it.
func (d *Decoder) packetSkipped() error {
	if d.state == stateAwaitTags {
		d.tagsSeen = true
		d.state = stateDecoding
	}
	return nil
}

func (d *Decoder) processPacket(pkt *ogg.Packet, pcm []int16) (int, error) {
	// Cross-check the continued-packet flag once per page: it must match
	// what the previous page's ending predicted (RFC 3533 Section 6).
	// This catches demuxer resynchronization after damaged input.
	if d.packetsOnPage == 0 &&
		d.src.CurrentPageHasContinuedFlag() != d.expectContinued {
		return 0, fmt.Errorf("%w: continued-packet flag mismatch", ErrInputInvalid)
	}

	switch d.state {
	case stateAwaitHead:
		return 0, d.handleHead(pkt)
	case stateAwaitTags:
		return 0, d.handleTags(pkt)
	default:
		return d.handleAudio(pkt, pcm)
	}
}

// handleHead validates the identification header and constructs the codec.
// The header-seen latch is only set once construction succeeds, so an
// allocation failure leaves the packet replayable.
func (d *Decoder) handleHead(pkt *ogg.Packet) error {
	if d.headSeen {
		return fmt.Errorf("%w: duplicate OpusHead", ErrInputInvalid)
	}
	// The identification header must open the logical stream and sit
	// alone on its page (RFC 7845 Section 3).
	if !pkt.BOS || !opus.IsHead(pkt.Data) {
		return fmt.Errorf("%w: stream does not begin with OpusHead", ErrInputInvalid)
	}
	if pkt.LastOnPage && d.packetsOnPage != 0 {
		return fmt.Errorf("%w: OpusHead shares its page", ErrInputInvalid)
	}
	// Header pages carry no timestamp.
	if pkt.GranulePos != 0 {
		return fmt.Errorf("%w: nonzero granule position on OpusHead page", ErrInputInvalid)
	}

	head, err := opus.ParseHead(pkt.Data)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInputInvalid, err)
	}
	channels := int(head.Channels)
	if d.channelOverride != 0 {
		channels = d.channelOverride
	}
	codec, err := d.codecFactory(head, d.sampleRate, channels)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAllocationFailed, err)
	}

	d.head = head
	d.codec = codec
	d.outputChannels = channels
	d.headSeen = true
	d.updatePageTracking(pkt.LastOnPage)
	d.state = stateAwaitTags
	return nil
}

func (d *Decoder) handleTags(pkt *ogg.Packet) error {
	if d.tagsSeen {
		return fmt.Errorf("%w: duplicate OpusTags", ErrInputInvalid)
	}
	if !opus.IsTags(pkt.Data) {
		return fmt.Errorf("%w: expected OpusTags after OpusHead", ErrInputInvalid)
	}
	if len(pkt.Data) < minTagsSize {
		return fmt.Errorf("%w: OpusTags truncated at %d bytes", ErrInputInvalid, len(pkt.Data))
	}
	if int64(len(pkt.Data)) > maxTagsSize {
		return fmt.Errorf("%w: OpusTags exceeds %d bytes", ErrInputInvalid, maxTagsSize)
	}
	// Like OpusHead, the comment header sits alone on its page(s) and its
	// completing page carries no timestamp.
	if pkt.LastOnPage {
		if d.packetsOnPage != 0 {
			return fmt.Errorf("%w: OpusTags shares its page", ErrInputInvalid)
		}
		if pkt.GranulePos != 0 {
			return fmt.Errorf("%w: nonzero granule position on OpusTags page", ErrInputInvalid)
		}
	}

	d.tagsSeen = true
	d.updatePageTracking(pkt.LastOnPage)
	d.state = stateDecoding
	return nil
}

func (d *Decoder) handleAudio(pkt *ogg.Packet, pcm []int16) (int, error) {
	if len(pkt.Data) == 0 {
		return 0, fmt.Errorf("%w: empty audio packet", ErrInputInvalid)
	}
	if len(pkt.Data) > maxAudioPacketSize {
		return 0, fmt.Errorf("%w: %d byte audio packet", ErrInputInvalid, len(pkt.Data))
	}
	if d.codec == nil {
		return 0, ErrNotInitialized
	}

	// Size the output from the packet's table of contents before decoding,
	// so an undersized buffer fails without consuming input or touching
	// state. The caller can grow to RequiredOutputLen and retry.
	if n := opus.PacketSamples(pkt.Data, d.sampleRate); n > 0 {
		d.lastRequiredLen = n * d.outputChannels
		if len(pcm) < d.lastRequiredLen {
			return 0, fmt.Errorf("%w: need %d samples, have %d",
				ErrBufferTooSmall, d.lastRequiredLen, len(pcm))
		}
	}

	frames := len(pcm) / d.outputChannels
	decoded, err := d.codec.Decode(pkt.Data, pcm[:frames*d.outputChannels])
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrDecodeFailed, err)
	}

	if pkt.EOS {
		d.eosSeen = true
	}
	d.updatePageTracking(pkt.LastOnPage)
	if err := d.validateGranule(pkt, decoded); err != nil {
		return 0, err
	}
	return d.applyPreSkip(pcm, decoded)
}

func (d *Decoder) updatePageTracking(lastOnPage bool) {
	d.packetsOnPage++
	if lastOnPage {
		d.packetsOnPage = 0
		d.expectContinued = d.src.PreviousPageEndedWithContinuedPacket()
	}
}

// validateGranule enforces the two granule position rules of RFC 7845
// Section 4: positions never decrease, and the first audio page with a
// position must claim at least as many samples as it decodes. An
// end-of-stream page is exempt from the second rule, since its position
// rounds down to trim trailing samples.
func (d *Decoder) validateGranule(pkt *ogg.Packet, decoded int) error {
	gp := pkt.GranulePos
	if gp <= 0 {
		// Zero, negative, or the -1 no-packets-completed sentinel:
		// nothing to check against.
		return nil
	}

	if d.firstPageSamples == -1 && d.lastGranule == 0 {
		d.firstPageSamples = 0
	}
	if d.firstPageSamples >= 0 {
		d.firstPageSamples += int64(decoded)
		if pkt.LastOnPage {
			if !pkt.EOS && gp < d.firstPageSamples {
				return fmt.Errorf("%w: first audio page claims %d of %d decoded samples",
					ErrInputInvalid, gp, d.firstPageSamples)
			}
			d.firstPageSamples = -1
		}
	}

	if d.lastGranule > 0 && gp < d.lastGranule {
		return fmt.Errorf("%w: granule position %d after %d",
			ErrInputInvalid, gp, d.lastGranule)
	}
	d.lastGranule = gp
	return nil
}

// SampleRate returns the configured output rate, or zero before the stream's
// headers have been processed.
func (d *Decoder) SampleRate() int {
	if d.state != stateDecoding {
		return 0
	}
	return d.sampleRate
}

// Channels returns the output channel count, or zero before the stream's
// headers have been processed.
func (d *Decoder) Channels() int {
	return d.outputChannels
}

// BitDepth returns the PCM sample width in bits. Output is always 16-bit.
func (d *Decoder) BitDepth() int { return 16 }

// BytesPerSample returns the PCM sample width in bytes.
func (d *Decoder) BytesPerSample() int { return 2 }

// PreSkip returns the stream's priming sample count at the 48 kHz reference
// rate, or zero before the headers have been processed.
func (d *Decoder) PreSkip() uint16 {
	if d.state != stateDecoding || d.head == nil {
		return 0
	}
	return d.head.PreSkip
}

// OutputGain returns the stream's Q7.8 output gain, or zero before the
// headers have been processed.
func (d *Decoder) OutputGain() int16 {
	if d.state != stateDecoding || d.head == nil {
		return 0
	}
	return d.head.OutputGain
}

// RequiredOutputLen returns the output slice length the most recent audio
// packet needed, in samples across all channels. Valid after
// ErrBufferTooSmall.
func (d *Decoder) RequiredOutputLen() int {
	return d.lastRequiredLen
}

// IsInitialized reports whether both headers have been processed and audio
// packets are accepted.
func (d *Decoder) IsInitialized() bool {
	return d.state == stateDecoding
}

// Reset returns the decoder to its initial state so it can accept a new
// stream. The configuration and the demuxer's grown buffers are kept; the
// codec is released and rebuilt from the next stream's header.
func (d *Decoder) Reset() {
	if d.src != nil {
		d.src.Reset()
	}
	d.state = stateAwaitHead
	d.head = nil
	d.codec = nil
	d.outputChannels = 0
	d.headSeen = false
	d.tagsSeen = false
	d.eosSeen = false
	d.packetsOnPage = 0
	d.expectContinued = false
	d.lastGranule = 0
	d.firstPageSamples = -1
	d.samplesDecodedTotal = 0
	d.preSkipDone = false
	d.lastRequiredLen = 0
	d.pending = nil
}
