package opus

import (
	"errors"
	"math"

	"github.com/thesyncim/gopus"
	"github.com/thesyncim/gopus/multistream"
)

// ErrEmptyPacket is returned when a zero-length packet is handed to the
// decoder. RFC 7845 Section 4.1 requires audio packets to carry at least
// the TOC byte.
var ErrEmptyPacket = errors.New("opus: empty packet")

// maxPacketBytes is the largest Opus packet the container layer delivers.
const maxPacketBytes = 61440

// Codec decodes Opus packets to interleaved 16-bit PCM. The decoding path
// is chosen once at construction from the header's channel mapping family:
// family 0 uses the plain decoder, everything else the multistream decoder
// with the header's stream layout. The choice is immutable afterwards.
//
// A Codec is not safe for concurrent use.
type Codec struct {
	plain *gopus.Decoder
	multi *multistream.Decoder

	sampleRate int
	channels   int
	gain       float64 // linear factor derived from the header's Q7.8 dB gain
}

// NewCodec builds a decoder for the stream described by head, producing
// output at the given sample rate and channel count. The header's output
// gain, when nonzero, is applied to every decoded sample.
func NewCodec(head *Head, sampleRate, channels int) (*Codec, error) {
	c := &Codec{
		sampleRate: sampleRate,
		channels:   channels,
		gain:       1,
	}
	if head.MappingFamily == 0 {
		cfg := gopus.DefaultDecoderConfig(sampleRate, channels)
		// The container layer passes audio packets up to 60 KiB, well past
		// the default cap.
		cfg.MaxPacketBytes = maxPacketBytes
		dec, err := gopus.NewDecoder(cfg)
		if err != nil {
			return nil, err
		}
		c.plain = dec
	} else {
		dec, err := multistream.NewDecoder(sampleRate, channels,
			int(head.StreamCount), int(head.CoupledCount), head.Mapping)
		if err != nil {
			return nil, err
		}
		c.multi = dec
	}
	if head.OutputGain != 0 {
		// Q7.8 fixed-point dB: gain/256 dB, 20 dB per decade.
		c.gain = math.Pow(10, float64(head.OutputGain)/(256*20))
	}
	return c, nil
}

// Decode decodes one packet into pcm and returns the number of samples
// produced per channel. pcm must hold at least samples*channels values.
func (c *Codec) Decode(packet []byte, pcm []int16) (int, error) {
	if len(packet) == 0 {
		return 0, ErrEmptyPacket
	}

	var n int
	if c.plain != nil {
		var err error
		n, err = c.plain.DecodeInt16(packet, pcm)
		if err != nil {
			return 0, err
		}
	} else {
		// The multistream decoder takes the per-frame sample count, which
		// the TOC byte states at the 48 kHz reference rate.
		frameSize := gopus.ParseTOC(packet[0]).FrameSize * c.sampleRate / 48000
		out, err := c.multi.DecodeToInt16(packet, frameSize)
		if err != nil {
			return 0, err
		}
		if len(out) > len(pcm) {
			return 0, gopus.ErrBufferTooSmall
		}
		copy(pcm, out)
		n = len(out) / c.channels
	}

	if c.gain != 1 {
		applyGain(pcm[:n*c.channels], c.gain)
	}
	return n, nil
}

// SampleRate returns the configured output sample rate.
func (c *Codec) SampleRate() int { return c.sampleRate }

// Channels returns the configured output channel count.
func (c *Codec) Channels() int { return c.channels }

// Reset clears decoder state for reuse on a new stream.
func (c *Codec) Reset() {
	if c.plain != nil {
		c.plain.Reset()
	}
	if c.multi != nil {
		c.multi.Reset()
	}
}

func applyGain(pcm []int16, gain float64) {
	for i, s := range pcm {
		v := math.Round(float64(s) * gain)
		switch {
		case v > math.MaxInt16:
			pcm[i] = math.MaxInt16
		case v < math.MinInt16:
			pcm[i] = math.MinInt16
		default:
			pcm[i] = int16(v)
		}
	}
}
