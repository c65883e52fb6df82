package oggopus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/zsiec/oggopus/ogg"
	"github.com/zsiec/oggopus/opus"
)

// tocNB20ms is a one-frame 20 ms SILK narrowband TOC byte: 960 samples at
// the 48 kHz reference rate.
const tocNB20ms = 1 << 3

func headPacket(channels uint8, preSkip uint16, gain int16) []byte {
	h := make([]byte, 19)
	copy(h, "OpusHead")
	h[8] = 1
	h[9] = channels
	binary.LittleEndian.PutUint16(h[10:], preSkip)
	binary.LittleEndian.PutUint32(h[12:], 48000)
	binary.LittleEndian.PutUint16(h[16:], uint16(gain))
	return h
}

func tagsPacket() []byte {
	tags := []byte("OpusTags")
	tags = binary.LittleEndian.AppendUint32(tags, 4)
	tags = append(tags, "test"...)
	tags = binary.LittleEndian.AppendUint32(tags, 0)
	return tags
}

func audioPacket(fill byte, extra int) []byte {
	p := make([]byte, 1+extra)
	p[0] = tocNB20ms
	for i := 1; i < len(p); i++ {
		p[i] = fill
	}
	return p
}

// sourcedPacket pairs a packet with the page-flag answers the source gives
// while it is current.
type sourcedPacket struct {
	pkt ogg.Packet

	// curContinued is CurrentPageHasContinuedFlag while this packet is
	// the most recent one; prevEnded is PreviousPageEndedWithContinuedPacket
	// after it has been delivered.
	curContinued bool
	prevEnded    bool
}

// fakeSource returns one scripted packet per call, consuming all offered
// input.
type fakeSource struct {
	packets []sourcedPacket
	i       int
	resets  int

	curContinued bool
	prevEnded    bool
}

func (s *fakeSource) NextPacket(input []byte) (*ogg.Packet, int, error) {
	if s.i >= len(s.packets) {
		return nil, len(input), nil
	}
	sp := s.packets[s.i]
	s.i++
	s.curContinued = sp.curContinued
	s.prevEnded = sp.prevEnded
	return &sp.pkt, len(input), nil
}

func (s *fakeSource) CurrentPageHasContinuedFlag() bool          { return s.curContinued }
func (s *fakeSource) PreviousPageEndedWithContinuedPacket() bool { return s.prevEnded }
func (s *fakeSource) Reset()                                     { s.resets++; s.i = 0 }

// fakeCodec reports the TOC-derived sample count and fills the output with
// a ramp so trimming is observable.
type fakeCodec struct {
	channels int
	rate     int // output rate; 0 means 48000
	calls    int
	err      error
}

func (c *fakeCodec) Decode(packet []byte, pcm []int16) (int, error) {
	c.calls++
	if c.err != nil {
		return 0, c.err
	}
	rate := c.rate
	if rate == 0 {
		rate = 48000
	}
	n := opus.PacketSamples(packet, rate)
	for i := 0; i < n*c.channels; i++ {
		pcm[i] = int16(i)
	}
	return n, nil
}

func fakeFactory(codec *fakeCodec) CodecFactory {
	return func(head *opus.Head, sampleRate, channels int) (Codec, error) {
		codec.channels = channels
		return codec, nil
	}
}

// headerPackets scripts a well-formed stream prefix: OpusHead alone on a
// BOS page, OpusTags alone on the next page.
func headerPackets(channels uint8, preSkip uint16) []sourcedPacket {
	return []sourcedPacket{
		{pkt: ogg.Packet{Data: headPacket(channels, preSkip, 0), BOS: true, LastOnPage: true, GranulePos: 0}},
		{pkt: ogg.Packet{Data: tagsPacket(), LastOnPage: true, GranulePos: 0}},
	}
}

func newFakeDecoder(t *testing.T, src *fakeSource, codec *fakeCodec, opts ...func(*Decoder)) *Decoder {
	t.Helper()
	opts = append([]func(*Decoder){
		DecoderOptPacketSource(src),
		DecoderOptCodecFactory(fakeFactory(codec)),
	}, opts...)
	return NewDecoder(opts...)
}

func TestHeaderSequence(t *testing.T) {
	t.Parallel()

	src := &fakeSource{packets: headerPackets(2, 0)}
	codec := &fakeCodec{}
	d := newFakeDecoder(t, src, codec)

	if d.IsInitialized() {
		t.Fatal("initialized before any input")
	}
	if d.SampleRate() != 0 || d.Channels() != 0 || d.PreSkip() != 0 {
		t.Error("accessors nonzero before headers")
	}

	in := []byte{0}
	n, samples, err := d.Decode(in, nil)
	if err != nil || samples != 0 {
		t.Fatalf("head: n=%d samples=%d err=%v", n, samples, err)
	}
	if d.IsInitialized() {
		t.Fatal("initialized after head only")
	}

	if _, _, err := d.Decode(in, nil); err != nil {
		t.Fatalf("tags: %v", err)
	}
	if !d.IsInitialized() {
		t.Fatal("not initialized after both headers")
	}
	if d.SampleRate() != 48000 || d.Channels() != 2 {
		t.Errorf("rate=%d channels=%d", d.SampleRate(), d.Channels())
	}
	if d.BitDepth() != 16 || d.BytesPerSample() != 2 {
		t.Errorf("bit depth %d, bytes %d", d.BitDepth(), d.BytesPerSample())
	}
}

func TestAudioDecode(t *testing.T) {
	t.Parallel()

	packets := append(headerPackets(1, 0),
		sourcedPacket{pkt: ogg.Packet{Data: audioPacket(1, 10), LastOnPage: true, GranulePos: 960}})
	src := &fakeSource{packets: packets}
	codec := &fakeCodec{}
	d := newFakeDecoder(t, src, codec)

	in := []byte("xxxx")
	for i := 0; i < 2; i++ {
		if _, _, err := d.Decode(in, nil); err != nil {
			t.Fatalf("header %d: %v", i, err)
		}
	}
	pcm := make([]int16, 960)
	n, samples, err := d.Decode(in, pcm)
	if err != nil {
		t.Fatalf("audio: %v", err)
	}
	if n != len(in) {
		t.Errorf("consumed %d, want %d", n, len(in))
	}
	if samples != 960 {
		t.Errorf("samples = %d, want 960", samples)
	}
	if codec.calls != 1 {
		t.Errorf("codec calls = %d, want 1", codec.calls)
	}
}

func TestStreamMustOpenWithHead(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pkt  ogg.Packet
	}{
		{"not_opushead", ogg.Packet{Data: audioPacket(0, 4), BOS: true, LastOnPage: true}},
		{"missing_bos", ogg.Packet{Data: headPacket(1, 0, 0), LastOnPage: true}},
		{"tags_first", ogg.Packet{Data: tagsPacket(), BOS: true, LastOnPage: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := &fakeSource{packets: []sourcedPacket{{pkt: tt.pkt}}}
			d := newFakeDecoder(t, src, &fakeCodec{})
			if _, _, err := d.Decode([]byte{0}, nil); !errors.Is(err, ErrInputInvalid) {
				t.Fatalf("err = %v, want ErrInputInvalid", err)
			}
		})
	}
}

func TestDuplicateHeadRejected(t *testing.T) {
	t.Parallel()

	// A second literal OpusHead arrives where OpusTags belongs.
	src := &fakeSource{packets: []sourcedPacket{
		{pkt: ogg.Packet{Data: headPacket(1, 0, 0), BOS: true, LastOnPage: true}},
		{pkt: ogg.Packet{Data: headPacket(1, 0, 0), LastOnPage: true}},
	}}
	d := newFakeDecoder(t, src, &fakeCodec{})

	if _, _, err := d.Decode([]byte{0}, nil); err != nil {
		t.Fatalf("head: %v", err)
	}
	if _, _, err := d.Decode([]byte{0}, nil); !errors.Is(err, ErrInputInvalid) {
		t.Fatalf("err = %v, want ErrInputInvalid", err)
	}
}

func TestHeadPageMustCarryZeroGranule(t *testing.T) {
	t.Parallel()

	src := &fakeSource{packets: []sourcedPacket{
		{pkt: ogg.Packet{Data: headPacket(1, 0, 0), BOS: true, LastOnPage: true, GranulePos: 960}},
	}}
	d := newFakeDecoder(t, src, &fakeCodec{})
	if _, _, err := d.Decode([]byte{0}, nil); !errors.Is(err, ErrInputInvalid) {
		t.Fatalf("err = %v, want ErrInputInvalid", err)
	}
}

func TestTagsValidation(t *testing.T) {
	t.Parallel()

	head := sourcedPacket{pkt: ogg.Packet{Data: headPacket(1, 0, 0), BOS: true, LastOnPage: true}}

	tests := []struct {
		name string
		pkt  ogg.Packet
	}{
		{"wrong_magic", ogg.Packet{Data: audioPacket(0, 4), LastOnPage: true}},
		{"too_short", ogg.Packet{Data: []byte("OpusTags\x00\x00\x00\x00"), LastOnPage: true}},
		{"nonzero_granule", ogg.Packet{Data: tagsPacket(), LastOnPage: true, GranulePos: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			src := &fakeSource{packets: []sourcedPacket{head, {pkt: tt.pkt}}}
			d := newFakeDecoder(t, src, &fakeCodec{})
			if _, _, err := d.Decode([]byte{0}, nil); err != nil {
				t.Fatalf("head: %v", err)
			}
			if _, _, err := d.Decode([]byte{0}, nil); !errors.Is(err, ErrInputInvalid) {
				t.Fatalf("err = %v, want ErrInputInvalid", err)
			}
		})
	}
}

func TestBufferTooSmallRetries(t *testing.T) {
	t.Parallel()

	packets := append(headerPackets(2, 0),
		sourcedPacket{pkt: ogg.Packet{Data: audioPacket(1, 10), LastOnPage: true, GranulePos: 960}})
	src := &fakeSource{packets: packets}
	codec := &fakeCodec{}
	d := newFakeDecoder(t, src, codec)

	in := []byte("abcdef")
	for i := 0; i < 2; i++ {
		if _, _, err := d.Decode(in, nil); err != nil {
			t.Fatalf("header %d: %v", i, err)
		}
	}

	small := make([]int16, 16)
	n, samples, err := d.Decode(in, small)
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("err = %v, want ErrBufferTooSmall", err)
	}
	if n != 0 || samples != 0 {
		t.Errorf("failing call consumed %d, decoded %d; want 0, 0", n, samples)
	}
	if codec.calls != 0 {
		t.Errorf("codec called %d times on undersized buffer", codec.calls)
	}
	if want := 960 * 2; d.RequiredOutputLen() != want {
		t.Errorf("RequiredOutputLen = %d, want %d", d.RequiredOutputLen(), want)
	}

	// Retrying with the same too-small buffer fails identically.
	if _, _, err := d.Decode(in, small); !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("second undersized call: %v", err)
	}

	// A grown buffer succeeds and reports the original consumed count; the
	// source must not be advanced again.
	srcCalls := src.i
	pcm := make([]int16, d.RequiredOutputLen())
	n, samples, err = d.Decode(in, pcm)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n != len(in) {
		t.Errorf("retry consumed %d, want original %d", n, len(in))
	}
	if samples != 960 {
		t.Errorf("retry samples = %d, want 960", samples)
	}
	if src.i != srcCalls {
		t.Error("source advanced during retry")
	}
}

func TestAllocationFailureRetries(t *testing.T) {
	t.Parallel()

	src := &fakeSource{packets: headerPackets(1, 0)}
	codec := &fakeCodec{}
	fails := 2
	factory := func(head *opus.Head, sampleRate, channels int) (Codec, error) {
		if fails > 0 {
			fails--
			return nil, fmt.Errorf("transient")
		}
		codec.channels = channels
		return codec, nil
	}
	d := NewDecoder(DecoderOptPacketSource(src), DecoderOptCodecFactory(factory))

	in := []byte("abc")
	for i := 0; i < 2; i++ {
		n, _, err := d.Decode(in, nil)
		if !errors.Is(err, ErrAllocationFailed) {
			t.Fatalf("attempt %d: err = %v, want ErrAllocationFailed", i, err)
		}
		if n != 0 {
			t.Errorf("attempt %d consumed %d bytes", i, n)
		}
	}
	n, _, err := d.Decode(in, nil)
	if err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if n != len(in) {
		t.Errorf("final attempt consumed %d, want %d", n, len(in))
	}
	if d.IsInitialized() {
		t.Fatal("initialized before tags")
	}
}

func TestDecodeFailure(t *testing.T) {
	t.Parallel()

	packets := append(headerPackets(1, 0),
		sourcedPacket{pkt: ogg.Packet{Data: audioPacket(1, 4), LastOnPage: true, GranulePos: 960}})
	src := &fakeSource{packets: packets}
	codec := &fakeCodec{err: fmt.Errorf("corrupt frame")}
	d := newFakeDecoder(t, src, codec)

	in := []byte{0}
	for i := 0; i < 2; i++ {
		if _, _, err := d.Decode(in, nil); err != nil {
			t.Fatalf("header %d: %v", i, err)
		}
	}
	if _, _, err := d.Decode(in, make([]int16, 960)); !errors.Is(err, ErrDecodeFailed) {
		t.Fatalf("err = %v, want ErrDecodeFailed", err)
	}
}

func TestEmptyAudioPacketRejected(t *testing.T) {
	t.Parallel()

	packets := append(headerPackets(1, 0),
		sourcedPacket{pkt: ogg.Packet{Data: nil, LastOnPage: true}})
	d := newFakeDecoder(t, &fakeSource{packets: packets}, &fakeCodec{})

	in := []byte{0}
	for i := 0; i < 2; i++ {
		if _, _, err := d.Decode(in, nil); err != nil {
			t.Fatalf("header %d: %v", i, err)
		}
	}
	if _, _, err := d.Decode(in, make([]int16, 960)); !errors.Is(err, ErrInputInvalid) {
		t.Fatalf("err = %v, want ErrInputInvalid", err)
	}
}

func TestEOSLatch(t *testing.T) {
	t.Parallel()

	packets := append(headerPackets(1, 0),
		sourcedPacket{pkt: ogg.Packet{Data: audioPacket(1, 4), LastOnPage: true, EOS: true, GranulePos: 960}})
	src := &fakeSource{packets: packets}
	d := newFakeDecoder(t, src, &fakeCodec{})

	in := []byte{0}
	pcm := make([]int16, 960)
	for i := 0; i < 2; i++ {
		if _, _, err := d.Decode(in, nil); err != nil {
			t.Fatalf("header %d: %v", i, err)
		}
	}
	if _, samples, err := d.Decode(in, pcm); err != nil || samples != 960 {
		t.Fatalf("final packet: samples=%d err=%v", samples, err)
	}
	if _, _, err := d.Decode(in, pcm); !errors.Is(err, ErrInputInvalid) {
		t.Fatalf("after EOS: err = %v, want ErrInputInvalid", err)
	}
}

func TestGranuleMonotonicity(t *testing.T) {
	t.Parallel()

	packets := append(headerPackets(1, 0),
		sourcedPacket{pkt: ogg.Packet{Data: audioPacket(1, 4), LastOnPage: true, GranulePos: 1920}},
		sourcedPacket{pkt: ogg.Packet{Data: audioPacket(2, 4), LastOnPage: true, GranulePos: 960}})
	d := newFakeDecoder(t, &fakeSource{packets: packets}, &fakeCodec{})

	in := []byte{0}
	pcm := make([]int16, 960)
	for i := 0; i < 2; i++ {
		if _, _, err := d.Decode(in, nil); err != nil {
			t.Fatalf("header %d: %v", i, err)
		}
	}
	if _, _, err := d.Decode(in, pcm); err != nil {
		t.Fatalf("first audio page: %v", err)
	}
	if _, _, err := d.Decode(in, pcm); !errors.Is(err, ErrInputInvalid) {
		t.Fatalf("backwards granule: err = %v, want ErrInputInvalid", err)
	}
}

func TestFirstAudioPageGranule(t *testing.T) {
	t.Parallel()

	t.Run("undersells_decoded_samples", func(t *testing.T) {
		t.Parallel()
		// Two 960-sample packets on the first audio page but a granule
		// position of only 1000.
		packets := append(headerPackets(1, 0),
			sourcedPacket{pkt: ogg.Packet{Data: audioPacket(1, 4), GranulePos: 1000}},
			sourcedPacket{pkt: ogg.Packet{Data: audioPacket(2, 4), LastOnPage: true, GranulePos: 1000}})
		d := newFakeDecoder(t, &fakeSource{packets: packets}, &fakeCodec{})

		in := []byte{0}
		pcm := make([]int16, 960)
		for i := 0; i < 2; i++ {
			if _, _, err := d.Decode(in, nil); err != nil {
				t.Fatalf("header %d: %v", i, err)
			}
		}
		if _, _, err := d.Decode(in, pcm); err != nil {
			t.Fatalf("mid-page packet: %v", err)
		}
		if _, _, err := d.Decode(in, pcm); !errors.Is(err, ErrInputInvalid) {
			t.Fatalf("err = %v, want ErrInputInvalid", err)
		}
	})

	t.Run("eos_page_may_round_down", func(t *testing.T) {
		t.Parallel()
		packets := append(headerPackets(1, 0),
			sourcedPacket{pkt: ogg.Packet{Data: audioPacket(1, 4), LastOnPage: true, EOS: true, GranulePos: 500}})
		d := newFakeDecoder(t, &fakeSource{packets: packets}, &fakeCodec{})

		in := []byte{0}
		pcm := make([]int16, 960)
		for i := 0; i < 2; i++ {
			if _, _, err := d.Decode(in, nil); err != nil {
				t.Fatalf("header %d: %v", i, err)
			}
		}
		if _, samples, err := d.Decode(in, pcm); err != nil || samples != 960 {
			t.Fatalf("eos page: samples=%d err=%v", samples, err)
		}
	})
}

func TestContinuedFlagCrossCheck(t *testing.T) {
	t.Parallel()

	// The second audio page claims to continue a packet, but the first
	// ended cleanly.
	packets := append(headerPackets(1, 0),
		sourcedPacket{pkt: ogg.Packet{Data: audioPacket(1, 4), LastOnPage: true, GranulePos: 960}},
		sourcedPacket{pkt: ogg.Packet{Data: audioPacket(2, 4), LastOnPage: true, GranulePos: 1920}, curContinued: true})
	d := newFakeDecoder(t, &fakeSource{packets: packets}, &fakeCodec{})

	in := []byte{0}
	pcm := make([]int16, 960)
	for i := 0; i < 2; i++ {
		if _, _, err := d.Decode(in, nil); err != nil {
			t.Fatalf("header %d: %v", i, err)
		}
	}
	if _, _, err := d.Decode(in, pcm); err != nil {
		t.Fatalf("first audio page: %v", err)
	}
	if _, _, err := d.Decode(in, pcm); !errors.Is(err, ErrInputInvalid) {
		t.Fatalf("err = %v, want ErrInputInvalid", err)
	}
}

func TestInputValidation(t *testing.T) {
	t.Parallel()

	d := newFakeDecoder(t, &fakeSource{packets: headerPackets(1, 0)}, &fakeCodec{})
	if _, _, err := d.Decode(nil, nil); !errors.Is(err, ErrInputInvalid) {
		t.Fatalf("nil input: err = %v, want ErrInputInvalid", err)
	}

	in := []byte{0}
	for i := 0; i < 2; i++ {
		if _, _, err := d.Decode(in, nil); err != nil {
			t.Fatalf("header %d: %v", i, err)
		}
	}
	if _, _, err := d.Decode(in, nil); !errors.Is(err, ErrInputInvalid) {
		t.Fatalf("nil pcm while decoding: err = %v, want ErrInputInvalid", err)
	}
	if _, _, err := d.Decode(in, []int16{}); !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("empty pcm while decoding: err = %v, want ErrBufferTooSmall", err)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	packets := append(headerPackets(1, 0),
		sourcedPacket{pkt: ogg.Packet{Data: audioPacket(1, 4), LastOnPage: true, EOS: true, GranulePos: 960}})
	src := &fakeSource{packets: packets}
	d := newFakeDecoder(t, src, &fakeCodec{})

	in := []byte{0}
	pcm := make([]int16, 960)
	for i := 0; i < 3; i++ {
		if _, _, err := d.Decode(in, pcm); err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
	}
	if !d.IsInitialized() {
		t.Fatal("not initialized after full stream")
	}

	d.Reset()
	if d.IsInitialized() || d.Channels() != 0 || d.PreSkip() != 0 {
		t.Error("state survives Reset")
	}
	if src.resets != 1 {
		t.Errorf("source resets = %d, want 1", src.resets)
	}

	// The same stream plays again from the top.
	for i := 0; i < 3; i++ {
		if _, _, err := d.Decode(in, pcm); err != nil {
			t.Fatalf("replay packet %d: %v", i, err)
		}
	}
}

func TestChannelOverride(t *testing.T) {
	t.Parallel()

	src := &fakeSource{packets: headerPackets(2, 0)}
	codec := &fakeCodec{}
	d := newFakeDecoder(t, src, codec, DecoderOptChannels(1))

	in := []byte{0}
	for i := 0; i < 2; i++ {
		if _, _, err := d.Decode(in, nil); err != nil {
			t.Fatalf("header %d: %v", i, err)
		}
	}
	if d.Channels() != 1 {
		t.Errorf("Channels = %d, want override 1", d.Channels())
	}
	if codec.channels != 1 {
		t.Errorf("factory channels = %d, want 1", codec.channels)
	}
}

func TestHeadAccessors(t *testing.T) {
	t.Parallel()

	src := &fakeSource{packets: headerPackets(1, 312)}
	d := newFakeDecoder(t, src, &fakeCodec{})

	in := []byte{0}
	for i := 0; i < 2; i++ {
		if _, _, err := d.Decode(in, nil); err != nil {
			t.Fatalf("header %d: %v", i, err)
		}
	}
	if d.PreSkip() != 312 {
		t.Errorf("PreSkip = %d, want 312", d.PreSkip())
	}
	if d.OutputGain() != 0 {
		t.Errorf("OutputGain = %d, want 0", d.OutputGain())
	}
}
