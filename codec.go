package oggopus

import "github.com/zsiec/oggopus/opus"

// Codec decodes raw Opus packets to interleaved PCM. Decode returns the
// number of samples produced per channel; pcm must be large enough to hold
// them for every channel.
type Codec interface {
	Decode(packet []byte, pcm []int16) (int, error)
}

// CodecFactory builds a Codec for a parsed identification header. The
// Decoder invokes it once per stream, after the header validates, with the
// configured output rate and resolved channel count.
type CodecFactory func(head *opus.Head, sampleRate, channels int) (Codec, error)

func defaultCodecFactory(head *opus.Head, sampleRate, channels int) (Codec, error) {
	return opus.NewCodec(head, sampleRate, channels)
}
