// Package oggopus implements a streaming Ogg Opus decoder: a state machine
// that extracts Opus packets from an Ogg container fed in arbitrarily small
// chunks and decodes them to interleaved 16-bit PCM, enforcing the framing
// rules of RFC 7845 along the way.
//
// The central type is [Decoder]. Construction never fails; the demuxer and
// codec are allocated lazily on the first [Decoder.Decode] call. Each call
// consumes at most one packet's worth of input, reports exactly how many
// bytes it consumed, and produces zero or more samples per channel:
//
//	dec := oggopus.NewDecoder()
//	pcm := make([]int16, 960*2)
//	for len(data) > 0 {
//		n, samples, err := dec.Decode(data, pcm)
//		if errors.Is(err, oggopus.ErrBufferTooSmall) {
//			pcm = make([]int16, dec.RequiredOutputLen())
//			continue
//		}
//		if err != nil {
//			return err
//		}
//		if samples > 0 {
//			sink(pcm[:samples*dec.Channels()])
//		}
//		data = data[n:]
//	}
//
// A zero sample count with a nil error means the decoder needs more input.
// Callers must advance their input by the consumed byte count before the
// next call; bytes may be consumed even when no samples are produced, since
// partial pages are buffered internally.
//
// A Decoder is not safe for concurrent use. Decode multiple streams with
// one Decoder per stream; instances share no mutable state.
package oggopus
