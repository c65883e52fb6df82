package opus

import "github.com/thesyncim/gopus"

// maxPacketDurationMs is the largest duration an Opus packet may carry
// (RFC 6716 Section 3.2.5).
const maxPacketDurationMs = 120

// PacketSamples returns the number of samples per channel a packet will
// decode to at the given sample rate, determined from the TOC byte and
// frame count without decoding. It returns 0 when the packet framing is
// malformed or the total exceeds the 120 ms packet duration limit.
func PacketSamples(packet []byte, sampleRate int) int {
	info, err := gopus.ParsePacket(packet)
	if err != nil {
		return 0
	}
	perFrame := info.TOC.FrameSize * sampleRate / 48000
	samples := info.FrameCount * perFrame
	if samples <= 0 || samples > maxPacketDurationMs*sampleRate/1000 {
		return 0
	}
	return samples
}
