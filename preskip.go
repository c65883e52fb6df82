package oggopus

import "fmt"

// validSampleRate reports whether Opus can decode natively at the rate.
func validSampleRate(rate int) bool {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return true
	}
	return false
}

// applyPreSkip trims the stream's priming samples from freshly decoded
// output (RFC 7845 Section 4.2). The OpusHead pre-skip count is expressed
// at the 48 kHz reference rate and scales down with the output rate.
//
// decoded is the sample count per channel the codec just wrote to the front
// of pcm. Returns the count that survives trimming; surviving samples are
// moved to the front of pcm in place.
func (d *Decoder) applyPreSkip(pcm []int16, decoded int) (int, error) {
	if !d.preSkipDone && d.head.PreSkip > 0 {
		if !validSampleRate(d.sampleRate) {
			return 0, fmt.Errorf("%w: unsupported sample rate %d", ErrInputInvalid, d.sampleRate)
		}
		preSkip := uint64(d.head.PreSkip) * uint64(d.sampleRate) / referenceRate

		total := d.samplesDecodedTotal
		switch {
		case total+uint64(decoded) <= preSkip:
			// Entire frame inside the skip window.
			d.samplesDecodedTotal += uint64(decoded)
			return 0, nil
		case total < preSkip:
			// Frame straddles the window boundary: drop the leading
			// samples and shift the remainder to the front.
			skip := int(preSkip - total)
			keep := decoded - skip
			ch := d.outputChannels
			copy(pcm, pcm[skip*ch:(skip+keep)*ch])
			d.samplesDecodedTotal += uint64(decoded)
			d.preSkipDone = true
			return keep, nil
		}
		d.preSkipDone = true
	}
	d.samplesDecodedTotal += uint64(decoded)
	return decoded, nil
}
