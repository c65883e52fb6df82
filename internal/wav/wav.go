// Package wav writes 16-bit PCM WAV files incrementally. The header is
// written with placeholder sizes and patched on Close, so the total sample
// count need not be known up front.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const headerSize = 44

var ErrClosed = errors.New("wav: writer closed")

// Writer streams interleaved little-endian 16-bit samples into a RIFF/WAVE
// container. The destination must support seeking so the chunk sizes can be
// finalized.
type Writer struct {
	w          io.WriteSeeker
	dataBytes  uint32
	sampleRate int
	channels   int
	closed     bool
}

// NewWriter writes a provisional header and returns a Writer ready to
// accept samples.
func NewWriter(w io.WriteSeeker, sampleRate, channels int) (*Writer, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("wav: invalid format %d Hz / %d ch", sampleRate, channels)
	}
	wr := &Writer{w: w, sampleRate: sampleRate, channels: channels}
	if err := wr.writeHeader(); err != nil {
		return nil, err
	}
	return wr, nil
}

func (wr *Writer) writeHeader() error {
	var hdr [headerSize]byte
	le := binary.LittleEndian

	const bytesPerSample = 2
	blockAlign := wr.channels * bytesPerSample
	byteRate := wr.sampleRate * blockAlign

	copy(hdr[0:], "RIFF")
	le.PutUint32(hdr[4:], 36+wr.dataBytes)
	copy(hdr[8:], "WAVE")
	copy(hdr[12:], "fmt ")
	le.PutUint32(hdr[16:], 16)
	le.PutUint16(hdr[20:], 1) // PCM
	le.PutUint16(hdr[22:], uint16(wr.channels))
	le.PutUint32(hdr[24:], uint32(wr.sampleRate))
	le.PutUint32(hdr[28:], uint32(byteRate))
	le.PutUint16(hdr[32:], uint16(blockAlign))
	le.PutUint16(hdr[34:], 16) // bits per sample
	copy(hdr[36:], "data")
	le.PutUint32(hdr[40:], wr.dataBytes)

	_, err := wr.w.Write(hdr[:])
	return err
}

// WriteSamples appends interleaved samples to the data chunk.
func (wr *Writer) WriteSamples(pcm []int16) error {
	if wr.closed {
		return ErrClosed
	}
	buf := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	n, err := wr.w.Write(buf)
	wr.dataBytes += uint32(n)
	return err
}

// Close patches the RIFF and data chunk sizes. The underlying writer is not
// closed.
func (wr *Writer) Close() error {
	if wr.closed {
		return ErrClosed
	}
	wr.closed = true
	if _, err := wr.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return wr.writeHeader()
}
