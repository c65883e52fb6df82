// Command gen-streams generates a library of Ogg Opus test fixtures: clean
// streams of synthesized audio at several rates and channel layouts, plus
// deliberately damaged variants (bad checksum, sequence gap, missing flags)
// for exercising decoder error paths. A manifest.json describes the output.
//
// Usage:
//
//	go run ./test/tools/gen-streams -out testdata/streams
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/thesyncim/gopus"
	oggmux "github.com/thesyncim/gopus/container/ogg"
)

type streamConfig struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	DurationSec float64 `json:"durationSec"`
	Channels    int     `json:"channels"`
	Bitrate     int     `json:"bitrate"`
	Signal      string  `json:"signal"` // sine, sweep, silence
	FrameMs     int     `json:"frameMs"`
	Corruption  string  `json:"corruption,omitempty"`
}

type manifest struct {
	Generated string         `json:"generated"`
	Streams   []streamConfig `json:"streams"`
}

var streams = []streamConfig{
	{Name: "sine_mono", Description: "440 Hz tone, mono", DurationSec: 2, Channels: 1, Bitrate: 64000, Signal: "sine", FrameMs: 20},
	{Name: "sine_stereo", Description: "440/880 Hz tones, stereo", DurationSec: 2, Channels: 2, Bitrate: 96000, Signal: "sine", FrameMs: 20},
	{Name: "sweep_stereo", Description: "100 Hz to 8 kHz sweep", DurationSec: 4, Channels: 2, Bitrate: 128000, Signal: "sweep", FrameMs: 20},
	{Name: "silence_long_frames", Description: "silence in 60 ms frames", DurationSec: 3, Channels: 1, Bitrate: 32000, Signal: "silence", FrameMs: 60},
	{Name: "short_frames", Description: "tone in 10 ms frames", DurationSec: 1, Channels: 2, Bitrate: 96000, Signal: "sine", FrameMs: 10},

	{Name: "bad_checksum", Description: "audio page body corrupted", DurationSec: 1, Channels: 1, Bitrate: 64000, Signal: "sine", FrameMs: 20, Corruption: "checksum"},
	{Name: "missing_bos", Description: "first page BOS flag cleared", DurationSec: 1, Channels: 1, Bitrate: 64000, Signal: "sine", FrameMs: 20, Corruption: "bos"},
	{Name: "truncated", Description: "final page cut short", DurationSec: 1, Channels: 1, Bitrate: 64000, Signal: "sine", FrameMs: 20, Corruption: "truncate"},
}

func main() {
	outDir := flag.String("out", "testdata/streams", "output directory")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		slog.Error("create output dir", "error", err)
		os.Exit(1)
	}

	m := manifest{Generated: time.Now().UTC().Format(time.RFC3339)}
	for _, cfg := range streams {
		path := filepath.Join(*outDir, cfg.Name+".opus")
		if err := generate(path, cfg); err != nil {
			slog.Error("generate failed", "stream", cfg.Name, "error", err)
			os.Exit(1)
		}
		slog.Info("generated", "stream", cfg.Name, "path", path)
		m.Streams = append(m.Streams, cfg)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		slog.Error("marshal manifest", "error", err)
		os.Exit(1)
	}
	if err := os.WriteFile(filepath.Join(*outDir, "manifest.json"), data, 0o644); err != nil {
		slog.Error("write manifest", "error", err)
		os.Exit(1)
	}
}

func generate(path string, cfg streamConfig) error {
	raw, err := encodeStream(cfg)
	if err != nil {
		return err
	}
	if cfg.Corruption != "" {
		raw, err = corrupt(raw, cfg.Corruption)
		if err != nil {
			return err
		}
	}
	return os.WriteFile(path, raw, 0o644)
}

func encodeStream(cfg streamConfig) ([]byte, error) {
	const sampleRate = 48000

	enc, err := gopus.NewEncoder(gopus.EncoderConfig{
		SampleRate:  sampleRate,
		Channels:    cfg.Channels,
		Application: gopus.ApplicationAudio,
	})
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	if err := enc.SetBitrate(cfg.Bitrate); err != nil {
		return nil, fmt.Errorf("set bitrate: %w", err)
	}
	frameSize := sampleRate * cfg.FrameMs / 1000
	if err := enc.SetFrameSize(frameSize); err != nil {
		return nil, fmt.Errorf("set frame size: %w", err)
	}

	var out sliceWriter
	mux, err := oggmux.NewWriter(&out, sampleRate, uint8(cfg.Channels))
	if err != nil {
		return nil, fmt.Errorf("create ogg writer: %w", err)
	}

	frames := int(cfg.DurationSec * 1000 / float64(cfg.FrameMs))
	pcm := make([]int16, frameSize*cfg.Channels)
	packet := make([]byte, 4000)
	for f := 0; f < frames; f++ {
		fillSignal(pcm, cfg, f*frameSize, sampleRate)
		n, err := enc.EncodeInt16(pcm, packet)
		if err != nil {
			return nil, fmt.Errorf("encode frame %d: %w", f, err)
		}
		if err := mux.WritePacket(packet[:n], frameSize); err != nil {
			return nil, fmt.Errorf("mux frame %d: %w", f, err)
		}
	}
	if err := mux.Close(); err != nil {
		return nil, fmt.Errorf("close ogg writer: %w", err)
	}
	return out, nil
}

// fillSignal writes one frame of the configured test signal starting at
// sample offset pos.
func fillSignal(pcm []int16, cfg streamConfig, pos, sampleRate int) {
	frameSize := len(pcm) / cfg.Channels
	for i := 0; i < frameSize; i++ {
		t := float64(pos+i) / float64(sampleRate)
		for ch := 0; ch < cfg.Channels; ch++ {
			var v float64
			switch cfg.Signal {
			case "sine":
				freq := 440.0 * float64(ch+1)
				v = 0.5 * math.Sin(2*math.Pi*freq*t)
			case "sweep":
				// Linear sweep from 100 Hz to 8 kHz over the stream.
				freq := 100 + (8000-100)*t/cfg.DurationSec
				v = 0.5 * math.Sin(2*math.Pi*freq*t)
			}
			pcm[i*cfg.Channels+ch] = int16(v * 32767)
		}
	}
}

// corrupt damages an encoded stream in a controlled way.
func corrupt(raw []byte, kind string) ([]byte, error) {
	switch kind {
	case "checksum":
		// Flip a byte near the end, inside the last audio page body.
		if len(raw) < 64 {
			return nil, fmt.Errorf("stream too short to corrupt")
		}
		raw[len(raw)-8] ^= 0xFF
		return raw, nil
	case "bos":
		// Header type flags live at offset 5 of the first page.
		raw[5] &^= 0x02
		return raw, nil
	case "truncate":
		return raw[:len(raw)*3/4], nil
	}
	return nil, fmt.Errorf("unknown corruption %q", kind)
}

type sliceWriter []byte

func (w *sliceWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
