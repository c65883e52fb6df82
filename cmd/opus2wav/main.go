// Command opus2wav decodes an Ogg Opus file (or stdin) to a 16-bit PCM WAV
// file. It feeds the decoder in small chunks, the same way a network client
// would, and grows the output buffer on demand.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/oggopus"
	"github.com/zsiec/oggopus/internal/wav"
)

var version = "dev"

func main() {
	rate := flag.Int("rate", oggopus.DefaultSampleRate, "output sample rate in Hz")
	channels := flag.Int("channels", 0, "output channel count (0 = stream's own)")
	chunk := flag.Int("chunk", 4096, "read chunk size in bytes")
	crc := flag.Bool("crc", false, "verify Ogg page checksums")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: opus2wav [flags] <input.opus|-> <output.wav>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), flag.Arg(1), *rate, *channels, *chunk, *crc); err != nil {
		slog.Error("conversion failed", "error", err)
		os.Exit(1)
	}
}

func run(inPath, outPath string, rate, channels, chunkSize int, crc bool) error {
	var in io.Reader = os.Stdin
	if inPath != "-" {
		f, err := os.Open(inPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	opts := []func(*oggopus.Decoder){oggopus.DecoderOptSampleRate(rate)}
	if channels > 0 {
		opts = append(opts, oggopus.DecoderOptChannels(channels))
	}
	if crc {
		opts = append(opts, oggopus.DecoderOptCRC())
	}
	dec := oggopus.NewDecoder(opts...)

	slog.Info("opus2wav starting", "version", version, "input", inPath, "output", outPath, "rate", rate)

	g, ctx := errgroup.WithContext(context.Background())
	chunks := make(chan []byte, 4)

	g.Go(func() error {
		defer close(chunks)
		for {
			buf := make([]byte, chunkSize)
			n, err := in.Read(buf)
			if n > 0 {
				select {
				case chunks <- buf[:n]:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
		}
	})

	var w *wav.Writer
	g.Go(func() error {
		pcm := make([]int16, 5760*2) // one 120 ms stereo frame at 48 kHz
		var total int64
		for data := range chunks {
			for len(data) > 0 {
				consumed, samples, err := dec.Decode(data, pcm)
				if errors.Is(err, oggopus.ErrBufferTooSmall) {
					pcm = make([]int16, dec.RequiredOutputLen())
					slog.Debug("grew output buffer", "samples", len(pcm))
					continue
				}
				if err != nil {
					return err
				}
				if samples > 0 {
					if w == nil {
						w, err = wav.NewWriter(out, dec.SampleRate(), dec.Channels())
						if err != nil {
							return err
						}
						slog.Info("stream initialized",
							"rate", dec.SampleRate(),
							"channels", dec.Channels(),
							"pre_skip", dec.PreSkip(),
							"gain_q8", dec.OutputGain(),
						)
					}
					if err := w.WriteSamples(pcm[:samples*dec.Channels()]); err != nil {
						return err
					}
					total += int64(samples)
				}
				// consumed may be zero when a packet was served from
				// the internal buffer (or swallowed by pre-skip);
				// progress still happened inside the decoder.
				data = data[consumed:]
			}
		}
		slog.Info("done", "samples_per_channel", total)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if w == nil {
		return errors.New("no audio decoded")
	}
	return w.Close()
}
