package player

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/go-audio/wav"
)

// Device plays WAV files on the local audio device. The oto context is
// created once; its sample rate and channel count are fixed, so rendered
// files must match the configured format.
type Device struct {
	ctx        *oto.Context
	sampleRate int
	channels   int
	logger     *slog.Logger
	playing    atomic.Bool
}

func NewDevice(sampleRate, channels int, logger *slog.Logger) (*Device, error) {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	if channels <= 0 {
		channels = 2
	}
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}
	<-ready
	return &Device{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger.With(slog.String("component", "device-player")),
	}, nil
}

func (d *Device) Play(ctx context.Context, path string) error {
	d.playing.Store(true)
	defer d.playing.Store(false)

	pcm, err := d.decodePCM(path)
	if err != nil {
		return err
	}

	p := d.ctx.NewPlayer(bytes.NewReader(pcm))
	defer p.Close()
	p.Play()

	for p.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	return nil
}

func (d *Device) Idle() bool { return !d.playing.Load() }

func (d *Device) decodePCM(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav file: %s", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format != nil && buf.Format.SampleRate != d.sampleRate {
		d.logger.Warn("wav sample rate differs from device",
			slog.Int("file", buf.Format.SampleRate),
			slog.Int("device", d.sampleRate))
	}

	out := new(bytes.Buffer)
	out.Grow(len(buf.Data) * 2)
	for _, sample := range buf.Data {
		if sample > 32767 {
			sample = 32767
		} else if sample < -32768 {
			sample = -32768
		}
		_ = binary.Write(out, binary.LittleEndian, int16(sample))
	}
	return out.Bytes(), nil
}
