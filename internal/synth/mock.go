package synth

import (
	"context"
	"os"
	"unicode/utf8"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// NewMockBackend renders silence sized to the text length, one tenth of a
// second per rune. Used for development and tests so the whole pipeline runs
// without a TTS service.
func NewMockBackend(sampleRate int) SynthesizeFunc {
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	return func(_ context.Context, req Request) (Result, error) {
		out, err := os.Create(req.OutputPath)
		if err != nil {
			return Result{}, err
		}

		samples := sampleRate / 10 * utf8.RuneCountInString(req.Text)
		if samples == 0 {
			samples = sampleRate / 10
		}
		buf := &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
			Data:           make([]int, samples),
			SourceBitDepth: 16,
		}

		enc := wav.NewEncoder(out, sampleRate, 16, 1, 1)
		if err := enc.Write(buf); err != nil {
			enc.Close()
			out.Close()
			os.Remove(req.OutputPath)
			return Result{}, err
		}
		if err := enc.Close(); err != nil {
			out.Close()
			os.Remove(req.OutputPath)
			return Result{}, err
		}
		if err := out.Close(); err != nil {
			os.Remove(req.OutputPath)
			return Result{}, err
		}
		return Result{Path: req.OutputPath}, nil
	}
}
