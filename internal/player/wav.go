package player

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// WavDuration reads the playable length of a WAV file from its header.
func WavDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("not a valid wav file: %s", path)
	}
	dur, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("read wav duration: %w", err)
	}
	return dur, nil
}
