package protocol

import "time"

// InboundItem is the wire form of one synthesizable unit submitted on the
// bus by chat-rule handlers and schedulers.
type InboundItem struct {
	ID           string            `json:"id,omitempty"`
	Kind         string            `json:"kind"`
	Text         string            `json:"text,omitempty"`
	AudioRef     string            `json:"audio_ref,omitempty"`
	SpeakerLabel string            `json:"speaker_label,omitempty"`
	Backend      string            `json:"backend,omitempty"`
	Params       map[string]string `json:"params,omitempty"`
	FlowHint     string            `json:"flow_hint,omitempty"`
	Priority     *int              `json:"priority,omitempty"`
	Loop         bool              `json:"loop,omitempty"`
	Timestamp    time.Time         `json:"timestamp,omitempty"`
}

// SubmitResult answers a request-reply submission.
type SubmitResult struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// PressureReport is published periodically for the surrounding
// admission-control layer.
type PressureReport struct {
	Pressure  string         `json:"pressure"`
	Depths    map[string]int `json:"depths"`
	Timestamp time.Time      `json:"timestamp"`
}

// PlayedEvent is published after an item's audio finishes local playback.
type PlayedEvent struct {
	ID        string    `json:"id,omitempty"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSpeechSubmit   = "speech.submit"
	SubjectSpeechPressure = "speech.pressure"
	SubjectSpeechPlayed   = "speech.played"
)
