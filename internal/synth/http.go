package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// HTTPBackendOptions configures a generic HTTP synthesis backend: a service
// that accepts a JSON request and answers with raw audio bytes.
type HTTPBackendOptions struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
}

type httpSynthRequest struct {
	Text     string            `json:"text"`
	Language string            `json:"language,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// NewHTTPBackend builds a SynthesizeFunc posting to a remote TTS service.
// The response body is streamed to the request's output path.
func NewHTTPBackend(opts HTTPBackendOptions) SynthesizeFunc {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return func(ctx context.Context, req Request) (Result, error) {
		payload, err := json.Marshal(httpSynthRequest{
			Text:     req.Text,
			Language: req.Language,
			Params:   req.Params,
		})
		if err != nil {
			return Result{}, err
		}

		endpoint := opts.Endpoint
		if override, ok := req.Params["endpoint"]; ok && override != "" {
			endpoint = override
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return Result{}, err
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(httpReq)
		if err != nil {
			return Result{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return Result{}, fmt.Errorf("tts service returned %d: %s", resp.StatusCode, string(body))
		}

		out, err := os.Create(req.OutputPath)
		if err != nil {
			return Result{}, err
		}
		written, err := io.Copy(out, resp.Body)
		closeErr := out.Close()
		if err != nil {
			os.Remove(req.OutputPath)
			return Result{}, err
		}
		if closeErr != nil {
			os.Remove(req.OutputPath)
			return Result{}, closeErr
		}
		if written == 0 {
			os.Remove(req.OutputPath)
			return Result{}, fmt.Errorf("tts service returned empty audio")
		}
		return Result{Path: req.OutputPath}, nil
	}
}
