package synth

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// NewExecBackend builds a SynthesizeFunc that shells out to a local TTS
// command. The command template may reference {{text}}, {{language}} and
// {{output}}; when no {{output}} placeholder is present the output path is
// appended as the final argument.
func NewExecBackend(command string) (SynthesizeFunc, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synth command empty")
	}

	return func(ctx context.Context, req Request) (Result, error) {
		expanded := make([]string, 0, len(args)+1)
		sawOutput := false
		for _, arg := range args {
			replaced := strings.NewReplacer(
				"{{text}}", req.Text,
				"{{language}}", req.Language,
				"{{output}}", req.OutputPath,
			).Replace(arg)
			if strings.Contains(arg, "{{output}}") {
				sawOutput = true
			}
			expanded = append(expanded, replaced)
		}
		if !sawOutput {
			expanded = append(expanded, req.OutputPath)
		}

		cmd := exec.CommandContext(ctx, expanded[0], expanded[1:]...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return Result{}, fmt.Errorf("synth command failed: %w: %s", err, strings.TrimSpace(string(out)))
		}
		if _, err := os.Stat(req.OutputPath); err != nil {
			return Result{}, fmt.Errorf("synth command produced no output: %w", err)
		}
		return Result{Path: req.OutputPath}, nil
	}, nil
}
