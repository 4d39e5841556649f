package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/core"
)

const tempOutputPattern = "tts-output-*.mp3"

// ErrBinaryNotFound is returned by HealthCheck when the model binary is not
// executable.
var ErrBinaryNotFound = errors.New("model binary not found")

// CommandSynthesizer is a delegate that runs a local model binary once per
// prompt. The binary writes its audio to the path given by --output.
type CommandSynthesizer struct {
	binaryPath string
	model      string
	log        *logger.Logger
}

// NewCommandSynthesizer creates a delegate for the binary at binaryPath.
func NewCommandSynthesizer(binaryPath, model string, log *logger.Logger) *CommandSynthesizer {
	return &CommandSynthesizer{
		binaryPath: binaryPath,
		model:      model,
		log:        log,
	}
}

// Synthesize runs the binary and returns the audio it produced.
func (p *CommandSynthesizer) Synthesize(ctx context.Context, prompt string, params core.SynthesisParams) ([]byte, error) {
	if prompt == "" {
		return nil, ErrPromptEmpty
	}

	tempFile, err := os.CreateTemp("", tempOutputPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for tts output: %w", err)
	}

	tempName := tempFile.Name()
	_ = tempFile.Close()

	defer func() {
		removeErr := os.Remove(tempName)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			p.log.Warn("Failed to remove temp file '%s': %v", tempName, removeErr)
		}
	}()

	// #nosec G204 -- binary path comes from operator configuration
	cmd := exec.CommandContext(ctx, p.binaryPath, p.args(prompt, tempName, params)...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("model binary execution failed: %w - output: %s", err, string(output))
	}

	audioData, err := os.ReadFile(tempName)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data from temp file: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// HealthCheck reports whether the binary can be executed.
func (p *CommandSynthesizer) HealthCheck(_ context.Context) error {
	_, err := exec.LookPath(p.binaryPath)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBinaryNotFound, p.binaryPath, err)
	}

	return nil
}

func (p *CommandSynthesizer) args(prompt, outputPath string, params core.SynthesisParams) []string {
	args := []string{
		"--text", prompt,
		"--output", outputPath,
		"--max-new-tokens", strconv.Itoa(params.MaxNewTokens),
		"--temperature", strconv.FormatFloat(params.Temperature, 'f', -1, 64),
		"--guidance-scale", strconv.FormatFloat(params.GuidanceScale, 'f', -1, 64),
		"--top-p", strconv.FormatFloat(params.TopP, 'f', -1, 64),
		"--top-k", strconv.Itoa(params.TopK),
	}

	if p.model != "" {
		args = append(args, "--model", p.model)
	}

	if params.Seed != nil {
		args = append(args, "--seed", strconv.Itoa(*params.Seed))
	}

	return args
}
