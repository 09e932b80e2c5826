// Package transcribe converts audio files to text by shelling out to
// the whisper command line tool.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultWhisperPath = "whisper"
	defaultModel       = "base"
	defaultTimeout     = 30 * time.Minute
)

// ErrWhisperNotFound means the whisper executable is not installed.
var ErrWhisperNotFound = errors.New("whisper not found, install with: pip install openai-whisper")

// ErrEmptyTranscript means whisper produced no usable text.
var ErrEmptyTranscript = errors.New("transcription produced no text")

// Whisper transcribes audio with the openai-whisper CLI.
type Whisper struct {
	// Path is the whisper executable. Defaults to "whisper".
	Path string
	// Model selects the whisper model size. Defaults to "base".
	Model string
	// Timeout bounds a single transcription run. Long videos need a
	// generous value; defaults to 30 minutes.
	Timeout time.Duration
	// Logger logs each invocation at debug level.
	Logger zerolog.Logger
}

// New creates a transcriber with the given model. Empty model keeps the
// default.
func New(path, model string, logger zerolog.Logger) *Whisper {
	if path == "" {
		path = defaultWhisperPath
	}
	if model == "" {
		model = defaultModel
	}
	return &Whisper{
		Path:    path,
		Model:   model,
		Timeout: defaultTimeout,
		Logger:  logger,
	}
}

// Transcribe runs whisper on the audio file and returns the plain text
// transcript. Whisper writes <stem>.txt into its output directory; a
// scratch directory keeps runs isolated.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if err := w.checkInstalled(ctx); err != nil {
		return "", err
	}

	outDir, err := os.MkdirTemp("", "bilitext-whisper-")
	if err != nil {
		return "", fmt.Errorf("create whisper output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	timeout := w.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		audioPath,
		"--model", w.Model,
		"--output_format", "txt",
		"--output_dir", outDir,
	}

	w.Logger.Debug().Strs("args", args).Msg("running whisper")

	cmd := exec.CommandContext(cmdCtx, w.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("whisper timed out after %s: %w", timeout, cmdCtx.Err())
		}
		return "", fmt.Errorf("whisper failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	data, err := os.ReadFile(filepath.Join(outDir, stem+".txt"))
	if err != nil {
		return "", fmt.Errorf("read whisper output: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

// checkInstalled verifies the whisper executable is reachable.
func (w *Whisper) checkInstalled(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, w.Path, "--help")
	if err := cmd.Run(); err != nil {
		return ErrWhisperNotFound
	}
	return nil
}
