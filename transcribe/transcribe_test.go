package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
)

// fakeWhisper writes an executable shell script standing in for the
// whisper CLI.
func fakeWhisper(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "whisper")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_Defaults(t *testing.T) {
	w := New("", "", zerolog.Nop())
	if w.Path != "whisper" {
		t.Errorf("Path = %q, want whisper", w.Path)
	}
	if w.Model != "base" {
		t.Errorf("Model = %q, want base", w.Model)
	}

	w = New("/opt/whisper", "large-v3", zerolog.Nop())
	if w.Path != "/opt/whisper" || w.Model != "large-v3" {
		t.Errorf("New() = %q/%q, want overrides kept", w.Path, w.Model)
	}
}

func TestTranscribe_NotInstalled(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "no-such-whisper"), "base", zerolog.Nop())

	_, err := w.Transcribe(context.Background(), "audio.mp3")
	if !errors.Is(err, ErrWhisperNotFound) {
		t.Errorf("Transcribe() error = %v, want ErrWhisperNotFound", err)
	}
}

func TestTranscribe_ReadsOutput(t *testing.T) {
	// The fake finds the --output_dir argument and writes <stem>.txt
	// there, mirroring whisper's behavior.
	script := `
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--output_dir" ]; then out="$arg"; fi
  prev="$arg"
done
if [ -z "$out" ]; then exit 0; fi
printf ' transcribed speech \n' > "$out/BV1xx411c7mD.txt"
`
	w := New(fakeWhisper(t, script), "base", zerolog.Nop())

	text, err := w.Transcribe(context.Background(), "/tmp/BV1xx411c7mD.mp3")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "transcribed speech" {
		t.Errorf("Transcribe() = %q, want trimmed text", text)
	}
}

func TestTranscribe_EmptyOutput(t *testing.T) {
	script := `
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "--output_dir" ]; then out="$arg"; fi
  prev="$arg"
done
if [ -z "$out" ]; then exit 0; fi
printf '  \n' > "$out/clip.txt"
`
	w := New(fakeWhisper(t, script), "base", zerolog.Nop())

	_, err := w.Transcribe(context.Background(), "/tmp/clip.mp3")
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("Transcribe() error = %v, want ErrEmptyTranscript", err)
	}
}

func TestTranscribe_CommandFailure(t *testing.T) {
	script := `
if [ "$1" = "--help" ]; then exit 0; fi
echo "CUDA out of memory" >&2
exit 1
`
	w := New(fakeWhisper(t, script), "base", zerolog.Nop())

	_, err := w.Transcribe(context.Background(), "/tmp/clip.mp3")
	if err == nil {
		t.Fatal("Transcribe() = nil error, want failure")
	}
	if errors.Is(err, ErrWhisperNotFound) {
		t.Errorf("Transcribe() error = %v, should not be ErrWhisperNotFound", err)
	}
}
