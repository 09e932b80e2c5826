package subtitle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/creachadair/atomicfile"
	"github.com/rs/zerolog"

	"bilitext/bilibili"
)

// SubtitleAPI fetches a platform-hosted subtitle track.
type SubtitleAPI interface {
	GetSubtitle(ctx context.Context, video *bilibili.VideoInfo, auth *bilibili.AuthContext) (string, error)
}

// SubtitleDownloader extracts subtitles via an external downloader.
type SubtitleDownloader interface {
	DownloadSubtitles(ctx context.Context, bvid string, auth *bilibili.AuthContext) (string, error)
}

// AudioDownloader fetches a video's audio track for transcription.
type AudioDownloader interface {
	DownloadAudio(ctx context.Context, bvid string, auth *bilibili.AuthContext) (*bilibili.AudioFile, error)
}

// Transcriber converts an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// PostProcessor cleans up a raw transcript.
type PostProcessor interface {
	Process(ctx context.Context, text string) (string, error)
}

// APIMethod acquires subtitles from the platform subtitle API.
type APIMethod struct {
	API SubtitleAPI
}

func (m *APIMethod) Name() string { return string(SourceAPI) }

func (m *APIMethod) Attempt(ctx context.Context, video *bilibili.VideoInfo, auth *bilibili.AuthContext) (Result, error) {
	text, err := m.API.GetSubtitle(ctx, video, auth)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, Source: SourceAPI}, nil
}

// DownloaderMethod acquires subtitles via yt-dlp subtitle extraction.
type DownloaderMethod struct {
	Downloader SubtitleDownloader
}

func (m *DownloaderMethod) Name() string { return string(SourceDownloader) }

func (m *DownloaderMethod) Attempt(ctx context.Context, video *bilibili.VideoInfo, auth *bilibili.AuthContext) (Result, error) {
	text, err := m.Downloader.DownloadSubtitles(ctx, video.BVID, auth)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, Source: SourceDownloader}, nil
}

// truncationThreshold is the fraction of the declared duration below
// which fetched audio is flagged as truncated. Charging-exclusive
// videos often serve only a free preview segment to anonymous callers.
const truncationThreshold = 0.9

// TranscriptionMethod downloads the audio track and transcribes it.
// The raw transcript is saved next to the output so an interrupted LLM
// pass can be retried without re-transcribing.
type TranscriptionMethod struct {
	Downloader  AudioDownloader
	Transcriber Transcriber
	// Processor, when set, cleans the raw transcript. A processor
	// failure falls back to the raw text rather than failing the
	// acquisition.
	Processor PostProcessor
	// OutputDir receives <bvid>_transcript.txt with the raw text.
	// Empty means do not persist.
	OutputDir string
	Logger    zerolog.Logger
}

func (m *TranscriptionMethod) Name() string { return string(SourceTranscription) }

func (m *TranscriptionMethod) Attempt(ctx context.Context, video *bilibili.VideoInfo, auth *bilibili.AuthContext) (Result, error) {
	audio, err := m.Downloader.DownloadAudio(ctx, video.BVID, auth)
	if err != nil {
		return Result{}, fmt.Errorf("download audio: %w", err)
	}
	defer audio.Cleanup()

	truncated := false
	if audio.Duration > 0 && video.Duration > 0 {
		if audio.Duration.Seconds() < truncationThreshold*float64(video.Duration) {
			truncated = true
			m.Logger.Warn().
				Str("bvid", video.BVID).
				Float64("probed_seconds", audio.Duration.Seconds()).
				Int("declared_seconds", video.Duration).
				Msg("fetched audio shorter than declared duration")
		}
	}

	text, err := m.Transcriber.Transcribe(ctx, audio.Path)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe: %w", err)
	}

	if m.OutputDir != "" && strings.TrimSpace(text) != "" {
		if err := m.saveRaw(video.BVID, text); err != nil {
			m.Logger.Warn().Err(err).Str("bvid", video.BVID).Msg("could not save raw transcript")
		}
	}

	if m.Processor != nil && strings.TrimSpace(text) != "" {
		processed, err := m.Processor.Process(ctx, text)
		if err != nil {
			m.Logger.Warn().Err(err).Str("bvid", video.BVID).Msg("transcript post-processing failed, keeping raw text")
		} else if strings.TrimSpace(processed) != "" {
			text = processed
		}
	}

	return Result{Text: text, Source: SourceTranscription, Truncated: truncated}, nil
}

// saveRaw persists the unprocessed transcript as <bvid>_transcript.txt.
func (m *TranscriptionMethod) saveRaw(bvid, text string) error {
	if err := os.MkdirAll(m.OutputDir, 0755); err != nil {
		return err
	}
	path := filepath.Join(m.OutputDir, bvid+"_transcript.txt")

	f, err := atomicfile.New(path, 0644)
	if err != nil {
		return err
	}
	defer f.Cancel()

	if _, err := f.Write([]byte(text)); err != nil {
		return err
	}
	return f.Close()
}
