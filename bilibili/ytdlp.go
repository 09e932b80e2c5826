package bilibili

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultYtdlpPath   = "yt-dlp"
	defaultFfprobePath = "ffprobe"
	defaultCmdTimeout  = 5 * time.Minute
)

// Downloader shells out to yt-dlp for subtitle extraction and audio
// download, and to ffprobe for duration checks.
type Downloader struct {
	// Path is the path to the yt-dlp executable. Defaults to "yt-dlp".
	Path string
	// FfprobePath is the path to ffprobe. Defaults to "ffprobe".
	FfprobePath string
	// Timeout is the maximum time to wait for one invocation.
	Timeout time.Duration
	// Logger logs each invocation at debug level.
	Logger zerolog.Logger
}

// NewDownloader creates a downloader with default settings.
func NewDownloader(logger zerolog.Logger) *Downloader {
	return &Downloader{
		Path:        defaultYtdlpPath,
		FfprobePath: defaultFfprobePath,
		Timeout:     defaultCmdTimeout,
		Logger:      logger,
	}
}

// AudioFile describes a downloaded audio track.
type AudioFile struct {
	// Path is the local file path.
	Path string
	// Duration is the probed media duration.
	Duration time.Duration
}

// Cleanup removes the downloaded file and its scratch directory.
func (a *AudioFile) Cleanup() {
	if a != nil && a.Path != "" {
		os.RemoveAll(filepath.Dir(a.Path))
	}
}

// DownloadSubtitles asks yt-dlp to extract embedded or auto-generated
// subtitles without downloading media. It returns the parsed subtitle text
// ("[MM:SS] line" per cue) or ErrNoSubtitles when yt-dlp found none.
func (d *Downloader) DownloadSubtitles(ctx context.Context, bvid string, auth *AuthContext) (string, error) {
	if err := d.checkInstalled(ctx); err != nil {
		return "", err
	}

	dir, err := d.scratchDir()
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	args := []string{
		"--skip-download",
		"--write-subs",
		"--write-auto-subs",
		"--sub-langs", "all",
		"--no-warnings",
		"-o", filepath.Join(dir, "%(id)s.%(ext)s"),
	}
	args = d.appendAuth(args, auth)
	args = append(args, videoURL(bvid))

	if _, err := d.run(ctx, args); err != nil {
		return "", fmt.Errorf("subtitle extraction %s: %w", bvid, err)
	}

	files, err := subtitleFiles(dir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoSubtitles, bvid)
	}

	data, err := os.ReadFile(files[0])
	if err != nil {
		return "", fmt.Errorf("read subtitle file: %w", err)
	}

	text := ParseVTT(string(data))
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty subtitle file for %s", ErrNoSubtitles, bvid)
	}
	return text, nil
}

// DownloadAudio fetches the best available audio track for transcription.
// The caller owns the returned file and should Cleanup when done.
func (d *Downloader) DownloadAudio(ctx context.Context, bvid string, auth *AuthContext) (*AudioFile, error) {
	if err := d.checkInstalled(ctx); err != nil {
		return nil, err
	}

	dir, err := d.scratchDir()
	if err != nil {
		return nil, err
	}

	outPath := filepath.Join(dir, bvid+".mp3")
	args := []string{
		"-f", "ba",
		"-x",
		"--audio-format", "mp3",
		"--no-warnings",
		"-o", outPath,
	}
	args = d.appendAuth(args, auth)
	args = append(args, videoURL(bvid))

	if _, err := d.run(ctx, args); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("audio download %s: %w", bvid, err)
	}

	if _, err := os.Stat(outPath); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: %s", ErrNoMediaFetched, bvid)
	}

	duration, err := d.probeDuration(ctx, outPath)
	if err != nil {
		// The probe is advisory; a missing ffprobe must not fail the
		// download itself.
		d.Logger.Warn().Err(err).Str("path", outPath).Msg("duration probe failed")
		duration = 0
	}

	return &AudioFile{Path: outPath, Duration: duration}, nil
}

// probeDuration reads the media duration via ffprobe.
func (d *Downloader) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	ffprobe := d.FfprobePath
	if ffprobe == "" {
		ffprobe = defaultFfprobePath
	}

	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// appendAuth adds the browser cookie source when the auth context carries
// one. Static tokens are not passed to yt-dlp; the site accepts anonymous
// downloads for everything the API exposes anonymously.
func (d *Downloader) appendAuth(args []string, auth *AuthContext) []string {
	if browser := auth.Browser(); browser != "" {
		args = append(args, "--cookies-from-browser", browser)
	}
	return args
}

// run invokes yt-dlp with a timeout and returns stdout.
func (d *Downloader) run(ctx context.Context, args []string) (string, error) {
	timeout := d.Timeout
	if timeout == 0 {
		timeout = defaultCmdTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d.Logger.Debug().Strs("args", args).Msg("running yt-dlp")

	cmd := exec.CommandContext(cmdCtx, d.path(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("yt-dlp timed out: %w", cmdCtx.Err())
		}
		errMsg := stderr.String()
		if strings.Contains(errMsg, "429") || strings.Contains(strings.ToLower(errMsg), "rate") {
			return "", fmt.Errorf("%w: %s", ErrRateLimited, strings.TrimSpace(errMsg))
		}
		return "", fmt.Errorf("yt-dlp failed: %w: %s", err, strings.TrimSpace(errMsg))
	}
	return stdout.String(), nil
}

// checkInstalled verifies that yt-dlp is available.
func (d *Downloader) checkInstalled(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, d.path(), "--version")
	if err := cmd.Run(); err != nil {
		return ErrYtdlpNotFound
	}
	return nil
}

func (d *Downloader) path() string {
	if d.Path != "" {
		return d.Path
	}
	return defaultYtdlpPath
}

// scratchDir creates a unique working directory for one invocation.
func (d *Downloader) scratchDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "bilitext-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

// subtitleFiles lists subtitle files in dir, .vtt before .srt.
func subtitleFiles(dir string) ([]string, error) {
	var files []string
	for _, pattern := range []string{"*.vtt", "*.srt"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	return files, nil
}

// videoURL expands a BV code into the full watch URL yt-dlp expects.
func videoURL(bvid string) string {
	return "https://www.bilibili.com/video/" + bvid
}

// The hours component is optional: yt-dlp emits MM:SS.mmm cues for
// tracks shorter than an hour.
var vttCueTiming = regexp.MustCompile(`^(?:(\d{1,2}):)?(\d{2}):(\d{2})[.,]\d{3}\s+-->`)

// ParseVTT converts WebVTT (or SRT) cue text into "[MM:SS] line" form.
// Consecutive duplicate lines, common in auto-generated tracks, collapse
// into one.
func ParseVTT(data string) string {
	var (
		b        strings.Builder
		stamp    string
		lastLine string
		inHeader = true
	)

	for _, raw := range strings.Split(data, "\n") {
		line := strings.TrimSpace(raw)

		if m := vttCueTiming.FindStringSubmatch(line); m != nil {
			inHeader = false
			h := 0
			if m[1] != "" {
				h, _ = strconv.Atoi(m[1])
			}
			mnt, _ := strconv.Atoi(m[2])
			s, _ := strconv.Atoi(m[3])
			stamp = formatClock(h*3600 + mnt*60 + s)
			continue
		}

		if inHeader || line == "" || line == "WEBVTT" {
			continue
		}
		// Skip cue identifiers (bare sequence numbers) and metadata.
		if _, err := strconv.Atoi(line); err == nil {
			continue
		}
		if strings.HasPrefix(line, "Kind:") || strings.HasPrefix(line, "Language:") || strings.HasPrefix(line, "NOTE") {
			continue
		}

		text := stripCueMarkup(line)
		if text == "" || text == lastLine {
			continue
		}
		lastLine = text
		fmt.Fprintf(&b, "[%s] %s\n", stamp, text)
	}

	return b.String()
}

var cueTagRegex = regexp.MustCompile(`<[^>]*>`)

// stripCueMarkup removes inline VTT tags like <c> and word timings.
func stripCueMarkup(line string) string {
	return strings.TrimSpace(cueTagRegex.ReplaceAllString(line, ""))
}
