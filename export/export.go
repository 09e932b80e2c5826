// Package export implements the batch pipeline that collects subtitles
// for every video of a user into a single file, with per-run
// statistics.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creachadair/atomicfile"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"bilitext/bilibili"
	"bilitext/subtitle"
)

const (
	subtitlesFileName = "all_subtitles.txt"
	statsFileName     = "stats.txt"
	blockSeparator    = "----------------------------------------"
)

// MetadataClient fetches video listings and per-video details.
type MetadataClient interface {
	GetUserVideos(ctx context.Context, mid int64, limit int, auth *bilibili.AuthContext) ([]bilibili.VideoInfo, error)
	GetVideoInfo(ctx context.Context, bvid string, auth *bilibili.AuthContext) (*bilibili.VideoInfo, error)
}

// Acquirer produces subtitle text for one video.
type Acquirer interface {
	Acquire(ctx context.Context, video *bilibili.VideoInfo, auth *bilibili.AuthContext) (subtitle.Result, error)
}

// FailedVideo records one video the pipeline could not process.
type FailedVideo struct {
	BVID   string
	Title  string
	Reason string
}

// Stats summarizes one export run. Attempted counts every video the
// pipeline looked at, including skips and failures.
type Stats struct {
	Attempted       int
	ByAPI           int
	ByDownloader    int
	ByTranscription int
	SkippedCharging int
	Failed          int
	FailedVideos    []FailedVideo
}

// Succeeded is the number of videos that produced subtitle text.
func (s *Stats) Succeeded() int {
	return s.ByAPI + s.ByDownloader + s.ByTranscription
}

// recordSource tallies a successful acquisition by its source.
func (s *Stats) recordSource(src subtitle.Source) {
	switch src {
	case subtitle.SourceAPI:
		s.ByAPI++
	case subtitle.SourceDownloader:
		s.ByDownloader++
	case subtitle.SourceTranscription:
		s.ByTranscription++
	}
}

// recordFailure tallies a video that produced no text.
func (s *Stats) recordFailure(video *bilibili.VideoInfo, err error) {
	s.Failed++
	s.FailedVideos = append(s.FailedVideos, FailedVideo{
		BVID:   video.BVID,
		Title:  video.Title,
		Reason: err.Error(),
	})
}

// Report renders the stats file contents.
func (s *Stats) Report() string {
	var b strings.Builder
	b.WriteString("Export Statistics\n")
	b.WriteString("=================\n")
	fmt.Fprintf(&b, "Videos attempted:        %d\n", s.Attempted)
	fmt.Fprintf(&b, "Succeeded:               %d\n", s.Succeeded())
	fmt.Fprintf(&b, "  via platform API:      %d\n", s.ByAPI)
	fmt.Fprintf(&b, "  via downloader:        %d\n", s.ByDownloader)
	fmt.Fprintf(&b, "  via transcription:     %d\n", s.ByTranscription)
	fmt.Fprintf(&b, "Skipped (charging-only): %d\n", s.SkippedCharging)
	fmt.Fprintf(&b, "Failed:                  %d\n", s.Failed)

	if len(s.FailedVideos) > 0 {
		b.WriteString("\nFailed videos:\n")
		for _, f := range s.FailedVideos {
			fmt.Fprintf(&b, "  %s  %s: %s\n", f.BVID, f.Title, f.Reason)
		}
	}
	return b.String()
}

// Pipeline exports a user's subtitles into OutputDir/user_<mid>/.
type Pipeline struct {
	Client   MetadataClient
	Acquirer Acquirer
	Auth     *bilibili.AuthContext
	// OutputDir is the parent directory for the per-user export
	// directory. Empty means the current directory.
	OutputDir string
	// Pacing is the minimum delay between per-video requests, keeping
	// the batch under the platform's anti-abuse radar.
	Pacing time.Duration
	// ChargingPolicy decides what to do with charging-exclusive
	// videos. Batch runs default to skipping them.
	ChargingPolicy subtitle.ChargingPolicy
	// Confirm is consulted only under ChargingPrompt.
	Confirm subtitle.ConfirmFunc
	// IncludeMetaInfo adds a stats line to each per-video block.
	IncludeMetaInfo bool
	// IncludeDescription adds the description to each per-video block.
	IncludeDescription bool
	Logger             zerolog.Logger
}

// UserDir returns the per-user export directory under outputDir. Raw
// transcripts written during acquisition share it, so everything a
// later correction pass needs lives in one place.
func UserDir(outputDir string, mid int64) string {
	return filepath.Join(outputDir, fmt.Sprintf("user_%d", mid))
}

// ExportUser fetches up to limit videos for the user (0 means all),
// runs the acquisition chain for each one, and writes all_subtitles.txt
// and stats.txt under user_<mid>/. Individual video failures are
// recorded and do not stop the run. One exception: when the very first
// video demands authentication and no credentials are configured, the
// whole run aborts, since every later video would fail the same way.
func (p *Pipeline) ExportUser(ctx context.Context, mid int64, limit int) (*Stats, error) {
	videos, err := p.Client.GetUserVideos(ctx, mid, limit, p.Auth)
	if err != nil {
		return nil, fmt.Errorf("list videos for user %d: %w", mid, err)
	}
	if len(videos) == 0 {
		return nil, fmt.Errorf("user %d has no videos", mid)
	}
	if limit > 0 && len(videos) > limit {
		videos = videos[:limit]
	}

	p.Logger.Info().Int64("mid", mid).Int("videos", len(videos)).Msg("starting export")

	var limiter *rate.Limiter
	if p.Pacing > 0 {
		limiter = rate.NewLimiter(rate.Every(p.Pacing), 1)
	}

	stats := &Stats{}
	var blocks []string

	for i := range videos {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return stats, err
			}
		} else if err := ctx.Err(); err != nil {
			return stats, err
		}

		listed := &videos[i]
		stats.Attempted++

		info, text, src, err := p.exportOne(ctx, listed)
		if err != nil {
			if errors.Is(err, subtitle.ErrChargingSkipped) {
				p.Logger.Info().Str("bvid", listed.BVID).Msg("skipping charging-exclusive video")
				stats.SkippedCharging++
				continue
			}
			if i == 0 && p.Auth == nil && errors.Is(err, bilibili.ErrAuthRequired) {
				return stats, fmt.Errorf("first video requires authentication, configure credentials and retry: %w", err)
			}
			p.Logger.Warn().Str("bvid", listed.BVID).Err(err).Msg("video failed")
			stats.recordFailure(listed, err)
			continue
		}

		stats.recordSource(src)
		blocks = append(blocks, p.formatBlock(info, text))
	}

	dir := UserDir(p.OutputDir, mid)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return stats, fmt.Errorf("create export dir: %w", err)
	}

	if err := writeFile(filepath.Join(dir, subtitlesFileName), strings.Join(blocks, "\n")); err != nil {
		return stats, err
	}
	if err := writeFile(filepath.Join(dir, statsFileName), stats.Report()); err != nil {
		return stats, err
	}

	p.Logger.Info().
		Str("dir", dir).
		Int("succeeded", stats.Succeeded()).
		Int("failed", stats.Failed).
		Int("skipped", stats.SkippedCharging).
		Msg("export complete")
	return stats, nil
}

// exportOne fetches full metadata for one listed video, applies the
// charging policy, and runs the acquisition chain. Returned text has
// timestamps stripped for the combined file.
func (p *Pipeline) exportOne(ctx context.Context, listed *bilibili.VideoInfo) (*bilibili.VideoInfo, string, subtitle.Source, error) {
	// The listing API omits the subtitle track id and the charging
	// flag, so each video needs a detail fetch.
	info, err := p.Client.GetVideoInfo(ctx, listed.BVID, p.Auth)
	if err != nil {
		return nil, "", "", err
	}
	listed.Title = info.Title

	if err := subtitle.EvaluateCharging(info, p.ChargingPolicy, p.Confirm); err != nil {
		return nil, "", "", err
	}

	res, err := p.Acquirer.Acquire(ctx, info, p.Auth)
	if err != nil {
		return nil, "", "", err
	}

	return info, subtitle.StripTimestamps(res.Text), res.Source, nil
}

// formatBlock renders one video's entry in the combined file.
func (p *Pipeline) formatBlock(video *bilibili.VideoInfo, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s (%s)\n", video.Title, video.BVID)
	if p.IncludeMetaInfo {
		fmt.Fprintf(&b, "Uploaded %s, %d seconds, %d views\n",
			video.UploadTime.Format("2006-01-02"), video.Duration, video.ViewCount)
	}
	if p.IncludeDescription && strings.TrimSpace(video.Description) != "" {
		b.WriteString(strings.TrimSpace(video.Description))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n")
	b.WriteString(blockSeparator)
	b.WriteString("\n")
	return b.String()
}

// writeFile writes content atomically so an interrupted run never
// leaves a half-written export behind.
func writeFile(path, content string) error {
	f, err := atomicfile.New(path, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Cancel()
	if _, err := f.Write([]byte(content)); err != nil {
		return err
	}
	return f.Close()
}
