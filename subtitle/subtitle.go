// Package subtitle acquires subtitle text for a video by trying a
// prioritized chain of sources: the platform subtitle API first, then
// yt-dlp subtitle extraction, then audio transcription.
package subtitle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"bilitext/bilibili"
)

// Source identifies which chain stage produced the subtitle text.
type Source string

const (
	SourceAPI           Source = "api"
	SourceDownloader    Source = "downloader"
	SourceTranscription Source = "transcription"
)

// Result is the outcome of an acquisition attempt. OK is true only when
// Text is non-empty.
type Result struct {
	// Text is the subtitle text, one "[MM:SS] line" per row.
	Text string
	// Source is the stage that produced Text.
	Source Source
	// OK reports whether acquisition succeeded.
	OK bool
	// Truncated is set when the fetched media was noticeably shorter
	// than the declared video duration.
	Truncated bool
}

// Method is one stage of the acquisition chain.
type Method interface {
	// Name identifies the method in logs and errors.
	Name() string
	// Attempt tries to produce subtitle text for the video. An empty
	// Text with a nil error means the source had nothing to offer.
	Attempt(ctx context.Context, video *bilibili.VideoInfo, auth *bilibili.AuthContext) (Result, error)
}

// ExhaustedError reports that every chain method failed or came back
// empty. It unwraps to the individual method errors, so callers can use
// errors.Is to detect, for example, an auth requirement seen anywhere
// in the chain.
type ExhaustedError struct {
	BVID string
	Errs []error
}

func (e *ExhaustedError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	if len(msgs) == 0 {
		return fmt.Sprintf("no subtitles available for %s", e.BVID)
	}
	return fmt.Sprintf("no subtitles available for %s: %s", e.BVID, strings.Join(msgs, "; "))
}

func (e *ExhaustedError) Unwrap() []error { return e.Errs }

// Chain runs the acquisition methods in order and returns the first
// non-empty result.
type Chain struct {
	Methods []Method
	Logger  zerolog.Logger
}

// NewChain builds a chain from the given methods in priority order.
func NewChain(logger zerolog.Logger, methods ...Method) *Chain {
	return &Chain{Methods: methods, Logger: logger}
}

// Acquire tries each method in order, stopping at the first one that
// yields non-empty text. Methods after the winner are not invoked. When
// every method fails or returns empty, the returned ExhaustedError
// wraps each method's error.
func (c *Chain) Acquire(ctx context.Context, video *bilibili.VideoInfo, auth *bilibili.AuthContext) (Result, error) {
	var errs []error

	for _, m := range c.Methods {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		res, err := m.Attempt(ctx, video, auth)
		if err != nil {
			c.Logger.Debug().
				Str("bvid", video.BVID).
				Str("method", m.Name()).
				Err(err).
				Msg("acquisition method failed")
			errs = append(errs, fmt.Errorf("%s: %w", m.Name(), err))
			continue
		}

		if strings.TrimSpace(res.Text) == "" {
			c.Logger.Debug().
				Str("bvid", video.BVID).
				Str("method", m.Name()).
				Msg("acquisition method returned no text")
			continue
		}

		res.OK = true
		c.Logger.Info().
			Str("bvid", video.BVID).
			Str("source", string(res.Source)).
			Bool("truncated", res.Truncated).
			Msg("subtitles acquired")
		return res, nil
	}

	return Result{}, &ExhaustedError{BVID: video.BVID, Errs: errs}
}

// ChargingPolicy decides what happens when a video is
// charging-exclusive (paid supporter content).
type ChargingPolicy int

const (
	// ChargingPrompt asks the confirm callback before proceeding.
	ChargingPrompt ChargingPolicy = iota
	// ChargingSkip skips the video without invoking any method.
	ChargingSkip
	// ChargingForce proceeds without asking.
	ChargingForce
)

// ErrChargingSkipped marks a charging-exclusive video that the policy
// declined to process.
var ErrChargingSkipped = errors.New("charging-exclusive video skipped")

// ConfirmFunc asks whether to proceed with a charging-exclusive video.
type ConfirmFunc func(video *bilibili.VideoInfo) bool

// EvaluateCharging applies the policy to a video before the chain runs.
// A non-nil error (ErrChargingSkipped) means no acquisition method may
// be invoked for this video. Non-exclusive videos always pass.
func EvaluateCharging(video *bilibili.VideoInfo, policy ChargingPolicy, confirm ConfirmFunc) error {
	if !video.IsChargingExclusive {
		return nil
	}

	switch policy {
	case ChargingForce:
		return nil
	case ChargingSkip:
		return fmt.Errorf("%w: %s", ErrChargingSkipped, video.BVID)
	case ChargingPrompt:
		if confirm != nil && confirm(video) {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrChargingSkipped, video.BVID)
	default:
		return fmt.Errorf("%w: %s", ErrChargingSkipped, video.BVID)
	}
}
