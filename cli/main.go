// Command bilitext fetches Bilibili video metadata and subtitles.
//
// Given a video (BV code or URL) it prints a metadata table, a full
// text document, or JSON. Subtitles come from the platform API when
// available, from yt-dlp subtitle extraction otherwise, and from
// whisper transcription as a last resort. Given a user id it lists the
// user's videos or batch-exports all their subtitles.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/creachadair/atomicfile"
	"github.com/rs/zerolog"

	"bilitext/bilibili"
	"bilitext/config"
	"bilitext/document"
	"bilitext/export"
	"bilitext/internal/httpclient"
	"bilitext/llm"
	"bilitext/subtitle"
	"bilitext/transcribe"
)

type options struct {
	user          bool
	text          bool
	jsonOut       bool
	content       string
	commentLimit  int
	output        string
	browser       string
	debug         bool
	retryLLM      bool
	exportUser    bool
	subtitleLimit int
	noDescription bool
	noMetaInfo    bool
	forceCharging bool
	skipCharging  bool
}

func main() {
	var opts options
	flag.BoolVar(&opts.user, "user", false, "Treat the identifier as a user id")
	flag.BoolVar(&opts.text, "text", false, "Fetch subtitles and print the full text document")
	flag.BoolVar(&opts.jsonOut, "json", false, "Print video metadata as JSON")
	flag.StringVar(&opts.content, "content", "", "Comma-separated document sections to include: subtitles, comments, uploader")
	flag.IntVar(&opts.commentLimit, "comment-limit", 10, "Number of top comments to include")
	flag.StringVar(&opts.output, "output", "", "Write the document to this file instead of stdout")
	flag.StringVar(&opts.output, "o", "", "Shorthand for -output")
	flag.StringVar(&opts.browser, "browser", "", "Read site cookies from this browser (chrome, firefox)")
	flag.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&opts.retryLLM, "retry-llm", false, "Re-run LLM cleanup on a saved transcript file")
	flag.BoolVar(&opts.exportUser, "export-user-subtitles", false, "Export all subtitles for a user into user_<id>/")
	flag.IntVar(&opts.subtitleLimit, "subtitle-limit", 0, "Maximum videos to export (0 = all)")
	flag.BoolVar(&opts.noDescription, "no-description", false, "Omit the description section")
	flag.BoolVar(&opts.noMetaInfo, "no-meta-info", false, "Omit the statistics section")
	flag.BoolVar(&opts.forceCharging, "force-charging", false, "Process charging-exclusive videos without asking")
	flag.BoolVar(&opts.skipCharging, "skip-charging", false, "Skip charging-exclusive videos without asking")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: missing identifier")
		flag.Usage()
		os.Exit(1)
	}
	if opts.forceCharging && opts.skipCharging {
		fmt.Fprintln(os.Stderr, "Error: -force-charging and -skip-charging are mutually exclusive")
		os.Exit(1)
	}

	if err := run(flag.Arg(0), opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `bilitext - Bilibili metadata and subtitle fetcher

Usage:
  bilitext [flags] <BV-code | video-url | user-id>
  bilitext -retry-llm <transcript-file>

Examples:
  bilitext BV1xx411c7mD                          # Metadata table
  bilitext -text BV1xx411c7mD                    # Full document with subtitles
  bilitext -json https://www.bilibili.com/video/BV1xx411c7mD
  bilitext 123456                                # List a user's videos
  bilitext -export-user-subtitles 123456         # Batch export
  bilitext -retry-llm BV1xx411c7mD_transcript.txt

Flags:
`)
	flag.PrintDefaults()
}

func run(identifier string, opts options) error {
	logger := newLogger(opts.debug)

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()

	if opts.retryLLM {
		return runRetryLLM(ctx, cfg, identifier, logger)
	}

	id, err := bilibili.Resolve(identifier, opts.user || opts.exportUser)
	if err != nil {
		return err
	}

	auth := buildAuth(cfg, opts.browser)
	client := bilibili.NewClient(apiConfig(cfg), logger)
	defer client.Close()

	if id.IsUser() {
		if opts.exportUser {
			return runExport(ctx, cfg, client, auth, id.UID, opts, logger)
		}
		return runListVideos(ctx, client, auth, id.UID, opts.subtitleLimit)
	}
	return runVideo(ctx, cfg, client, auth, id.BVID, opts, logger)
}

// newLogger builds a console logger. Debug mode shows every API call
// and subprocess invocation.
func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

// buildAuth prefers browser cookies when requested, falling back to
// configured tokens. Returns nil when neither is available.
func buildAuth(cfg *config.Config, browser string) *bilibili.AuthContext {
	if browser != "" {
		return bilibili.NewBrowserAuth(browser)
	}
	if cfg.HasCredentials() {
		return bilibili.NewTokenAuth(cfg.SESSDATA, cfg.BiliJCT, cfg.Buvid3)
	}
	return nil
}

func apiConfig(cfg *config.Config) *httpclient.Config {
	c := httpclient.DefaultConfig()
	c.RequestsPerSecond = cfg.APIRequestsPerSecond
	c.Retry = cfg.Retry()
	return c
}

// contentSections parses the -content list. An empty flag means every
// section.
func contentSections(list string) (map[string]bool, error) {
	if strings.TrimSpace(list) == "" {
		return map[string]bool{"subtitles": true, "comments": true, "uploader": true}, nil
	}
	sections := map[string]bool{}
	for _, s := range strings.Split(list, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		switch s {
		case "subtitles", "comments", "uploader":
			sections[s] = true
		case "":
		default:
			return nil, fmt.Errorf("unknown -content section %q (use subtitles, comments, uploader)", s)
		}
	}
	return sections, nil
}

// runVideo handles the single-video commands: metadata table, JSON,
// document, or document with subtitles.
func runVideo(ctx context.Context, cfg *config.Config, client *bilibili.Client, auth *bilibili.AuthContext, bvid string, opts options, logger zerolog.Logger) error {
	info, err := client.GetVideoInfo(ctx, bvid, auth)
	if err != nil {
		return err
	}

	if opts.jsonOut {
		return printJSON(info)
	}
	if !opts.text && opts.content == "" {
		printMetadataTable(info)
		return nil
	}

	sections, err := contentSections(opts.content)
	if err != nil {
		return err
	}

	if tags, err := client.GetTags(ctx, bvid, auth); err != nil {
		logger.Warn().Err(err).Msg("could not fetch tags")
	} else {
		info.Tags = tags
	}

	commentLimit := 0
	var comments []bilibili.Comment
	if sections["comments"] && opts.commentLimit > 0 {
		commentLimit = opts.commentLimit
		comments, err = client.GetComments(ctx, info.AID, commentLimit, auth)
		if err != nil {
			logger.Warn().Err(err).Msg("could not fetch comments")
		}
	}

	var sub *subtitle.Result
	if sections["subtitles"] {
		policy, confirm := chargingSetup(opts, subtitle.ChargingPrompt)
		if err := subtitle.EvaluateCharging(info, policy, confirm); err != nil {
			return err
		}

		chain := buildChain(cfg, client, outputDirOf(opts.output), logger)
		res, err := chain.Acquire(ctx, info, auth)
		if err != nil {
			if auth == nil && errors.Is(err, bilibili.ErrAuthRequired) {
				return fmt.Errorf("%w (set BILIBILI_SESSDATA or use -browser)", err)
			}
			return err
		}
		sub = &res
	}

	doc := document.Assemble(info, sub, comments, document.Options{
		IncludeMetaInfo:    !opts.noMetaInfo,
		IncludeDescription: !opts.noDescription,
		IncludeUploader:    sections["uploader"],
		CommentLimit:       commentLimit,
	})

	if opts.output != "" {
		if err := writeDocument(opts.output, doc); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %s\n", opts.output)
		return nil
	}
	fmt.Print(doc)
	return nil
}

// runListVideos prints a user's videos as a table.
func runListVideos(ctx context.Context, client *bilibili.Client, auth *bilibili.AuthContext, mid int64, limit int) error {
	videos, err := client.GetUserVideos(ctx, mid, limit, auth)
	if err != nil {
		return err
	}
	if len(videos) == 0 {
		fmt.Println("No videos found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BVID\tTITLE\tDURATION\tVIEWS\tUPLOADED")
	for _, v := range videos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			v.BVID,
			truncate(v.Title, 50),
			document.FormatDuration(v.Duration),
			v.ViewCount,
			v.UploadTime.Format("2006-01-02"),
		)
	}
	w.Flush()

	fmt.Fprintf(os.Stderr, "\nTotal: %d videos\n", len(videos))
	return nil
}

// runExport drives the batch pipeline for one user.
func runExport(ctx context.Context, cfg *config.Config, client *bilibili.Client, auth *bilibili.AuthContext, mid int64, opts options, logger zerolog.Logger) error {
	outDir := opts.output
	policy, confirm := chargingSetup(opts, subtitle.ChargingSkip)

	pipeline := &export.Pipeline{
		Client: client,
		// Transcripts land in the per-user export dir so a later
		// -retry-llm pass can find them.
		Acquirer:           buildChain(cfg, client, export.UserDir(outDir, mid), logger),
		Auth:               auth,
		OutputDir:          outDir,
		Pacing:             cfg.ExportPacing,
		ChargingPolicy:     policy,
		Confirm:            confirm,
		IncludeMetaInfo:    !opts.noMetaInfo,
		IncludeDescription: !opts.noDescription,
		Logger:             logger,
	}

	stats, err := pipeline.ExportUser(ctx, mid, opts.subtitleLimit)
	if err != nil {
		return err
	}

	fmt.Print(stats.Report())
	return nil
}

// runRetryLLM re-runs transcript cleanup on a previously saved raw
// transcript, writing <stem>_corrected.txt next to it.
func runRetryLLM(ctx context.Context, cfg *config.Config, path string, logger zerolog.Logger) error {
	processor, err := llm.New(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel, logger)
	if err != nil {
		return fmt.Errorf("%w (set LLM_API_KEY and LLM_MODEL)", err)
	}

	outPath, err := processor.ProcessFile(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", outPath)
	return nil
}

// buildChain assembles the three-stage acquisition chain from the
// configured tools. The LLM post-processor is attached only when
// configured.
func buildChain(cfg *config.Config, client *bilibili.Client, outputDir string, logger zerolog.Logger) *subtitle.Chain {
	downloader := bilibili.NewDownloader(logger)
	downloader.Path = cfg.YtdlpPath
	downloader.Timeout = cfg.YtdlpTimeout

	whisper := transcribe.New(cfg.WhisperPath, cfg.WhisperModel, logger)
	whisper.Timeout = cfg.WhisperTimeout

	var processor subtitle.PostProcessor
	if p, err := llm.New(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel, logger); err == nil {
		processor = p
	}

	return subtitle.NewChain(logger,
		&subtitle.APIMethod{API: client},
		&subtitle.DownloaderMethod{Downloader: downloader},
		&subtitle.TranscriptionMethod{
			Downloader:  downloader,
			Transcriber: whisper,
			Processor:   processor,
			OutputDir:   outputDir,
			Logger:      logger,
		},
	)
}

// chargingSetup maps the charging flags onto a policy, with an
// interactive prompt as the single-video default and skip as the batch
// default.
func chargingSetup(opts options, fallback subtitle.ChargingPolicy) (subtitle.ChargingPolicy, subtitle.ConfirmFunc) {
	switch {
	case opts.forceCharging:
		return subtitle.ChargingForce, nil
	case opts.skipCharging:
		return subtitle.ChargingSkip, nil
	}
	if fallback == subtitle.ChargingPrompt {
		return subtitle.ChargingPrompt, promptCharging
	}
	return fallback, nil
}

// promptCharging asks on the terminal whether to process a
// charging-exclusive video.
func promptCharging(video *bilibili.VideoInfo) bool {
	fmt.Fprintf(os.Stderr, "%q is charging-exclusive (supporters only).\n", video.Title)
	if video.ChargingLevel != "" {
		fmt.Fprintf(os.Stderr, "Required tier: %s\n", video.ChargingLevel)
	}
	fmt.Fprint(os.Stderr, "Download anyway? Anonymous access may yield only a preview. [y/N] ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

// printMetadataTable renders the default single-video view.
func printMetadataTable(info *bilibili.VideoInfo) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Title\t%s\n", info.Title)
	fmt.Fprintf(w, "BVID\t%s\n", info.BVID)
	fmt.Fprintf(w, "URL\t%s\n", info.VideoURL())
	fmt.Fprintf(w, "Uploader\t%s\n", info.OwnerName)
	fmt.Fprintf(w, "Uploaded\t%s\n", info.UploadTime.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "Duration\t%s\n", document.FormatDuration(info.Duration))
	fmt.Fprintf(w, "Views\t%d\n", info.ViewCount)
	fmt.Fprintf(w, "Likes\t%d\n", info.LikeCount)
	fmt.Fprintf(w, "Coins\t%d\n", info.CoinCount)
	fmt.Fprintf(w, "Favorites\t%d\n", info.FavoriteCount)
	fmt.Fprintf(w, "Shares\t%d\n", info.ShareCount)
	fmt.Fprintf(w, "Comments\t%d\n", info.CommentCount)
	if info.IsChargingExclusive {
		level := info.ChargingLevel
		if level == "" {
			level = "yes"
		}
		fmt.Fprintf(w, "Charging\t%s\n", level)
	}
	w.Flush()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeDocument writes the assembled document atomically.
func writeDocument(path, doc string) error {
	f, err := atomicfile.New(path, 0644)
	if err != nil {
		return err
	}
	defer f.Cancel()
	if _, err := f.Write([]byte(doc)); err != nil {
		return err
	}
	return f.Close()
}

// outputDirOf returns the directory of an output path, for saving raw
// transcripts next to the document.
func outputDirOf(output string) string {
	if output == "" {
		return "."
	}
	return filepath.Dir(output)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
