// Package document assembles a single-video text document from
// metadata, subtitles, tags, and comments.
package document

import (
	"fmt"
	"strings"

	"bilitext/bilibili"
	"bilitext/subtitle"
)

// Options controls which sections appear in the assembled document.
type Options struct {
	// IncludeMetaInfo adds the statistics block (views, likes, coins).
	IncludeMetaInfo bool
	// IncludeDescription adds the uploader's description.
	IncludeDescription bool
	// IncludeUploader adds the uploader section.
	IncludeUploader bool
	// CommentLimit caps the comment section. 0 omits comments.
	CommentLimit int
}

// DefaultOptions enables every section with ten comments.
func DefaultOptions() Options {
	return Options{
		IncludeMetaInfo:    true,
		IncludeDescription: true,
		IncludeUploader:    true,
		CommentLimit:       10,
	}
}

// Assemble renders the document. Section order is fixed: title and
// link, metadata, description, uploader, tags, subtitles, comments.
// Empty sections are omitted entirely rather than rendered as headers
// with no body.
func Assemble(video *bilibili.VideoInfo, sub *subtitle.Result, comments []bilibili.Comment, opts Options) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n%s\n", video.Title, strings.Repeat("=", len([]rune(video.Title))))
	fmt.Fprintf(&b, "%s\n", video.VideoURL())

	if opts.IncludeMetaInfo {
		b.WriteString("\n")
		writeMetaInfo(&b, video)
	}

	if opts.IncludeDescription && strings.TrimSpace(video.Description) != "" {
		b.WriteString("\nDescription\n-----------\n")
		b.WriteString(strings.TrimSpace(video.Description))
		b.WriteString("\n")
	}

	if opts.IncludeUploader && video.OwnerName != "" {
		b.WriteString("\nUploader\n--------\n")
		fmt.Fprintf(&b, "%s (uid %d)\n", video.OwnerName, video.OwnerMid)
	}

	if len(video.Tags) > 0 {
		b.WriteString("\nTags\n----\n")
		b.WriteString(strings.Join(video.Tags, ", "))
		b.WriteString("\n")
	}

	if sub != nil && sub.OK {
		b.WriteString("\nSubtitles\n---------\n")
		fmt.Fprintf(&b, "Source: %s\n", sub.Source)
		if sub.Truncated {
			b.WriteString("Note: the fetched audio was shorter than the declared video length; this transcript may be incomplete.\n")
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(sub.Text))
		b.WriteString("\n")
	}

	if opts.CommentLimit > 0 && len(comments) > 0 {
		limit := opts.CommentLimit
		if limit > len(comments) {
			limit = len(comments)
		}
		b.WriteString("\nTop Comments\n------------\n")
		for _, c := range comments[:limit] {
			fmt.Fprintf(&b, "%s (%d likes): %s\n", c.Author, c.Likes, strings.TrimSpace(c.Message))
		}
	}

	return b.String()
}

// writeMetaInfo renders the statistics block.
func writeMetaInfo(b *strings.Builder, video *bilibili.VideoInfo) {
	fmt.Fprintf(b, "Uploaded:  %s\n", video.UploadTime.Format("2006-01-02 15:04"))
	fmt.Fprintf(b, "Duration:  %s\n", FormatDuration(video.Duration))
	fmt.Fprintf(b, "Views:     %d\n", video.ViewCount)
	fmt.Fprintf(b, "Likes:     %d\n", video.LikeCount)
	fmt.Fprintf(b, "Coins:     %d\n", video.CoinCount)
	fmt.Fprintf(b, "Favorites: %d\n", video.FavoriteCount)
	fmt.Fprintf(b, "Shares:    %d\n", video.ShareCount)
	fmt.Fprintf(b, "Comments:  %d\n", video.CommentCount)
	if video.IsChargingExclusive {
		level := video.ChargingLevel
		if level == "" {
			level = "yes"
		}
		fmt.Fprintf(b, "Charging:  %s\n", level)
	}
}

// FormatDuration renders seconds as "HH:MM:SS".
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}
