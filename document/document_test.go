package document

import (
	"strings"
	"testing"
	"time"

	"bilitext/bilibili"
	"bilitext/subtitle"
)

func sampleVideo() *bilibili.VideoInfo {
	return &bilibili.VideoInfo{
		BVID:          "BV1xx411c7mD",
		Title:         "Sample Video",
		Description:   "A description.",
		Duration:      3725,
		ViewCount:     1000,
		LikeCount:     100,
		CoinCount:     50,
		FavoriteCount: 30,
		ShareCount:    20,
		CommentCount:  10,
		UploadTime:    time.Date(2024, 3, 15, 12, 30, 0, 0, time.UTC),
		OwnerName:     "uploader",
		OwnerMid:      7,
		Tags:          []string{"music", "live"},
	}
}

func TestAssemble_AllSections(t *testing.T) {
	sub := &subtitle.Result{Text: "[00:01] hello", Source: subtitle.SourceAPI, OK: true}
	comments := []bilibili.Comment{
		{Author: "alice", Message: "great", Likes: 9},
		{Author: "bob", Message: "nice", Likes: 3},
	}

	doc := Assemble(sampleVideo(), sub, comments, DefaultOptions())

	for _, want := range []string{
		"Sample Video",
		"https://www.bilibili.com/video/BV1xx411c7mD",
		"uploader (uid 7)",
		"Duration:  01:02:05",
		"Views:     1000",
		"A description.",
		"music, live",
		"Source: api",
		"[00:01] hello",
		"alice (9 likes): great",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %q:\n%s", want, doc)
		}
	}
}

func TestAssemble_SectionOrder(t *testing.T) {
	sub := &subtitle.Result{Text: "[00:01] hello", Source: subtitle.SourceAPI, OK: true}
	comments := []bilibili.Comment{{Author: "alice", Message: "great", Likes: 9}}

	doc := Assemble(sampleVideo(), sub, comments, DefaultOptions())

	markers := []string{"Views:", "Description", "Uploader", "Tags", "Subtitles", "Top Comments"}
	last := -1
	for _, m := range markers {
		idx := strings.Index(doc, m)
		if idx < 0 {
			t.Fatalf("document missing section %q", m)
		}
		if idx < last {
			t.Errorf("section %q appears out of order", m)
		}
		last = idx
	}
}

func TestAssemble_OmitsEmptySections(t *testing.T) {
	video := sampleVideo()
	video.Description = "   "
	video.Tags = nil

	doc := Assemble(video, nil, nil, DefaultOptions())

	for _, absent := range []string{"Description", "Tags", "Subtitles", "Top Comments"} {
		if strings.Contains(doc, absent) {
			t.Errorf("document contains empty section %q:\n%s", absent, doc)
		}
	}
}

func TestAssemble_OptionGates(t *testing.T) {
	sub := &subtitle.Result{Text: "[00:01] hello", Source: subtitle.SourceAPI, OK: true}
	comments := []bilibili.Comment{{Author: "alice", Message: "great", Likes: 9}}

	opts := Options{IncludeMetaInfo: false, IncludeDescription: false, IncludeUploader: false, CommentLimit: 0}
	doc := Assemble(sampleVideo(), sub, comments, opts)

	if strings.Contains(doc, "Views:") {
		t.Error("meta info rendered despite IncludeMetaInfo=false")
	}
	if strings.Contains(doc, "A description.") {
		t.Error("description rendered despite IncludeDescription=false")
	}
	if strings.Contains(doc, "uploader (uid 7)") {
		t.Error("uploader rendered despite IncludeUploader=false")
	}
	if strings.Contains(doc, "Top Comments") {
		t.Error("comments rendered despite CommentLimit=0")
	}
	if !strings.Contains(doc, "[00:01] hello") {
		t.Error("subtitles should render regardless of option gates")
	}
}

func TestAssemble_CommentLimit(t *testing.T) {
	comments := make([]bilibili.Comment, 5)
	for i := range comments {
		comments[i] = bilibili.Comment{Author: "u", Message: "m", Likes: int64(i)}
	}

	opts := DefaultOptions()
	opts.CommentLimit = 3
	doc := Assemble(sampleVideo(), nil, comments, opts)

	if got := strings.Count(doc, "u ("); got != 3 {
		t.Errorf("rendered %d comments, want 3", got)
	}
}

func TestAssemble_TruncatedNote(t *testing.T) {
	sub := &subtitle.Result{
		Text:      "partial",
		Source:    subtitle.SourceTranscription,
		OK:        true,
		Truncated: true,
	}

	doc := Assemble(sampleVideo(), sub, nil, DefaultOptions())
	if !strings.Contains(doc, "may be incomplete") {
		t.Error("document missing truncation note")
	}
}

func TestAssemble_ChargingLine(t *testing.T) {
	video := sampleVideo()
	video.IsChargingExclusive = true
	video.ChargingLevel = "Tier 2"

	doc := Assemble(video, nil, nil, DefaultOptions())
	if !strings.Contains(doc, "Charging:  Tier 2") {
		t.Errorf("document missing charging line:\n%s", doc)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "00:00:00"},
		{59, "00:00:59"},
		{3725, "01:02:05"},
		{-1, "00:00:00"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}
