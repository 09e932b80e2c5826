package bilibili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bilitext/internal/httpclient"
)

const defaultBaseURL = "https://api.bilibili.com"

// API error codes returned in the response envelope.
const (
	codeNotLoggedIn   = -101
	codeAccessDenied  = -403
	codeNotFound      = -404
	codeVideoGone     = 62002
	codeChargingOnly  = 87007
	userVideoPageSize = 30
)

// Client talks to the Bilibili REST API.
type Client struct {
	http    *httpclient.Client
	baseURL string
	logger  zerolog.Logger
}

// NewClient creates an API client. A nil config uses defaults.
func NewClient(cfg *httpclient.Config, logger zerolog.Logger) *Client {
	return &Client{
		http:    httpclient.New(cfg),
		baseURL: defaultBaseURL,
		logger:  logger,
	}
}

// SetBaseURL overrides the API endpoint, mainly for tests.
func (c *Client) SetBaseURL(base string) {
	c.baseURL = strings.TrimSuffix(base, "/")
}

// Close releases the underlying HTTP resources.
func (c *Client) Close() error { return c.http.Close() }

// APIError is a non-zero code in the Bilibili response envelope.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bilibili: api code %d: %s", e.Code, e.Message)
}

// envelope is the common Bilibili API response wrapper.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// get performs an authenticated GET and unwraps the response envelope into v.
func (c *Client) get(ctx context.Context, path string, params url.Values, auth *AuthContext, v interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	headers := map[string]string{"Referer": "https://www.bilibili.com"}
	if cookie := auth.CookieHeader(); cookie != "" {
		headers["Cookie"] = cookie
	}

	c.logger.Debug().Str("url", u).Msg("bilibili api request")

	resp, err := c.http.Do(ctx, "GET", u, headers)
	if err != nil {
		var rle *httpclient.RateLimitError
		if errors.As(err, &rle) {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return err
	}

	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("parse api response: %w", err)
	}

	switch env.Code {
	case 0:
	case codeNotLoggedIn, codeAccessDenied, codeChargingOnly:
		return fmt.Errorf("%w: api code %d: %s", ErrAuthRequired, env.Code, env.Message)
	case codeNotFound, codeVideoGone:
		return fmt.Errorf("%w: api code %d: %s", ErrVideoNotFound, env.Code, env.Message)
	default:
		return &APIError{Code: env.Code, Message: env.Message}
	}

	if v != nil {
		if err := json.Unmarshal(env.Data, v); err != nil {
			return fmt.Errorf("parse api data: %w", err)
		}
	}
	return nil
}

// viewData is the /x/web-interface/view payload.
type viewData struct {
	BVID     string `json:"bvid"`
	AID      int64  `json:"aid"`
	CID      int64  `json:"cid"`
	Title    string `json:"title"`
	Desc     string `json:"desc"`
	Duration int    `json:"duration"`
	Pubdate  int64  `json:"pubdate"`
	Owner    struct {
		Mid  int64  `json:"mid"`
		Name string `json:"name"`
	} `json:"owner"`
	Stat struct {
		View     int64 `json:"view"`
		Like     int64 `json:"like"`
		Coin     int64 `json:"coin"`
		Favorite int64 `json:"favorite"`
		Share    int64 `json:"share"`
		Reply    int64 `json:"reply"`
	} `json:"stat"`
	IsUpowerExclusive bool `json:"is_upower_exclusive"`
	UpowerLevel       struct {
		Title string `json:"title"`
	} `json:"upower_level,omitempty"`
}

// GetVideoInfo fetches structured metadata for a video.
func (c *Client) GetVideoInfo(ctx context.Context, bvid string, auth *AuthContext) (*VideoInfo, error) {
	params := url.Values{}
	params.Set("bvid", bvid)

	var data viewData
	if err := c.get(ctx, "/x/web-interface/view", params, auth, &data); err != nil {
		return nil, fmt.Errorf("fetch video info %s: %w", bvid, err)
	}

	return &VideoInfo{
		BVID:                data.BVID,
		AID:                 data.AID,
		CID:                 data.CID,
		Title:               data.Title,
		Description:         data.Desc,
		Duration:            data.Duration,
		ViewCount:           data.Stat.View,
		LikeCount:           data.Stat.Like,
		CoinCount:           data.Stat.Coin,
		FavoriteCount:       data.Stat.Favorite,
		ShareCount:          data.Stat.Share,
		CommentCount:        data.Stat.Reply,
		UploadTime:          time.Unix(data.Pubdate, 0).UTC(),
		OwnerName:           data.Owner.Name,
		OwnerMid:            data.Owner.Mid,
		IsChargingExclusive: data.IsUpowerExclusive,
		ChargingLevel:       data.UpowerLevel.Title,
	}, nil
}

// userVideosData is the /x/space/arc/search payload.
type userVideosData struct {
	List struct {
		Vlist []struct {
			BVID        string `json:"bvid"`
			AID         int64  `json:"aid"`
			Title       string `json:"title"`
			Description string `json:"description"`
			Length      string `json:"length"` // "MM:SS" or "HH:MM:SS"
			Play        int64  `json:"play"`
			Comment     int64  `json:"comment"`
			Created     int64  `json:"created"`
			Author      string `json:"author"`
			Mid         int64  `json:"mid"`
		} `json:"vlist"`
	} `json:"list"`
	Page struct {
		Count int `json:"count"`
		PN    int `json:"pn"`
		PS    int `json:"ps"`
	} `json:"page"`
}

// GetUserVideos fetches a user's video list, newest first, paging through
// the space archive API. limit caps the number of videos; 0 means all.
func (c *Client) GetUserVideos(ctx context.Context, mid int64, limit int, auth *AuthContext) ([]VideoInfo, error) {
	var videos []VideoInfo

	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("mid", strconv.FormatInt(mid, 10))
		params.Set("pn", strconv.Itoa(page))
		params.Set("ps", strconv.Itoa(userVideoPageSize))

		var data userVideosData
		if err := c.get(ctx, "/x/space/arc/search", params, auth, &data); err != nil {
			return nil, fmt.Errorf("fetch user %d videos page %d: %w", mid, page, err)
		}

		if len(data.List.Vlist) == 0 {
			break
		}

		for _, item := range data.List.Vlist {
			videos = append(videos, VideoInfo{
				BVID:         item.BVID,
				AID:          item.AID,
				Title:        item.Title,
				Description:  item.Description,
				Duration:     parseClockDuration(item.Length),
				ViewCount:    item.Play,
				CommentCount: item.Comment,
				UploadTime:   time.Unix(item.Created, 0).UTC(),
				OwnerName:    item.Author,
				OwnerMid:     mid,
			})
			if limit > 0 && len(videos) >= limit {
				return videos, nil
			}
		}

		if len(videos) >= data.Page.Count {
			break
		}
	}

	return videos, nil
}

// playerData is the /x/player/v2 payload, reduced to the subtitle listing.
type playerData struct {
	Subtitle struct {
		Subtitles []struct {
			Lan         string `json:"lan"`
			LanDoc      string `json:"lan_doc"`
			SubtitleURL string `json:"subtitle_url"`
		} `json:"subtitles"`
	} `json:"subtitle"`
}

// subtitleBody is the format of a fetched subtitle track.
type subtitleBody struct {
	Body []struct {
		From    float64 `json:"from"`
		To      float64 `json:"to"`
		Content string  `json:"content"`
	} `json:"body"`
}

// GetSubtitle fetches the platform subtitle track for a video, if one is
// registered (manual or AI generated). Lines are rendered as
// "[MM:SS] text". Returns ErrNoSubtitles when no track exists.
func (c *Client) GetSubtitle(ctx context.Context, video *VideoInfo, auth *AuthContext) (string, error) {
	params := url.Values{}
	params.Set("bvid", video.BVID)
	params.Set("cid", strconv.FormatInt(video.CID, 10))

	var data playerData
	if err := c.get(ctx, "/x/player/v2", params, auth, &data); err != nil {
		return "", fmt.Errorf("fetch subtitle list %s: %w", video.BVID, err)
	}

	if len(data.Subtitle.Subtitles) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoSubtitles, video.BVID)
	}

	track := data.Subtitle.Subtitles[0]
	trackURL := track.SubtitleURL
	if strings.HasPrefix(trackURL, "//") {
		trackURL = "https:" + trackURL
	}

	c.logger.Debug().
		Str("bvid", video.BVID).
		Str("lang", track.Lan).
		Msg("fetching subtitle track")

	resp, err := c.http.Get(ctx, trackURL)
	if err != nil {
		return "", fmt.Errorf("fetch subtitle track: %w", err)
	}

	var body subtitleBody
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", fmt.Errorf("parse subtitle track: %w", err)
	}

	var b strings.Builder
	for _, line := range body.Body {
		text := strings.TrimSpace(line.Content)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", formatClock(int(line.From)), text)
	}
	return b.String(), nil
}

// replyData is the /x/v2/reply payload reduced to what the assembler needs.
type replyData struct {
	Replies []struct {
		Like    int64 `json:"like"`
		Content struct {
			Message string `json:"message"`
		} `json:"content"`
		Member struct {
			Uname string `json:"uname"`
		} `json:"member"`
	} `json:"replies"`
}

// GetComments fetches the top-liked comments for a video.
func (c *Client) GetComments(ctx context.Context, aid int64, limit int, auth *AuthContext) ([]Comment, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{}
	params.Set("type", "1")
	params.Set("oid", strconv.FormatInt(aid, 10))
	params.Set("sort", "1") // by likes
	params.Set("ps", strconv.Itoa(limit))

	var data replyData
	if err := c.get(ctx, "/x/v2/reply", params, auth, &data); err != nil {
		return nil, fmt.Errorf("fetch comments for av%d: %w", aid, err)
	}

	comments := make([]Comment, 0, len(data.Replies))
	for _, r := range data.Replies {
		comments = append(comments, Comment{
			Author:  r.Member.Uname,
			Message: r.Content.Message,
			Likes:   r.Like,
		})
		if len(comments) >= limit {
			break
		}
	}
	return comments, nil
}

// tagData is the /x/tag/archive/tags payload.
type tagData []struct {
	TagName string `json:"tag_name"`
}

// GetTags fetches the video's tag names.
func (c *Client) GetTags(ctx context.Context, bvid string, auth *AuthContext) ([]string, error) {
	params := url.Values{}
	params.Set("bvid", bvid)

	var data tagData
	if err := c.get(ctx, "/x/tag/archive/tags", params, auth, &data); err != nil {
		return nil, fmt.Errorf("fetch tags %s: %w", bvid, err)
	}

	tags := make([]string, 0, len(data))
	for _, t := range data {
		tags = append(tags, t.TagName)
	}
	return tags, nil
}

// parseClockDuration converts "MM:SS" or "HH:MM:SS" to seconds.
// Malformed input yields 0, matching the lenient list API.
func parseClockDuration(s string) int {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}

// formatClock renders seconds as "MM:SS" (or "H:MM:SS" past an hour).
func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
