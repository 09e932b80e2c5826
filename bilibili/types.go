// Package bilibili provides identifier resolution, metadata access and media
// download for Bilibili videos and users.
package bilibili

import (
	"errors"
	"time"
)

// Sentinel errors for Bilibili operations.
var (
	ErrUnresolvable   = errors.New("bilibili: unresolvable identifier")
	ErrVideoNotFound  = errors.New("bilibili: video not found")
	ErrAuthRequired   = errors.New("bilibili: authentication required")
	ErrRateLimited    = errors.New("bilibili: rate limited")
	ErrNoSubtitles    = errors.New("bilibili: no subtitle track")
	ErrYtdlpNotFound  = errors.New("bilibili: yt-dlp not installed")
	ErrNoMediaFetched = errors.New("bilibili: downloader produced no files")
)

// VideoInfo contains metadata about a Bilibili video.
type VideoInfo struct {
	// BVID is the canonical video code (e.g., "BV1xx411c7mD").
	BVID string `json:"bvid"`
	// AID is the numeric archive id, used by the comment API.
	AID int64 `json:"aid,omitempty"`
	// CID is the id of the video's first page, used by the player API.
	CID int64 `json:"cid,omitempty"`
	// Title is the video title.
	Title string `json:"title"`
	// Description is the full video description.
	Description string `json:"description"`
	// Duration is the declared video length in seconds.
	Duration int `json:"duration"`
	// ViewCount is the total number of views.
	ViewCount int64 `json:"view_count"`
	// LikeCount is the number of likes.
	LikeCount int64 `json:"like_count"`
	// CoinCount is the number of coins given.
	CoinCount int64 `json:"coin_count"`
	// FavoriteCount is the number of favorites.
	FavoriteCount int64 `json:"favorite_count"`
	// ShareCount is the number of shares.
	ShareCount int64 `json:"share_count"`
	// CommentCount is the number of comments.
	CommentCount int64 `json:"comment_count"`
	// UploadTime is when the video was published.
	UploadTime time.Time `json:"upload_time"`
	// OwnerName is the uploader's display name.
	OwnerName string `json:"owner_name"`
	// OwnerMid is the uploader's numeric user id.
	OwnerMid int64 `json:"owner_mid"`
	// Tags are the video's tags, when fetched.
	Tags []string `json:"tags,omitempty"`
	// IsChargingExclusive marks videos that require payment for
	// full-length access; only a preview is served without it.
	IsChargingExclusive bool `json:"is_charging_exclusive"`
	// ChargingLevel is the required supporter tier, when declared.
	ChargingLevel string `json:"charging_level,omitempty"`
}

// VideoURL returns the full Bilibili URL for this video.
func (v VideoInfo) VideoURL() string {
	return "https://www.bilibili.com/video/" + v.BVID
}

// Comment is a single top-level video comment.
type Comment struct {
	Author  string `json:"author"`
	Message string `json:"message"`
	Likes   int64  `json:"likes"`
}

// AuthContext carries authentication for platform requests. Either static
// session tokens or a browser cookie source is set, never both. A nil
// *AuthContext means anonymous access.
type AuthContext struct {
	sessdata string
	biliJCT  string
	buvid3   string
	browser  string
}

// NewTokenAuth builds an AuthContext from static session cookies.
func NewTokenAuth(sessdata, biliJCT, buvid3 string) *AuthContext {
	return &AuthContext{sessdata: sessdata, biliJCT: biliJCT, buvid3: buvid3}
}

// NewBrowserAuth builds an AuthContext that extracts cookies live from the
// named browser ("chrome" or "firefox"). Only the downloader supports this;
// API requests made with browser auth are anonymous.
func NewBrowserAuth(browser string) *AuthContext {
	return &AuthContext{browser: browser}
}

// Browser returns the browser cookie source, or "" for token auth.
func (a *AuthContext) Browser() string {
	if a == nil {
		return ""
	}
	return a.browser
}

// CookieHeader renders the session tokens as a Cookie header value.
// Returns "" when no static tokens are set.
func (a *AuthContext) CookieHeader() string {
	if a == nil || a.sessdata == "" {
		return ""
	}
	cookie := "SESSDATA=" + a.sessdata
	if a.biliJCT != "" {
		cookie += "; bili_jct=" + a.biliJCT
	}
	if a.buvid3 != "" {
		cookie += "; buvid3=" + a.buvid3
	}
	return cookie
}
