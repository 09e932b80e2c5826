package bilibili

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// maxUIDDigits is the heuristic cutoff for classifying a bare number as a
// user id rather than a malformed video reference.
const maxUIDDigits = 10

var (
	bvCodeRegex  = regexp.MustCompile(`^[Bb][Vv][0-9A-Za-z]{10}$`)
	numericRegex = regexp.MustCompile(`^[0-9]+$`)
)

// Identifier is the result of resolving a raw input string: either a
// canonical video code or a numeric user id, never both.
type Identifier struct {
	// BVID is the canonical video code, empty for user identifiers.
	BVID string
	// UID is the user id, zero for video identifiers.
	UID int64
}

// IsUser reports whether the identifier names a user.
func (id Identifier) IsUser() bool { return id.UID != 0 }

func (id Identifier) String() string {
	if id.IsUser() {
		return fmt.Sprintf("uid:%d", id.UID)
	}
	return id.BVID
}

// Resolve classifies input as a video or user reference. A purely numeric
// input of at most ten digits is a user id. Otherwise the input must be a
// canonical BV code, a bilibili.com video URL, or a b23.tv short link.
// forceUser skips the heuristic and requires a numeric user id.
func Resolve(input string, forceUser bool) (Identifier, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Identifier{}, fmt.Errorf("%w: empty input", ErrUnresolvable)
	}

	if forceUser {
		uid, err := strconv.ParseInt(input, 10, 64)
		if err != nil || uid <= 0 {
			return Identifier{}, fmt.Errorf("%w: %q is not a user id", ErrUnresolvable, input)
		}
		return Identifier{UID: uid}, nil
	}

	if numericRegex.MatchString(input) && len(input) <= maxUIDDigits {
		uid, err := strconv.ParseInt(input, 10, 64)
		if err == nil && uid > 0 {
			return Identifier{UID: uid}, nil
		}
	}

	bvid, err := extractBVID(input)
	if err != nil {
		return Identifier{}, err
	}
	return Identifier{BVID: bvid}, nil
}

// extractBVID pulls a canonical video code from a bare code or a URL on one
// of the supported domains.
func extractBVID(input string) (string, error) {
	if bvCodeRegex.MatchString(input) {
		return canonicalBVID(input), nil
	}

	u, err := url.Parse(input)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrUnresolvable, input)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch host {
	case "bilibili.com", "m.bilibili.com", "b23.tv":
	default:
		return "", fmt.Errorf("%w: unsupported host %q", ErrUnresolvable, u.Hostname())
	}

	// The code is the last path segment: /video/BV... on bilibili.com,
	// /BV... on the short-link domain.
	path := strings.TrimSuffix(u.Path, "/")
	seg := path[strings.LastIndex(path, "/")+1:]
	if bvCodeRegex.MatchString(seg) {
		return canonicalBVID(seg), nil
	}

	return "", fmt.Errorf("%w: no video code in %q", ErrUnresolvable, input)
}

// canonicalBVID normalizes the prefix casing.
func canonicalBVID(code string) string {
	return "BV" + code[2:]
}
