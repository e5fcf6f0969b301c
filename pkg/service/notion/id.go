package notion

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ErrInvalidDatabaseID is returned when a database reference is neither an ID nor a
// notion.so URL
var ErrInvalidDatabaseID = goerr.New("invalid Notion database ID")

var hex32 = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ParseDatabaseID accepts a raw ID with or without dashes, or a page URL copied from
// the browser, and returns the dashed UUID form the API expects.
func ParseDatabaseID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)

	candidate := ref
	if strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", goerr.Wrap(ErrInvalidDatabaseID, "malformed URL", goerr.V("ref", ref))
		}
		if host := u.Hostname(); host != "notion.so" && host != "www.notion.so" {
			return "", goerr.Wrap(ErrInvalidDatabaseID, "not a notion.so URL", goerr.V("ref", ref))
		}
		// the ID is the tail of the last path segment, after an optional title slug
		segments := strings.Split(strings.TrimRight(u.Path, "/"), "/")
		candidate = segments[len(segments)-1]
	}

	id := strings.ToLower(strings.ReplaceAll(candidate, "-", ""))
	if len(id) > 32 {
		id = id[len(id)-32:]
	}
	if !hex32.MatchString(id) {
		return "", goerr.Wrap(ErrInvalidDatabaseID, "no 32 digit hex ID found", goerr.V("ref", ref))
	}
	return id[0:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:], nil
}
