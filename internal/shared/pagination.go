package shared

import (
	"net/url"
	"strconv"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// PageRequest is a limit/offset window over a listing.
type PageRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ParsePageRequest reads limit and offset query parameters, clamping them to
// sane bounds. Malformed values fall back to the defaults.
func ParsePageRequest(q url.Values) PageRequest {
	page := PageRequest{Limit: defaultPageLimit}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		page.Limit = v
	}
	if page.Limit > maxPageLimit {
		page.Limit = maxPageLimit
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		page.Offset = v
	}
	return page
}
