package shared

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePageRequest(t *testing.T) {
	assert.Equal(t, PageRequest{Limit: 50}, ParsePageRequest(url.Values{}))
	assert.Equal(t, PageRequest{Limit: 10, Offset: 20}, ParsePageRequest(url.Values{"limit": {"10"}, "offset": {"20"}}))
	assert.Equal(t, PageRequest{Limit: 500}, ParsePageRequest(url.Values{"limit": {"9999"}}))
	assert.Equal(t, PageRequest{Limit: 50}, ParsePageRequest(url.Values{"limit": {"-1"}, "offset": {"abc"}}))
}
