// Package datagov reads paginated resources from the data.gov.in open-data API.
package datagov

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/fetcher"
)

// DefaultBaseURL is the data.gov.in resource endpoint.
const DefaultBaseURL = "https://api.data.gov.in/resource"

// DefaultPageSize is the largest page the API serves in one request.
const DefaultPageSize = 5000

// ErrConfiguration marks a client that cannot issue requests at all.
var ErrConfiguration = errors.New("datagov: configuration error")

// Config identifies one resource and the state filter applied to it.
type Config struct {
	BaseURL    string
	ResourceID string
	APIKey     string
	State      string
	PageSize   int
}

// Response is the subset of the data.gov.in envelope the walker reads.
// Records are kept as raw JSON so callers decide how to interpret them.
type Response struct {
	Total   FlexInt           `json:"total"`
	Count   FlexInt           `json:"count"`
	Records []json.RawMessage `json:"records"`
}

// FlexInt decodes an integer that the API sometimes serializes as a string.
// Valid is false when the field is absent, null or not numeric.
type FlexInt struct {
	Value int
	Valid bool
}

// UnmarshalJSON accepts 42, "42", null and "".
func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = FlexInt{}
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*f = FlexInt{}
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*f = FlexInt{}
		return nil
	}
	*f = FlexInt{Value: n, Valid: true}
	return nil
}

// Client builds resource URLs and fetches pages through a fetcher.Fetcher.
type Client struct {
	f   fetcher.Fetcher
	cfg Config
}

// NewClient validates cfg and returns a client. A missing API key, resource
// id or state yields an error wrapping ErrConfiguration.
func NewClient(f fetcher.Fetcher, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	switch {
	case f == nil:
		return nil, eris.Wrap(ErrConfiguration, "fetcher is nil")
	case strings.TrimSpace(cfg.APIKey) == "":
		return nil, eris.Wrap(ErrConfiguration, "api key is required")
	case strings.TrimSpace(cfg.ResourceID) == "":
		return nil, eris.Wrap(ErrConfiguration, "resource id is required")
	case strings.TrimSpace(cfg.State) == "":
		return nil, eris.Wrap(ErrConfiguration, "state is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, eris.Wrapf(ErrConfiguration, "invalid base url %q", cfg.BaseURL)
	}
	return &Client{f: f, cfg: cfg}, nil
}

// PageSize returns the configured page size L.
func (c *Client) PageSize() int { return c.cfg.PageSize }

// PageURL returns the request URL for the page starting at offset.
func (c *Client) PageURL(offset int) string {
	q := url.Values{}
	q.Set("api-key", c.cfg.APIKey)
	q.Set("format", "json")
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("filters[state_name]", c.cfg.State)
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + url.PathEscape(c.cfg.ResourceID) + "?" + q.Encode()
}

// Pages starts a new walk over the resource from offset 0.
func (c *Client) Pages() *Pager {
	return &Pager{client: c}
}
