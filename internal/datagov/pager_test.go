package datagov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/fetcher"
	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeUpstream serves n synthetic rows and records every requested offset.
type fakeUpstream struct {
	n         int
	sendTotal bool
	failAt    int // offset whose request fails; -1 disables
	offsets   []int
}

func (u *fakeUpstream) GetJSON(_ context.Context, rawURL string, v any) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	q := parsed.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	u.offsets = append(u.offsets, offset)
	if offset == u.failAt {
		return &fetcher.FetchExhaustedError{URL: rawURL, Attempts: 6, Err: errors.New("http 503")}
	}

	var records []json.RawMessage
	for i := offset; i < offset+limit && i < u.n; i++ {
		records = append(records, json.RawMessage(fmt.Sprintf(`{"district_code":"%d"}`, i)))
	}
	body := map[string]any{"records": records}
	if u.sendTotal {
		body["total"] = u.n
	}
	b, _ := json.Marshal(body)
	return json.Unmarshal(b, v)
}

func newClient(t *testing.T, f fetcher.Fetcher, pageSize int) *Client {
	t.Helper()
	c, err := NewClient(f, Config{ResourceID: "res", APIKey: "key", State: "PUNJAB", PageSize: pageSize})
	require.NoError(t, err)
	return c
}

func walk(ctx context.Context, p *Pager) (rows int) {
	for p.Next(ctx) {
		rows += len(p.Records())
	}
	return rows
}

func TestPager_RequestCount(t *testing.T) {
	tests := []struct {
		name      string
		n, limit  int
		sendTotal bool
		requests  int
	}{
		{"empty resource", 0, 10, false, 1},
		{"single short page", 3, 10, false, 1},
		{"partial last page", 25, 10, false, 3},
		{"exact multiple with total", 30, 10, true, 3},
		{"exact multiple without total", 30, 10, false, 4},
		{"one full page with total", 10, 10, true, 1},
		{"partial last page with total", 25, 10, true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUpstream{n: tt.n, sendTotal: tt.sendTotal, failAt: -1}
			p := newClient(t, up, tt.limit).Pages()

			rows := walk(context.Background(), p)
			require.NoError(t, p.Err())
			assert.Equal(t, tt.n, rows)
			assert.Equal(t, tt.requests, p.Requests())
			assert.Len(t, up.offsets, tt.requests)
			for i, off := range up.offsets {
				assert.Equal(t, i*tt.limit, off, "offsets must advance by L")
			}
		})
	}
}

func TestPager_NotRestartable(t *testing.T) {
	up := &fakeUpstream{n: 5, failAt: -1}
	p := newClient(t, up, 10).Pages()

	assert.Equal(t, 5, walk(context.Background(), p))
	assert.False(t, p.Next(context.Background()))
	assert.Len(t, up.offsets, 1)
}

func TestPager_PageFailureAbortsWalk(t *testing.T) {
	up := &fakeUpstream{n: 50, failAt: 20}
	p := newClient(t, up, 10).Pages()

	rows := walk(context.Background(), p)
	assert.Equal(t, 20, rows)
	require.Error(t, p.Err())
	assert.True(t, errors.Is(p.Err(), fetcher.ErrFetchExhausted))
	assert.Equal(t, []int{0, 10, 20}, up.offsets)
	assert.False(t, p.Next(context.Background()))
}

func TestPager_CancelledContext(t *testing.T) {
	up := &fakeUpstream{n: 50, failAt: -1}
	p := newClient(t, up, 10).Pages()

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, p.Next(ctx))
	cancel()
	assert.False(t, p.Next(ctx))
	assert.True(t, errors.Is(p.Err(), context.Canceled))
	assert.Len(t, up.offsets, 1)
}

func TestPager_AbsentRecordsEndsWalk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"ok","message":"Resource detail"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Retry: resilience.FromRetryBudget(0, 1), Timeout: 5 * time.Second})
	c, err := NewClient(f, Config{BaseURL: srv.URL, ResourceID: "res", APIKey: "k", State: "PUNJAB"})
	require.NoError(t, err)

	p := c.Pages()
	assert.False(t, p.Next(context.Background()))
	assert.NoError(t, p.Err())
	assert.Equal(t, 1, p.Requests())
}

func TestPager_OverHTTP(t *testing.T) {
	var seen []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/resource/ee03643a", r.URL.Path)
		seen = append(seen, r.URL.Query())
		if r.URL.Query().Get("offset") == "0" {
			w.Write([]byte(`{"total":"3","count":2,"records":[{"a":1},{"a":2}]}`)) //nolint:errcheck
			return
		}
		w.Write([]byte(`{"total":"3","count":1,"records":[{"a":3}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Retry: resilience.FromRetryBudget(0, 1), Timeout: 5 * time.Second})
	c, err := NewClient(f, Config{BaseURL: srv.URL + "/resource/", ResourceID: "ee03643a", APIKey: "k", State: "PUNJAB", PageSize: 2})
	require.NoError(t, err)

	p := c.Pages()
	assert.Equal(t, 3, walk(context.Background(), p))
	require.NoError(t, p.Err())
	require.Len(t, seen, 2)
	assert.Equal(t, "k", seen[0].Get("api-key"))
	assert.Equal(t, "json", seen[0].Get("format"))
	assert.Equal(t, "2", seen[0].Get("limit"))
	assert.Equal(t, "PUNJAB", seen[0].Get("filters[state_name]"))
	assert.Equal(t, "2", seen[1].Get("offset"))
}
