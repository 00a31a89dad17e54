package robots

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/garkling/PDFLinkCrawler/internal/config"
)

func newRobotsServer(t *testing.T, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		time.Sleep(10 * time.Millisecond)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAgent(respect bool, overrides ...string) *Agent {
	return NewAgent(config.RobotsConfig{
		Respect:   respect,
		UserAgent: "pdfcrawler-bot/1.0",
		Overrides: overrides,
		CacheTTL:  config.DurationFrom(time.Hour),
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func parse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	assert.NoError(t, err)
	return u
}

func TestAgentHonoursRules(t *testing.T) {
	var hits atomic.Int32
	srv := newRobotsServer(t, "User-agent: *\nDisallow: /private/\n", &hits)
	agent := newTestAgent(true)
	ctx := context.Background()

	assert.True(t, agent.Allowed(ctx, parse(t, srv.URL+"/public/a.pdf")))
	assert.False(t, agent.Allowed(ctx, parse(t, srv.URL+"/private/b.pdf")))
	assert.EqualValues(t, 1, hits.Load(), "rules are cached")

	agent.Purge(srv.URL)
	assert.False(t, agent.Allowed(ctx, parse(t, srv.URL+"/private/b.pdf")))
	assert.EqualValues(t, 2, hits.Load())
}

func TestAgentCoalescesConcurrentFetches(t *testing.T) {
	var hits atomic.Int32
	srv := newRobotsServer(t, "User-agent: *\nAllow: /\n", &hits)
	agent := newTestAgent(true)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.True(t, agent.Allowed(context.Background(), parse(t, fmt.Sprintf("%s/p/%d", srv.URL, i))))
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, hits.Load())
}

func TestAgentOverridesAndDisabled(t *testing.T) {
	var hits atomic.Int32
	srv := newRobotsServer(t, "User-agent: *\nDisallow: /\n", &hits)
	u := parse(t, srv.URL+"/x")

	assert.True(t, newTestAgent(false).Allowed(context.Background(), u))
	assert.True(t, newTestAgent(true, u.Hostname()).Allowed(context.Background(), u))
	assert.Zero(t, hits.Load())

	assert.False(t, newTestAgent(true).Allowed(context.Background(), u))
	assert.False(t, newTestAgent(true).Allowed(context.Background(), parse(t, "/relative")))
}

func TestAgentFailsOpen(t *testing.T) {
	agent := newTestAgent(true)
	assert.True(t, agent.Allowed(context.Background(), parse(t, "http://127.0.0.1:1/x")))
}
