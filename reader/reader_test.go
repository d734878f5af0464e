package reader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "exchangecatalog/config"
	"exchangecatalog/models"
)

func minimalConfig() appconfig.ReaderConfig {
	return appconfig.ReaderConfig{
		Timeout:     2 * time.Second,
		UserAgent:   "exchangecatalog-test",
		MaxMessages: 2,
		RateLimit:   appconfig.RateLimitConfig{RequestsPerSecond: 100, BurstSize: 10},
	}
}

func TestFetchREST(t *testing.T) {
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price":"1.5"}`))
	}))
	defer srv.Close()

	c := NewClient(minimalConfig())
	body, err := c.FetchREST(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"price":"1.5"}`, string(body))
	assert.Equal(t, "exchangecatalog-test", agent)
}

func TestFetchRESTStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(minimalConfig()).FetchREST(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStatus))
	assert.Contains(t, err.Error(), "429")
}

func wsServer(t *testing.T, frames ...string) (*httptest.Server, chan string) {
	t.Helper()
	subscribed := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, sub, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(sub)
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the connection until the client closes it.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return srv, subscribed
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCaptureWebSocketBounded(t *testing.T) {
	srv, subscribed := wsServer(t, `{"type":"subscriptions"}`, `{"type":"ticker","price":"1"}`, `{"type":"ticker","price":"2"}`)
	defer srv.Close()

	c := NewClient(minimalConfig())
	frames, err := c.CaptureWebSocket(context.Background(), wsURL(srv), `{"type":"subscribe"}`, 2)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, `{"type":"ticker","price":"1"}`, string(frames[1]))
	assert.Equal(t, `{"type":"subscribe"}`, <-subscribed)
}

func TestCaptureWebSocketDeadline(t *testing.T) {
	srv, _ := wsServer(t, `{"type":"ticker"}`)
	defer srv.Close()

	cfg := minimalConfig()
	cfg.Timeout = 300 * time.Millisecond
	frames, err := NewClient(cfg).CaptureWebSocket(context.Background(), wsURL(srv), "hello", 5)
	require.NoError(t, err)
	assert.Len(t, frames, 1)
}

func TestSampleTargets(t *testing.T) {
	rest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{}}`))
	}))
	defer rest.Close()
	ws, _ := wsServer(t, `{"a":1}`, `{"a":2}`)
	defer ws.Close()

	targets := []appconfig.Target{
		{Vendor: "kraken", DataType: "ticker", Source: "rest", URL: rest.URL, Vars: map[string]string{"pair": "XXBTZUSD"}},
		{Vendor: "coinbase", DataType: "ticker", Source: "websocket", URL: wsURL(ws), Subscribe: "{}"},
		{Vendor: "broken", DataType: "ticker", Source: "rest", URL: "http://127.0.0.1:1/"},
	}
	msgs, err := NewClient(minimalConfig()).SampleAll(context.Background(), targets)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "kraken", msgs[0].Vendor)
	assert.Equal(t, models.SourceREST, msgs[0].Source)
	assert.Equal(t, "XXBTZUSD", msgs[0].Vars["pair"])
	assert.Equal(t, models.SourceWebSocket, msgs[1].Source)
	assert.NotEqual(t, msgs[1].ID, msgs[2].ID)
}

func TestSampleRejectsBadTarget(t *testing.T) {
	c := NewClient(minimalConfig())
	_, err := c.Sample(context.Background(), appconfig.Target{Vendor: "x", DataType: "quotes", Source: "rest", URL: "http://example.invalid"})
	assert.ErrorIs(t, err, models.ErrUnknownDataType)

	_, err = c.Sample(context.Background(), appconfig.Target{Vendor: "x", DataType: "ticker", Source: "both", URL: "http://example.invalid"})
	assert.ErrorIs(t, err, models.ErrInvalidSourceType)
}
