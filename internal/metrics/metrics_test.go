package metrics

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchangecatalog/internal/engine"
	"exchangecatalog/internal/transform"
	"exchangecatalog/models"
)

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder(nil)

	r.RuleLookup("coinbase", models.DataTypeTicker, models.SourceWebSocket, false)
	r.RuleLookup("coinbase", models.DataTypeTicker, models.SourceWebSocket, true)
	r.RuleLookup("coinbase", models.DataTypeTicker, models.SourceWebSocket, true)

	rec := models.NewRecord("coinbase", models.DataTypeTicker, models.SourceWebSocket, nil)
	rec.Meta.CoverageRequired = 0.8
	r.Normalized(rec, 120*time.Microsecond)
	r.Normalized(rec, 80*time.Microsecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.lookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.lookups.WithLabelValues("miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.normalized.WithLabelValues("coinbase", "ticker", "websocket")))
	assert.Equal(t, 0.8, testutil.ToFloat64(r.coverage.WithLabelValues("coinbase", "ticker", "websocket")))
}

func TestRecorderFailed(t *testing.T) {
	r := NewRecorder(nil)

	r.Failed("bogus", models.DataTypeTicker, models.SourceREST, fmt.Errorf("lookup: %w", engine.ErrUnknownVendor))
	r.Failed("bogus", models.DataTypeTicker, models.SourceREST, engine.ErrUnknownVendor)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.failures.WithLabelValues("bogus", "ticker", "rest", "unknown_vendor")))
}

func TestRecorderHandler(t *testing.T) {
	r := NewRecorder(nil)
	r.RuleLookup("kraken", models.DataTypeTicker, models.SourceREST, true)

	rw := httptest.NewRecorder()
	r.Handler().ServeHTTP(rw, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rw.Code)
	body := rw.Body.String()
	assert.True(t, strings.Contains(body, `exchangecatalog_rule_cache_lookups_total{result="hit"} 1`), body)
	assert.True(t, strings.Contains(body, "go_goroutines"))
}

func TestReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{&engine.TransformationError{Vendor: "x", Err: transform.ErrNotNumeric}, "transformation"},
		{engine.ErrUnknownVendor, "unknown_vendor"},
		{fmt.Errorf("x: %w", engine.ErrUnknownDataType), "unknown_data_type"},
		{engine.ErrDuplicateMapping, "configuration"},
		{engine.ErrBatchInput, "bad_input"},
		{models.ErrInvalidSourceType, "bad_input"},
		{errors.New("boom"), "other"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Reason(c.err), "%v", c.err)
	}
}
