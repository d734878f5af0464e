package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"

	"exchangecatalog/internal/engine"
	"exchangecatalog/logger"
	"exchangecatalog/models"
	"exchangecatalog/processor"
	"exchangecatalog/writer"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	var terr *engine.TransformationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &terr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrUnknownVendor), errors.Is(err, engine.ErrUnknownDataType):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrBadInput), errors.Is(err, engine.ErrBatchInput), errors.Is(err, models.ErrInvalidSourceType):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	body := gin.H{"error": err.Error(), "request_id": c.GetString("request_id")}
	var terr *engine.TransformationError
	if errors.As(err, &terr) {
		body["field"] = terr.Field
		body["path"] = terr.Path
		if terr.Index >= 0 {
			body["index"] = terr.Index
		}
	}
	c.AbortWithStatusJSON(statusFor(err), body)
}

func (s *Server) readBody(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)
	return io.ReadAll(c.Request.Body)
}

// vars turns query parameters into path placeholders, e.g. ?pair=XXBTZUSD.
func vars(c *gin.Context) map[string]string {
	q := c.Request.URL.Query()
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func records(recs []*models.NormalizedRecord) []map[string]any {
	out := make([]map[string]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Map())
	}
	return out
}

func (s *Server) normalize(c *gin.Context) {
	vendor := c.Param("vendor")
	dt, err := models.ParseDataType(c.Param("data_type"))
	if err != nil {
		s.fail(c, err)
		return
	}
	src, err := models.ParseRequestSource(c.Param("source_type"))
	if err != nil {
		s.fail(c, err)
		return
	}
	body, err := s.readBody(c)
	if err != nil {
		s.fail(c, err)
		return
	}

	var opts []engine.CallOption
	if v := vars(c); v != nil {
		opts = append(opts, engine.WithVars(v))
	}
	recs, err := s.engine.NormalizeJSON(c.Request.Context(), body, vendor, dt, src, opts...)
	if err != nil {
		s.fail(c, err)
		return
	}
	logger.LogDataFlowEntry(s.log.WithComponent("api"), "api", "engine", len(recs), "normalized_records")
	c.JSON(http.StatusOK, gin.H{"count": len(recs), "records": records(recs)})
}

type hybridRequest struct {
	WebSocket jsonRaw           `json:"websocket"`
	REST      jsonRaw           `json:"rest"`
	Vars      map[string]string `json:"vars"`
}

// jsonRaw keeps a nested payload verbatim. A missing or null payload stays nil.
type jsonRaw []byte

func (r *jsonRaw) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = nil
		return nil
	}
	*r = append((*r)[:0], b...)
	return nil
}

func (s *Server) hybrid(c *gin.Context) {
	vendor := c.Param("vendor")
	dt, err := models.ParseDataType(c.Param("data_type"))
	if err != nil {
		s.fail(c, err)
		return
	}
	body, err := s.readBody(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	var req hybridRequest
	if err := jsonAPI.Unmarshal(body, &req); err != nil {
		s.fail(c, errors.Join(engine.ErrBadInput, err))
		return
	}

	recs, err := processor.NewHybrid(s.engine).Normalize(c.Request.Context(), vendor, dt, req.WebSocket, req.REST, req.Vars)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(recs), "records": records(recs)})
}

func (s *Server) vendors(c *gin.Context) {
	vendors, err := s.engine.Vendors(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vendors": vendors})
}

func (s *Server) coverage(c *gin.Context) {
	vendor := c.Param("vendor")
	stats, err := s.engine.CoverageStats(c.Request.Context(), vendor)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vendor": vendor, "coverage": stats})
}

func (s *Server) report(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "5"))
	if err != nil || limit < 1 {
		s.fail(c, fmt.Errorf("%w: limit must be a positive integer, got %q", engine.ErrBadInput, c.Query("limit")))
		return
	}
	r, err := writer.BuildCoverageReport(c.Request.Context(), s.engine, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Stats())
}

func (s *Server) invalidate(c *gin.Context) {
	var dropped int
	if vendor := c.Query("vendor"); vendor != "" {
		dropped = s.engine.Invalidate(vendor)
	} else {
		dropped = s.engine.InvalidateAll()
	}
	c.JSON(http.StatusOK, gin.H{"dropped": dropped})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}

func (s *Server) logs(c *gin.Context) {
	snapshot := s.logStore.snapshot()
	payload := make([]gin.H, 0, len(snapshot))
	for _, l := range snapshot {
		payload = append(payload, gin.H{
			"timestamp": l.Timestamp.Format(time.RFC3339Nano),
			"level":     l.Level,
			"component": l.Component,
			"message":   l.Message,
			"fields":    l.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": payload})
}

func (s *Server) recentMetrics(c *gin.Context) {
	snapshot := s.metricStore.snapshot()
	payload := make([]gin.H, 0, len(snapshot))
	for _, m := range snapshot {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": payload})
}

func (s *Server) runtime(c *gin.Context) {
	c.JSON(http.StatusOK, logger.Snapshot(c.Request.Context()))
}
