package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureEnvLevelWins(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	log := Logger()
	if err := log.Configure("error", "text", "stderr", 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if got := log.GetLevel().String(); got != "debug" {
		t.Fatalf("level = %s, want debug", got)
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	path := filepath.Join(t.TempDir(), "catalog.log")

	log := Logger()
	if err := log.Configure("info", "json", path, 7); err != nil {
		t.Fatalf("configure: %v", err)
	}
	log.WithComponent("test").Info("to file")
}

func TestJSONFieldNames(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)

	log.WithComponent("engine").WithFields(Fields{"vendor": "kraken"}).Info("rule set loaded")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not json: %v (%s)", err, buf.String())
	}
	for _, key := range []string{"timestamp", "level", "message", "component", "vendor"} {
		if _, ok := line[key]; !ok {
			t.Fatalf("missing %q in %v", key, line)
		}
	}
	if line["message"] != "rule set loaded" {
		t.Fatalf("message = %v", line["message"])
	}
}

func TestReportCounters(t *testing.T) {
	log := Logger()
	log.SetOutput(&bytes.Buffer{})

	log.WithComponent("report-test").Warn("careful")
	log.WithComponent("report-test").Error("broken")
	RecordFlow("report-test.flow", 3)
	RecordFlow("report-test.flow", 2)

	r := Snapshot(context.Background())
	if r.Warnings["report-test"] < 1 || r.Errors["report-test"] < 1 {
		t.Fatalf("warn/error counters not recorded: %v %v", r.Warnings, r.Errors)
	}
	fc := r.Flows["report-test.flow"]
	if fc.Events != 2 || fc.Records != 5 {
		t.Fatalf("flow = %+v", fc)
	}
	if r.Goroutines <= 0 {
		t.Fatalf("goroutines not sampled")
	}
}

func TestStartReportCallsSinks(t *testing.T) {
	log := Logger()
	log.SetOutput(&bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Report, 1)
	StartReport(ctx, log, 10*time.Millisecond, func(_ context.Context, r Report) {
		select {
		case got <- r:
		default:
		}
	})

	select {
	case r := <-got:
		if r.Timestamp.IsZero() {
			t.Fatalf("report without timestamp")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("sink never called")
	}
}
