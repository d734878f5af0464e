package logger

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

type flowStat struct {
	events  int64
	records int64
}

var (
	warnCounts  sync.Map // component -> *int64
	errorCounts sync.Map // component -> *int64
	flows       sync.Map // name -> *flowStat
)

func bump(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordWarn(component string)  { bump(&warnCounts, component) }
func recordError(component string) { bump(&errorCounts, component) }

// RecordFlow counts one event of n records on the named flow, e.g.
// "processor.normalized" or "writer.s3".
func RecordFlow(name string, n int) {
	v, _ := flows.LoadOrStore(name, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.events, 1)
	atomic.AddInt64(&fs.records, int64(n))
}

// FlowCount is the running total for one flow.
type FlowCount struct {
	Events  int64 `json:"events"`
	Records int64 `json:"records"`
}

// Report is one sample of process health and pipeline counters.
type Report struct {
	Timestamp    time.Time            `json:"timestamp"`
	Goroutines   int                  `json:"goroutines"`
	CPUPercent   float64              `json:"cpu_percent"`
	MemoryMB     float64              `json:"memory_mb"`
	DiskMB       float64              `json:"disk_mb"`
	NetBytesSent uint64               `json:"net_bytes_sent"`
	NetBytesRecv uint64               `json:"net_bytes_recv"`
	Warnings     map[string]int64     `json:"warnings"`
	Errors       map[string]int64     `json:"errors"`
	Flows        map[string]FlowCount `json:"flows"`
}

// Fields flattens the report for a log line.
func (r Report) Fields() Fields {
	return Fields{
		"goroutines":     r.Goroutines,
		"cpu_percent":    r.CPUPercent,
		"memory_mb":      r.MemoryMB,
		"disk_mb":        r.DiskMB,
		"net_bytes_sent": r.NetBytesSent,
		"net_bytes_recv": r.NetBytesRecv,
		"warnings":       r.Warnings,
		"errors":         r.Errors,
		"flows":          r.Flows,
	}
}

// FlowNames returns the flow names in the report, sorted.
func (r Report) FlowNames() []string {
	names := make([]string, 0, len(r.Flows))
	for n := range r.Flows {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func loadCounts(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// Snapshot samples host statistics and the counters collected so far.
// Host lookups that fail leave their fields zero.
func Snapshot(ctx context.Context) Report {
	r := Report{
		Timestamp:  time.Now().UTC(),
		Goroutines: runtime.NumGoroutine(),
		Warnings:   loadCounts(&warnCounts),
		Errors:     loadCounts(&errorCounts),
		Flows:      map[string]FlowCount{},
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		r.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		r.MemoryMB = float64(vm.Used) / 1024 / 1024
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		r.DiskMB = float64(du.Used) / 1024 / 1024
	}
	if io, err := gnet.IOCountersWithContext(ctx, false); err == nil && len(io) > 0 {
		r.NetBytesSent = io[0].BytesSent
		r.NetBytesRecv = io[0].BytesRecv
	}
	flows.Range(func(k, v any) bool {
		fs := v.(*flowStat)
		r.Flows[k.(string)] = FlowCount{
			Events:  atomic.LoadInt64(&fs.events),
			Records: atomic.LoadInt64(&fs.records),
		}
		return true
	})
	return r
}

// ReportSink receives every periodic report, e.g. a CloudWatch publisher.
type ReportSink func(context.Context, Report)

// StartReport logs a runtime report every interval until ctx is cancelled
// and hands each report to sinks.
func StartReport(ctx context.Context, log *Log, interval time.Duration, sinks ...ReportSink) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r := Snapshot(ctx)
				log.WithComponent("report").WithFields(r.Fields()).Info("runtime report")
				for _, sink := range sinks {
					sink(ctx, r)
				}
			}
		}
	}()
}
