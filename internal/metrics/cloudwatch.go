package metrics

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"exchangecatalog/logger"
)

//go:embed CWdash.json
var dashboardTemplate string

const defaultNamespace = "ExchangeCatalog"

type cloudWatchState struct {
	client        *cloudwatch.Client
	namespace     string
	dashboardName string
	region        string
}

var cwState atomic.Pointer[cloudWatchState]

var (
	// cloudWatchPublishInterval bounds how often one metric series is sent.
	cloudWatchPublishInterval = 60 * time.Second
	timeNow                   = time.Now
	publishMetricsFunc        = publishMetrics

	lastPublishMu sync.Mutex
	lastPublish   = map[string]time.Time{}
)

func init() {
	cwState.Store(&cloudWatchState{namespace: defaultNamespace, dashboardName: defaultNamespace})
}

// InitCloudWatch creates the CloudWatch client. When the AWS configuration
// cannot be loaded it logs a warning and publishing stays disabled.
func InitCloudWatch(ctx context.Context, region, namespace, dashboard string) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	state := *cwState.Load()
	state.client = cloudwatch.NewFromConfig(cfg)
	if namespace != "" {
		state.namespace = namespace
	}
	if dashboard != "" {
		state.dashboardName = dashboard
	}
	state.region = region
	if cfg.Region != "" {
		state.region = cfg.Region
	}
	cwState.Store(&state)

	log.WithFields(logger.Fields{"region": state.region, "namespace": state.namespace}).Info("initialized CloudWatch client")

	if err := CreateDashboardFromTemplate(ctx); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}

// EmitMetric logs the metric, hands it to registered handlers and publishes
// numeric values to CloudWatch when configured.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	m, ok := recordMetric(log, component, metric, value, metricType, fields)
	if !ok {
		return
	}
	v, ok := toFloat64(m.Value)
	if !ok {
		return
	}
	publishMetricDatum(m, v)
}

// CreateDashboardFromTemplate writes the embedded dashboard, with namespace
// and region substituted, to the configured dashboard name.
func CreateDashboardFromTemplate(ctx context.Context) error {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return nil
	}
	body := renderDashboard(state.namespace, state.region)
	if !json.Valid([]byte(body)) {
		return fmt.Errorf("dashboard template is not valid JSON after substitution")
	}
	_, err := state.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(state.dashboardName),
		DashboardBody: aws.String(body),
	})
	return err
}

func renderDashboard(namespace, region string) string {
	body := dashboardTemplate
	if namespace != "" {
		body = strings.ReplaceAll(body, `"ExchangeCatalog"`, fmt.Sprintf("%q", namespace))
	}
	if region != "" {
		body = strings.ReplaceAll(body, `"ap-south-1"`, fmt.Sprintf("%q", region))
	}
	return body
}

func seriesKey(m Metric) string {
	var b strings.Builder
	b.WriteString(m.Component)
	b.WriteByte('/')
	b.WriteString(m.Name)
	for _, k := range sortedKeys(m.Fields) {
		if s, ok := m.Fields[k].(string); ok {
			b.WriteByte('/')
			b.WriteString(k + "=" + s)
		}
	}
	return b.String()
}

// publishMetricDatum sends one datum, at most once per series per
// cloudWatchPublishInterval.
func publishMetricDatum(m Metric, value float64) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	key := seriesKey(m)
	now := timeNow()
	lastPublishMu.Lock()
	if last, ok := lastPublish[key]; ok && now.Sub(last) < cloudWatchPublishInterval {
		lastPublishMu.Unlock()
		return
	}
	lastPublish[key] = now
	lastPublishMu.Unlock()

	unit := cwtypes.StandardUnitCount
	if raw, ok := m.Fields["unit"].(string); ok {
		if parsed, found := metricUnitFromString(raw); found {
			unit = parsed
		}
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	for _, k := range sortedKeys(m.Fields) {
		if k == "unit" {
			continue
		}
		if s, ok := m.Fields[k].(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	publishMetricsFunc(context.Background(), state, []cwtypes.MetricDatum{{
		MetricName: aws.String(m.Name),
		Dimensions: dims,
		Unit:       unit,
		Value:      aws.Float64(value),
		Timestamp:  aws.Time(m.Timestamp),
	}})
}

// PublishReport is a logger.ReportSink sending the runtime report to CloudWatch.
func PublishReport(ctx context.Context, r logger.Report) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}
	datum := func(name string, unit cwtypes.StandardUnit, v float64, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{MetricName: aws.String(name), Unit: unit, Value: aws.Float64(v), Dimensions: dims, Timestamp: aws.Time(r.Timestamp)}
	}
	data := []cwtypes.MetricDatum{
		datum("CPUPercent", cwtypes.StandardUnitPercent, r.CPUPercent),
		datum("MemoryMB", cwtypes.StandardUnitMegabytes, r.MemoryMB),
		datum("DiskMB", cwtypes.StandardUnitMegabytes, r.DiskMB),
		datum("Goroutines", cwtypes.StandardUnitCount, float64(r.Goroutines)),
		datum("NetBytesSent", cwtypes.StandardUnitBytes, float64(r.NetBytesSent)),
		datum("NetBytesRecv", cwtypes.StandardUnitBytes, float64(r.NetBytesRecv)),
	}
	for _, name := range r.FlowNames() {
		dim := cwtypes.Dimension{Name: aws.String("Flow"), Value: aws.String(name)}
		data = append(data, datum("FlowRecords", cwtypes.StandardUnitCount, float64(r.Flows[name].Records), dim))
	}
	for component, n := range r.Errors {
		dim := cwtypes.Dimension{Name: aws.String("component"), Value: aws.String(component)}
		data = append(data, datum("Errors", cwtypes.StandardUnitCount, float64(n), dim))
	}
	// PutMetricData accepts at most 1000 data per call.
	for len(data) > 0 {
		n := min(len(data), 1000)
		publishMetricsFunc(ctx, state, data[:n])
		data = data[n:]
	}
}

func publishMetrics(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
	if state == nil || state.client == nil || len(data) == 0 {
		return
	}
	log := logger.GetLogger().WithComponent("cloudwatch")
	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		log.WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}
	log.WithFields(logger.Fields{"count": len(data)}).Debug("published metrics to CloudWatch")
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func metricUnitFromString(unit string) (cwtypes.StandardUnit, bool) {
	switch strings.ToLower(unit) {
	case "count":
		return cwtypes.StandardUnitCount, true
	case "percent":
		return cwtypes.StandardUnitPercent, true
	case "seconds":
		return cwtypes.StandardUnitSeconds, true
	case "milliseconds":
		return cwtypes.StandardUnitMilliseconds, true
	case "bytes":
		return cwtypes.StandardUnitBytes, true
	}
	return cwtypes.StandardUnitCount, false
}
