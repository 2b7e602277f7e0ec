package logger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	appconfig "marketpipe/config"
)

type cloudWatchState struct {
	client    *cloudwatch.Client
	namespace string
	dashboard string
}

var cwState atomic.Pointer[cloudWatchState]

// InitCloudWatch enables metric publishing for LogMetric. An empty region
// falls back to AWS_REGION. When the client cannot be created publishing
// stays disabled and a warning is logged.
func InitCloudWatch(ctx context.Context, cw appconfig.CloudWatchConfig) {
	log := GetLogger().WithComponent("cloudwatch")

	region := cw.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	opts := []func(*config.LoadOptions) error{}
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	state := &cloudWatchState{
		client:    cloudwatch.NewFromConfig(cfg),
		namespace: "MarketPipe",
		dashboard: "MarketPipe",
	}
	if cw.Namespace != "" {
		state.namespace = cw.Namespace
	}
	if cw.Dashboard != "" {
		state.dashboard = cw.Dashboard
	}
	cwState.Store(state)

	log.WithFields(Fields{"region": region, "namespace": state.namespace}).Info("initialized CloudWatch client")

	createDefaultDashboard(ctx, state)
}

// publishMetrics sends metric data to CloudWatch when the client has been
// initialised.
func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	state := cwState.Load()
	if state == nil || state.client == nil || len(data) == 0 {
		return
	}

	log := GetLogger().WithComponent("cloudwatch")
	if _, err := state.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(state.namespace),
		MetricData: data,
	}); err != nil {
		log.WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, datum := range data {
		if datum.MetricName != nil {
			names = append(names, *datum.MetricName)
		}
	}
	log.WithField("metrics", strings.Join(names, ",")).Debug("published metrics to CloudWatch")
}

func createDefaultDashboard(ctx context.Context, state *cloudWatchState) {
	body := fmt.Sprintf(`{
"widgets": [{
"type": "metric",
"width": 12,
"height": 6,
"properties": {
"metrics": [
    ["%[1]s","throughput_per_sec",{"stat":"Average"}],
    ["%[1]s","avg_latency_ms",{"stat":"Average"}],
    ["%[1]s","queue_size",{"stat":"Maximum"}]
],
"period": 60,
"title": "Ingestion"
}
},{
"type": "metric",
"width": 12,
"height": 6,
"properties": {
"metrics": [
    ["%[1]s","valid_points"],
    ["%[1]s","rejected_points"],
    ["%[1]s","batches_failed"]
],
"period": 60,
"stat": "Maximum",
"title": "Quality"
}
},{
"type": "metric",
"width": 24,
"height": 6,
"properties": {
"metrics": [
    ["%[1]s","CPUPercent"],
    ["%[1]s","MemoryMB"],
    ["%[1]s","DiskMB"]
],
"period": 60,
"stat": "Average",
"title": "Host"
}
}]
}`, state.namespace)

	if _, err := state.client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(state.dashboard),
		DashboardBody: aws.String(body),
	}); err != nil {
		GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}
