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

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type flowStat struct {
	events  int64
	records int64
}

var (
	warnCounts  sync.Map // component -> *int64
	errorCounts sync.Map // component -> *int64
	sourceReads sync.Map // source -> *flowStat
	sinkWrites  sync.Map // sink -> *flowStat
)

func bump(m *sync.Map, key string) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func recordWarn(component string)  { bump(&warnCounts, component) }
func recordError(component string) { bump(&errorCounts, component) }

func recordFlow(m *sync.Map, key string, records int) {
	v, _ := m.LoadOrStore(key, &flowStat{})
	fs := v.(*flowStat)
	atomic.AddInt64(&fs.events, 1)
	atomic.AddInt64(&fs.records, int64(records))
}

// IncrementSourceRead records one provider response carrying records points.
func IncrementSourceRead(source string, records int) {
	recordFlow(&sourceReads, source, records)
}

// IncrementSinkWrite records one successful batch write to sink.
func IncrementSinkWrite(sink string, records int) {
	recordFlow(&sinkWrites, sink, records)
}

func counterSnapshot(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

func flowSnapshot(m *sync.Map) map[string]map[string]int64 {
	out := map[string]map[string]int64{}
	m.Range(func(k, v any) bool {
		fs := v.(*flowStat)
		out[k.(string)] = map[string]int64{
			"events":  atomic.LoadInt64(&fs.events),
			"records": atomic.LoadInt64(&fs.records),
		}
		return true
	})
	return out
}

// StartReport begins periodic logging of host statistics and per-component
// counters until ctx is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memMB := 0.0
	if memStats != nil {
		memMB = float64(memStats.Used) / 1024 / 1024
	}
	diskMB := 0.0
	if diskStats != nil {
		diskMB = float64(diskStats.Used) / 1024 / 1024
	}
	var bytesSent, bytesRecv uint64
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	warns := counterSnapshot(&warnCounts)
	errs := counterSnapshot(&errorCounts)

	log.WithComponent("report").WithFields(Fields{
		"warns":          warns,
		"errors":         errs,
		"source_reads":   flowSnapshot(&sourceReads),
		"sink_writes":    flowSnapshot(&sinkWrites),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memMB),
		"disk_mb":        int64(diskMB),
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memMB)},
		{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(diskMB)},
		{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	}
	data = append(data, componentData("Warnings", warns)...)
	data = append(data, componentData("Errors", errs)...)

	publishMetrics(ctx, data)
}

func componentData(metric string, counts map[string]int64) []cwtypes.MetricDatum {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make([]cwtypes.MetricDatum, 0, len(names))
	for _, name := range names {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(metric),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(name)}},
			Value:      aws.Float64(float64(counts[name])),
		})
	}
	return data
}
