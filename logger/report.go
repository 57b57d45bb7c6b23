package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

type laneStat struct {
	runs    int64
	commits int64
}

var (
	warnCount     int64
	errorCount    int64
	tokenIssues   int64
	quoteFetches  int64
	quoteFailures int64
	storeWrites   int64
	lanes         sync.Map // map[string]*laneStat
)

func recordWarn(component string) {
	_ = component
	atomic.AddInt64(&warnCount, 1)
}

func recordError(component string) {
	_ = component
	atomic.AddInt64(&errorCount, 1)
}

// IncrementTokenIssue counts a successful upstream token issuance.
func IncrementTokenIssue() {
	atomic.AddInt64(&tokenIssues, 1)
}

// IncrementQuoteFetch counts one upstream quote call; failed marks the
// call as swallowed (the per-code nil result).
func IncrementQuoteFetch(failed bool) {
	atomic.AddInt64(&quoteFetches, 1)
	if failed {
		atomic.AddInt64(&quoteFailures, 1)
	}
}

// IncrementStoreWrite counts a snapshot write through the store adapter.
func IncrementStoreWrite() {
	atomic.AddInt64(&storeWrites, 1)
}

// RecordLaneRun counts one refresh lane invocation; committed marks runs
// that ended with a snapshot write.
func RecordLaneRun(lane string, committed bool) {
	v, _ := lanes.LoadOrStore(strings.ToLower(lane), &laneStat{})
	ls := v.(*laneStat)
	atomic.AddInt64(&ls.runs, 1)
	if committed {
		atomic.AddInt64(&ls.commits, 1)
	}
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

// StartReport begins periodic logging of runtime and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")

	laneData := map[string]map[string]int64{}
	lanes.Range(func(k, v any) bool {
		name := k.(string)
		ls := v.(*laneStat)
		laneData[name] = map[string]int64{
			"runs":    atomic.LoadInt64(&ls.runs),
			"commits": atomic.LoadInt64(&ls.commits),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	memMB := int64(0)
	if memStats != nil {
		memMB = int64(memStats.Used) / 1024 / 1024
	}
	diskMB := int64(0)
	if diskStats != nil {
		diskMB = int64(diskStats.Used) / 1024 / 1024
	}

	fields := Fields{
		"warns":          atomic.LoadInt64(&warnCount),
		"errors":         atomic.LoadInt64(&errorCount),
		"token_issues":   atomic.LoadInt64(&tokenIssues),
		"quote_fetches":  atomic.LoadInt64(&quoteFetches),
		"quote_failures": atomic.LoadInt64(&quoteFailures),
		"store_writes":   atomic.LoadInt64(&storeWrites),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      memMB,
		"disk_mb":        diskMB,
		"lanes":          laneData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")
}
