package heartbeat

import (
	"context"
	"fmt"
	"time"

	"quantx/internal/logger"
	"quantx/internal/scheduler"
	storemodel "quantx/internal/store/model"
	"quantx/internal/telemetry"
)

const (
	ServiceBackend      = "BACKEND_HEARTBEAT"
	ServiceForexWS      = "FOREX_WS"
	ServiceAlphaVantage = "ALPHA_VANTAGE"
)

// SourceProbe 汇报当前已连接的行情源。
type SourceProbe interface {
	ConnectedSources() []string
}

// Task 周期性上报 system_connectivity 心跳，退出时标记 OFFLINE。
type Task struct {
	sink        *telemetry.Sink
	probe       SourceProbe
	hasAlphaKey bool
	interval    time.Duration
}

func NewTask(sink *telemetry.Sink, probe SourceProbe, hasAlphaKey bool, interval time.Duration) *Task {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Task{sink: sink, probe: probe, hasAlphaKey: hasAlphaKey, interval: interval}
}

// Run 阻塞执行心跳循环，ctx 取消后写 OFFLINE 再返回。
func (t *Task) Run(ctx context.Context) error {
	sched := scheduler.NewAlignedScheduler(ctx, t.interval, 0)
	sched.RunImmediately = true
	sched.Start(t.beat)

	t.sink.Submit(telemetry.ConnectivityJob{Record: storemodel.Connectivity{
		Service:       ServiceBackend,
		Status:        "OFFLINE",
		Details:       "shutdown",
		LastHeartbeat: time.Now(),
	}})
	logger.Infof("heartbeat task stopped")
	return ctx.Err()
}

func (t *Task) beat() {
	now := time.Now()
	t.sink.Submit(telemetry.ConnectivityJob{Record: storemodel.Connectivity{
		Service:       ServiceBackend,
		Status:        "ONLINE",
		Details:       fmt.Sprintf("ts=%d", now.Unix()),
		LastHeartbeat: now,
	}})

	wsStatus := "DISCONNECTED"
	if t.probe != nil {
		for _, name := range t.probe.ConnectedSources() {
			if name == "forexws" {
				wsStatus = "CONNECTED"
				break
			}
		}
	}
	t.sink.Submit(telemetry.ConnectivityJob{Record: storemodel.Connectivity{
		Service:       ServiceForexWS,
		Status:        wsStatus,
		LastHeartbeat: now,
	}})

	avStatus := "MISSING_KEY"
	if t.hasAlphaKey {
		avStatus = "CONFIGURED"
	}
	t.sink.Submit(telemetry.ConnectivityJob{Record: storemodel.Connectivity{
		Service:       ServiceAlphaVantage,
		Status:        avStatus,
		LastHeartbeat: now,
	}})
}
