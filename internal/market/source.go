package market

import (
	"context"
	"fmt"
)

// DataSource 是行情源的最小能力面。实现必须并发安全。
type DataSource interface {
	// Connect 建立连接。REST 类源可以立即返回 nil。
	Connect(ctx context.Context) error
	// GetCandles 返回按时间升序的最近 count 根 K 线。
	GetCandles(ctx context.Context, asset string, timeframeSec, count int) ([]Candle, error)
	IsConnected() bool
	Name() string
	Close() error
}

// IntervalString 将秒级周期转为交易所通用的周期代码。
func IntervalString(timeframeSec int) (string, error) {
	switch timeframeSec {
	case 60:
		return "1m", nil
	case 180:
		return "3m", nil
	case 300:
		return "5m", nil
	case 900:
		return "15m", nil
	case 1800:
		return "30m", nil
	case 3600:
		return "1h", nil
	case 14400:
		return "4h", nil
	case 86400:
		return "1d", nil
	default:
		return "", fmt.Errorf("unsupported timeframe: %ds", timeframeSec)
	}
}
