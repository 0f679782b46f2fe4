package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBucketStart(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 30, 42, 999, time.UTC)
	assert.Equal(t, time.Date(2026, 6, 1, 12, 30, 0, 0, time.UTC).Unix(), BucketStart(now, 60))
	// 同一分钟内的任意时刻落进同一桶。
	later := now.Add(17 * time.Second)
	assert.Equal(t, BucketStart(now, 60), BucketStart(later, 60))
	assert.NotEqual(t, BucketStart(now, 60), BucketStart(now.Add(time.Minute), 60))
	// 非法桶宽回退 60 秒。
	assert.Equal(t, BucketStart(now, 60), BucketStart(now, 0))
}

func TestNextMinute(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 30, 42, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 6, 1, 12, 31, 0, 0, time.UTC), NextMinute(now))
	// 整点也推到下一分钟。
	exact := time.Date(2026, 6, 1, 12, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 6, 1, 12, 31, 0, 0, time.UTC), NextMinute(exact))
}

func TestCandle(t *testing.T) {
	bull := Candle{Open: 1.0, High: 1.3, Low: 0.9, Close: 1.2}
	bear := Candle{Open: 1.2, High: 1.3, Low: 0.9, Close: 1.0}
	assert.True(t, bull.Bullish())
	assert.False(t, bear.Bullish())
	assert.InDelta(t, 0.2, bull.Body(), 1e-9)
	assert.InDelta(t, 0.2, bear.Body(), 1e-9)
	assert.InDelta(t, 0.4, bull.Range(), 1e-9)
}

func TestIsOpen(t *testing.T) {
	// 2026-06-06 是周六，06-07 周日，06-05 周五。
	assert.False(t, IsOpen(time.Date(2026, 6, 6, 12, 0, 0, 0, time.UTC)))
	assert.False(t, IsOpen(time.Date(2026, 6, 7, 21, 59, 0, 0, time.UTC)))
	assert.True(t, IsOpen(time.Date(2026, 6, 7, 22, 0, 0, 0, time.UTC)))
	assert.True(t, IsOpen(time.Date(2026, 6, 5, 21, 59, 0, 0, time.UTC)))
	assert.False(t, IsOpen(time.Date(2026, 6, 5, 22, 0, 0, 0, time.UTC)))
	assert.True(t, IsOpen(time.Date(2026, 6, 3, 3, 0, 0, 0, time.UTC)))
	// 本地时区换算：周五 23:00 UTC+2 仍在收盘前。
	loc := time.FixedZone("CEST", 2*3600)
	assert.True(t, IsOpen(time.Date(2026, 6, 5, 23, 30, 0, 0, loc)))
}
