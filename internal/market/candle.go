package market

import "time"

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Trades    int64   `json:"trades"`
}

// Bullish 收阳。
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Body 实体绝对值。
func (c Candle) Body() float64 {
	body := c.Close - c.Open
	if body < 0 {
		return -body
	}
	return body
}

// Range 最高最低价差。
func (c Candle) Range() float64 { return c.High - c.Low }

// BucketStart 将时间对齐到 bucketSeconds 起点（Unix 秒）。
func BucketStart(now time.Time, bucketSeconds int) int64 {
	if bucketSeconds <= 0 {
		bucketSeconds = 60
	}
	sec := now.Unix()
	return sec - sec%int64(bucketSeconds)
}

// NextMinute 返回下一分钟整点。
func NextMinute(now time.Time) time.Time {
	return now.Truncate(time.Minute).Add(time.Minute)
}
