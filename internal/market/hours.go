package market

import "time"

// forex 周末停盘窗口：周五 22:00 UTC 收盘，周日 22:00 UTC 开盘。
const weekendCutoverHourUTC = 22

// IsOpen 判断非 OTC 品种在给定时间是否处于交易时段。
// OTC 品种全天候开放，由调用方先行判断。
func IsOpen(now time.Time) bool {
	utc := now.UTC()
	switch utc.Weekday() {
	case time.Saturday:
		return false
	case time.Sunday:
		return utc.Hour() >= weekendCutoverHourUTC
	case time.Friday:
		return utc.Hour() < weekendCutoverHourUTC
	default:
		return true
	}
}
