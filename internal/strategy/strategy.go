package strategy

import "quantx/internal/market"

// Direction 是二元期权信号方向。
type Direction string

const (
	DirectionCall    Direction = "CALL"
	DirectionPut     Direction = "PUT"
	DirectionNeutral Direction = "NEUTRAL"
)

// 对外信号的置信度区间。
const (
	MinConfidence = 70
	MaxConfidence = 98
)

// Scorer 在一段 K 线上产出方向判断。
// 返回 NEUTRAL 表示本引擎放弃表态，confidence 仅在非 NEUTRAL 时有意义。
type Scorer interface {
	Analyze(marketSym string, timeframeSec int, candles []market.Candle, entryTime string) (Direction, int, string)
}

// ClampConfidence 将置信度压进对外区间。
func ClampConfidence(v int) int {
	if v < MinConfidence {
		return MinConfidence
	}
	if v > MaxConfidence {
		return MaxConfidence
	}
	return v
}
