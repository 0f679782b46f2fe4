package strategy

import (
	"crypto/md5"
	"fmt"
	"math"

	"quantx/internal/market"

	talib "github.com/markcheno/go-talib"
)

const (
	rsiPeriod = 14
	atrPeriod = 14
	smaFast   = 5
	smaMid    = 13
	smaSlow   = 21

	rsiOversold   = 30
	rsiOverbought = 70
)

// InstitutionalEngine 是指标合成引擎：RSI 超买超卖、均线排列趋势分、
// ATR 波动率修正，多空分数持平时用确定性哈希破局，保证同一分钟桶
// 的所有实例给出同一答案。
type InstitutionalEngine struct{}

func NewInstitutionalEngine() *InstitutionalEngine { return &InstitutionalEngine{} }

func (e *InstitutionalEngine) Analyze(marketSym string, timeframeSec int, candles []market.Candle, entryTime string) (Direction, int, string) {
	if len(candles) < smaSlow+1 {
		return DirectionNeutral, 0, "institutional"
	}
	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	rsi := lastValid(talib.Rsi(closes, rsiPeriod))
	fast := lastValid(talib.Sma(closes, smaFast))
	mid := lastValid(talib.Sma(closes, smaMid))
	slow := lastValid(talib.Sma(closes, smaSlow))
	atr := lastValid(talib.Atr(highs, lows, closes, atrPeriod))
	price := closes[len(closes)-1]

	bull, bear := 0, 0
	if rsi > 0 {
		if rsi < rsiOversold {
			bull += 2
		} else if rsi > rsiOverbought {
			bear += 2
		} else if rsi >= 50 {
			bull++
		} else {
			bear++
		}
	}
	trend := trendScore(price, fast, mid, slow)
	if trend > 0 {
		bull += trend
	} else {
		bear += -trend
	}

	dir := DirectionCall
	switch {
	case bull > bear:
		dir = DirectionCall
	case bear > bull:
		dir = DirectionPut
	default:
		dir = hashTieBreak(marketSym, entryTime)
	}

	edge := bull - bear
	if edge < 0 {
		edge = -edge
	}
	confidence := MinConfidence + edge*5 + volatilityScore(atr, price)
	return dir, ClampConfidence(confidence), "institutional"
}

// trendScore 给均线排列打 [-3,3] 分。
func trendScore(price, fast, mid, slow float64) int {
	score := 0
	if fast > 0 && price > fast {
		score++
	} else if fast > 0 {
		score--
	}
	if fast > 0 && mid > 0 {
		if fast > mid {
			score++
		} else {
			score--
		}
	}
	if mid > 0 && slow > 0 {
		if mid > slow {
			score++
		} else {
			score--
		}
	}
	return score
}

// volatilityScore 将 ATR 占价比折算为 [0,4] 的加分，波动越低越可信。
func volatilityScore(atr, price float64) int {
	if atr <= 0 || price <= 0 {
		return 0
	}
	ratio := atr / price
	switch {
	case ratio < 0.0005:
		return 4
	case ratio < 0.001:
		return 3
	case ratio < 0.002:
		return 2
	case ratio < 0.005:
		return 1
	default:
		return 0
	}
}

// hashTieBreak 用 market+entry 的摘要奇偶决定方向，确定且无偏。
func hashTieBreak(marketSym, entryTime string) Direction {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%s", marketSym, entryTime)))
	if sum[0]%2 == 0 {
		return DirectionCall
	}
	return DirectionPut
}

// lastValid 返回序列末端最后一个有效值，指标暖机区间为 0/NaN。
func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		v := series[i]
		if !math.IsNaN(v) && !math.IsInf(v, 0) && v != 0 {
			return v
		}
	}
	return 0
}
