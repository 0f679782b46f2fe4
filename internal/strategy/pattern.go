package strategy

import (
	"strings"
	"sync"

	"quantx/internal/logger"
	"quantx/internal/market"
	storemodel "quantx/internal/store/model"

	"github.com/shopspring/decimal"
)

const (
	patternWindow = 5
	// 形态统计至少要有这么多样本才参与表态。
	patternMinSamples = 5
	// 历史胜率边界：形态后继方向一致率达到该值才出信号。
	patternVoteEdge = 0.95
	// 实体放大倍数：末根实体超过前均值的该倍数视为冲量反转。
	spikeBodyRatio = 3.0

	patternConfidence = 98
	spikeConfidence   = 96

	// 同一资产连续亏损达到该数后进入回避期。
	lossRegimeStreak = 2
	recentResultCap  = 20
)

// PatternEngine 基于 5 根 K 线的涨跌位图做形态投票，并用
// /track_outcome 回传的结果做逐资产的亏损回避。
type PatternEngine struct {
	mu      sync.Mutex
	results map[string][]string // asset -> 最近结算结果（WIN/LOSS）
}

func NewPatternEngine() *PatternEngine {
	return &PatternEngine{results: make(map[string][]string)}
}

// TrackResult 记录一次结算结果，驱动亏损回避。
func (e *PatternEngine) TrackResult(marketSym, outcome string) {
	marketSym = strings.ToUpper(strings.TrimSpace(marketSym))
	outcome = strings.ToUpper(strings.TrimSpace(outcome))
	if marketSym == "" || (outcome != storemodel.OutcomeWin && outcome != storemodel.OutcomeLoss) {
		return
	}
	e.mu.Lock()
	buf := append(e.results[marketSym], outcome)
	if len(buf) > recentResultCap {
		buf = buf[len(buf)-recentResultCap:]
	}
	e.results[marketSym] = buf
	e.mu.Unlock()
	logger.Debugf("pattern engine tracked %s for %s", outcome, marketSym)
}

// inLossRegime 判断资产是否处于连续亏损回避期。
func (e *PatternEngine) inLossRegime(marketSym string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	buf := e.results[strings.ToUpper(strings.TrimSpace(marketSym))]
	if len(buf) < lossRegimeStreak {
		return false
	}
	for _, outcome := range buf[len(buf)-lossRegimeStreak:] {
		if outcome != storemodel.OutcomeLoss {
			return false
		}
	}
	return true
}

func (e *PatternEngine) Analyze(marketSym string, timeframeSec int, candles []market.Candle, entryTime string) (Direction, int, string) {
	if len(candles) < patternWindow+1 {
		return DirectionNeutral, 0, "pattern"
	}
	if e.inLossRegime(marketSym) {
		logger.Debugf("pattern engine sidelined %s: loss regime", marketSym)
		return DirectionNeutral, 0, "pattern_loss_regime"
	}

	if dir := spikeReversal(candles); dir != DirectionNeutral {
		return dir, spikeConfidence, "pattern_spike_reversal"
	}

	current := bitmask(candles[len(candles)-patternWindow:])
	up, down := voteHistory(candles, current)
	total := up + down
	if total < patternMinSamples {
		return DirectionNeutral, 0, "pattern"
	}
	momentumUp := candles[len(candles)-1].Close > candles[len(candles)-patternWindow].Close
	if float64(up)/float64(total) >= patternVoteEdge && momentumUp {
		return DirectionCall, patternConfidence, "pattern_vote"
	}
	if float64(down)/float64(total) >= patternVoteEdge && !momentumUp {
		return DirectionPut, patternConfidence, "pattern_vote"
	}
	return DirectionNeutral, 0, "pattern"
}

// bitmask 把窗口内每根 K 线的涨跌折叠成位图。
func bitmask(window []market.Candle) uint8 {
	var mask uint8
	for i, c := range window {
		if c.Bullish() {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// voteHistory 回放整段历史：每次出现同一位图后，统计下一根的方向。
func voteHistory(candles []market.Candle, target uint8) (up, down int) {
	// 末窗口是当前形态本身，没有后继可统计。
	for i := 0; i+patternWindow < len(candles)-1; i++ {
		if bitmask(candles[i:i+patternWindow]) != target {
			continue
		}
		next := candles[i+patternWindow]
		if next.Bullish() {
			up++
		} else if next.Close < next.Open {
			down++
		}
	}
	return up, down
}

// spikeReversal 检测末根实体对前均值的冲量放大，冲量方向反做。
func spikeReversal(candles []market.Candle) Direction {
	last := candles[len(candles)-1]
	prev := candles[len(candles)-patternWindow-1 : len(candles)-1]
	sum := decimal.Zero
	for _, c := range prev {
		sum = sum.Add(decimal.NewFromFloat(c.Body()))
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(prev))))
	if avg.IsZero() {
		return DirectionNeutral
	}
	ratio := decimal.NewFromFloat(last.Body()).Div(avg)
	if ratio.LessThan(decimal.NewFromFloat(spikeBodyRatio)) {
		return DirectionNeutral
	}
	if last.Bullish() {
		return DirectionPut
	}
	return DirectionCall
}
