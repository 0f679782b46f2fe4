package strategy

import (
	"testing"

	"quantx/internal/market"

	"github.com/stretchr/testify/assert"
)

// bullishRun 生成 n 根等实体阳线。
func bullishRun(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		open := float64(i)
		out[i] = market.Candle{Open: open, High: open + 0.7, Low: open - 0.2, Close: open + 0.5}
	}
	return out
}

func bearishRun(n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		open := float64(n - i)
		out[i] = market.Candle{Open: open, High: open + 0.2, Low: open - 0.7, Close: open - 0.5}
	}
	return out
}

func TestPatternAnalyze(t *testing.T) {
	t.Run("too few candles abstains", func(t *testing.T) {
		e := NewPatternEngine()
		dir, _, label := e.Analyze("EURUSD", 60, bullishRun(patternWindow), "12:31")
		assert.Equal(t, DirectionNeutral, dir)
		assert.Equal(t, "pattern", label)
	})

	t.Run("recurring bullish pattern votes call", func(t *testing.T) {
		e := NewPatternEngine()
		dir, conf, label := e.Analyze("EURUSD", 60, bullishRun(60), "12:31")
		assert.Equal(t, DirectionCall, dir)
		assert.Equal(t, patternConfidence, conf)
		assert.Equal(t, "pattern_vote", label)
	})

	t.Run("recurring bearish pattern votes put", func(t *testing.T) {
		e := NewPatternEngine()
		dir, conf, label := e.Analyze("EURUSD", 60, bearishRun(60), "12:31")
		assert.Equal(t, DirectionPut, dir)
		assert.Equal(t, patternConfidence, conf)
		assert.Equal(t, "pattern_vote", label)
	})

	t.Run("bullish spike is faded", func(t *testing.T) {
		candles := bullishRun(30)
		last := &candles[len(candles)-1]
		last.Close = last.Open + 2.5 // 实体 5 倍于前均值
		last.High = last.Close + 0.1

		e := NewPatternEngine()
		dir, conf, label := e.Analyze("EURUSD", 60, candles, "12:31")
		assert.Equal(t, DirectionPut, dir)
		assert.Equal(t, spikeConfidence, conf)
		assert.Equal(t, "pattern_spike_reversal", label)
	})

	t.Run("bearish spike is faded", func(t *testing.T) {
		candles := bearishRun(30)
		last := &candles[len(candles)-1]
		last.Close = last.Open - 2.5
		last.Low = last.Close - 0.1

		e := NewPatternEngine()
		dir, _, label := e.Analyze("EURUSD", 60, candles, "12:31")
		assert.Equal(t, DirectionCall, dir)
		assert.Equal(t, "pattern_spike_reversal", label)
	})
}

func TestLossRegime(t *testing.T) {
	e := NewPatternEngine()
	candles := bullishRun(60)

	dir, _, _ := e.Analyze("EURUSD", 60, candles, "12:31")
	assert.Equal(t, DirectionCall, dir)

	e.TrackResult("eurusd", "LOSS")
	e.TrackResult("EURUSD", "loss")
	dir, _, label := e.Analyze("EURUSD", 60, candles, "12:31")
	assert.Equal(t, DirectionNeutral, dir)
	assert.Equal(t, "pattern_loss_regime", label)

	// 其他资产不受影响。
	dir, _, _ = e.Analyze("GBPUSD", 60, candles, "12:31")
	assert.Equal(t, DirectionCall, dir)

	// 一次 WIN 打断连亏回避。
	e.TrackResult("EURUSD", "WIN")
	dir, _, _ = e.Analyze("EURUSD", 60, candles, "12:31")
	assert.Equal(t, DirectionCall, dir)
}

func TestTrackResultIgnoresGarbage(t *testing.T) {
	e := NewPatternEngine()
	e.TrackResult("", "LOSS")
	e.TrackResult("EURUSD", "DRAW")
	e.TrackResult("EURUSD", "LOSS")
	assert.False(t, e.inLossRegime("EURUSD"))
}
