package strategy

import "quantx/internal/market"

// CompositeScorer 先问形态引擎，形态不表态时落到指标引擎。
type CompositeScorer struct {
	pattern       *PatternEngine
	institutional *InstitutionalEngine
}

func NewCompositeScorer(pattern *PatternEngine, institutional *InstitutionalEngine) *CompositeScorer {
	return &CompositeScorer{pattern: pattern, institutional: institutional}
}

func (s *CompositeScorer) Analyze(marketSym string, timeframeSec int, candles []market.Candle, entryTime string) (Direction, int, string) {
	if s.pattern != nil {
		dir, conf, label := s.pattern.Analyze(marketSym, timeframeSec, candles, entryTime)
		if dir != DirectionNeutral {
			return dir, conf, label
		}
	}
	if s.institutional != nil {
		return s.institutional.Analyze(marketSym, timeframeSec, candles, entryTime)
	}
	return DirectionNeutral, 0, "composite"
}

// TrackResult 透传结算结果给形态引擎。
func (s *CompositeScorer) TrackResult(marketSym, outcome string) {
	if s.pattern != nil {
		s.pattern.TrackResult(marketSym, outcome)
	}
}
