package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"quantx/internal/market"
	symbolpkg "quantx/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

// Source 基于 go-binance SDK 提供加密资产 K 线。REST 无长连接，视为常连。
type Source struct {
	client *futures.Client
}

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
}

func New(cfg Config) (*Source, error) {
	client := futures.NewClient("", "")
	if base := strings.TrimSpace(cfg.RESTBaseURL); base != "" {
		client.BaseURL = base
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &Source{client: client}, nil
}

func (s *Source) Name() string { return "binance" }

func (s *Source) Connect(ctx context.Context) error { return nil }

func (s *Source) IsConnected() bool { return true }

func (s *Source) Close() error { return nil }

func (s *Source) GetCandles(ctx context.Context, asset string, timeframeSec, count int) ([]market.Candle, error) {
	if count <= 0 {
		count = 100
	}
	if count > maxHistoryLimit {
		count = maxHistoryLimit
	}
	sym := symbolpkg.Binance(asset)
	if sym == "" {
		return nil, fmt.Errorf("asset %s is not a binance pair", asset)
	}
	interval, err := market.IntervalString(timeframeSec)
	if err != nil {
		return nil, err
	}
	kls, err := s.client.NewKlinesService().Symbol(sym).Interval(interval).Limit(count).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
