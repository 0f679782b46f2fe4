package gateway

import (
	"fmt"
	"strings"
	"time"

	qxcfg "quantx/internal/config"
	"quantx/internal/gateway/alphavantage"
	"quantx/internal/gateway/binance"
	"quantx/internal/gateway/forexws"
	"quantx/internal/gateway/quotexws"
	"quantx/internal/market"
)

// NewSource 按名称实例化行情源。
func NewSource(src qxcfg.FeedSourceConfig, timeout time.Duration) (market.DataSource, error) {
	switch strings.ToLower(strings.TrimSpace(src.Name)) {
	case "quotex":
		return quotexws.New(quotexws.Config{WSURL: src.WSURL})
	case "forexws", "forex":
		return forexws.New(forexws.Config{WSURL: src.WSURL})
	case "alphavantage":
		return alphavantage.New(alphavantage.Config{
			RESTBaseURL: src.RESTBaseURL,
			APIKey:      src.APIKey,
			HTTPTimeout: timeout,
		})
	case "binance", "binance-futures":
		return binance.New(binance.Config{
			RESTBaseURL: src.RESTBaseURL,
			HTTPTimeout: timeout,
		})
	default:
		return nil, fmt.Errorf("unsupported feed source: %s", src.Name)
	}
}

// NewSourceFactory 绑定 feed 配置，返回按名创建源的工厂。
func NewSourceFactory(cfg *qxcfg.Config) func(name string) (market.DataSource, error) {
	return func(name string) (market.DataSource, error) {
		if cfg == nil {
			return nil, fmt.Errorf("nil config")
		}
		src, ok := cfg.Feed.ResolveSource(name)
		if !ok {
			return nil, fmt.Errorf("feed source %s not configured", name)
		}
		if !src.Enabled {
			return nil, fmt.Errorf("feed source %s disabled", name)
		}
		return NewSource(src, time.Duration(cfg.Feed.RequestTimeoutSecs)*time.Second)
	}
}
