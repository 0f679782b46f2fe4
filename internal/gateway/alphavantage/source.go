package alphavantage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"quantx/internal/logger"
	"quantx/internal/market"
	symbolpkg "quantx/internal/pkg/symbol"

	"github.com/tidwall/gjson"
)

// 免费档限流很紧，同一资产的响应短暂复用。
const responseCacheTTL = 55 * time.Second

// Source 通过 Alpha Vantage REST 提供外汇/加密分钟线。
// 分钟线接口不可用时退化为即期汇率单根 K 线。
type Source struct {
	baseURL string
	apiKey  string
	client  *http.Client

	mu    sync.Mutex
	cache map[string]cachedCandles
	nowFn func() time.Time
}

type cachedCandles struct {
	candles   []market.Candle
	fetchedAt time.Time
}

type Config struct {
	RESTBaseURL string
	APIKey      string
	HTTPTimeout time.Duration
}

func New(cfg Config) (*Source, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("alphavantage requires api key")
	}
	base := strings.TrimSpace(cfg.RESTBaseURL)
	if base == "" {
		base = "https://www.alphavantage.co"
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Source{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		client:  &http.Client{Timeout: timeout},
		cache:   make(map[string]cachedCandles),
		nowFn:   time.Now,
	}, nil
}

func (s *Source) Name() string { return "alphavantage" }

func (s *Source) Connect(ctx context.Context) error { return nil }

func (s *Source) IsConnected() bool { return true }

func (s *Source) Close() error { return nil }

func (s *Source) GetCandles(ctx context.Context, asset string, timeframeSec, count int) ([]market.Candle, error) {
	if timeframeSec != 60 {
		return nil, fmt.Errorf("alphavantage only serves 1m candles, got %ds", timeframeSec)
	}
	pair := symbolpkg.Parse(asset)
	if !pair.Valid() {
		return nil, fmt.Errorf("cannot parse asset %s", asset)
	}
	if count <= 0 {
		count = 100
	}
	cacheKey := pair.Base + pair.Quote
	now := s.nowFn()
	s.mu.Lock()
	if hit, ok := s.cache[cacheKey]; ok && now.Sub(hit.fetchedAt) < responseCacheTTL {
		candles := tail(hit.candles, count)
		s.mu.Unlock()
		return candles, nil
	}
	s.mu.Unlock()

	candles, err := s.fetchIntraday(ctx, pair, symbolpkg.IsCrypto(asset))
	if err != nil || len(candles) == 0 {
		if err != nil {
			logger.Warnf("alphavantage intraday failed asset=%s: %v", asset, err)
		}
		spot, spotErr := s.fetchSpot(ctx, pair)
		if spotErr != nil {
			if err != nil {
				return nil, err
			}
			return nil, spotErr
		}
		candles = spot
	}
	s.mu.Lock()
	s.cache[cacheKey] = cachedCandles{candles: candles, fetchedAt: now}
	s.mu.Unlock()
	return tail(candles, count), nil
}

func (s *Source) fetchIntraday(ctx context.Context, pair symbolpkg.Pair, crypto bool) ([]market.Candle, error) {
	q := url.Values{}
	var seriesPath string
	if crypto {
		q.Set("function", "CRYPTO_INTRADAY")
		q.Set("symbol", pair.Base)
		q.Set("market", normalizeFiat(pair.Quote))
		seriesPath = "Time Series Crypto (1min)"
	} else {
		q.Set("function", "FX_INTRADAY")
		q.Set("from_symbol", pair.Base)
		q.Set("to_symbol", pair.Quote)
		seriesPath = "Time Series FX (1min)"
	}
	q.Set("interval", "1min")
	q.Set("outputsize", "compact")
	q.Set("apikey", s.apiKey)

	body, err := s.get(ctx, q)
	if err != nil {
		return nil, err
	}
	series := gjson.GetBytes(body, escapePath(seriesPath))
	if !series.Exists() {
		if note := gjson.GetBytes(body, "Note"); note.Exists() {
			return nil, fmt.Errorf("alphavantage throttled: %s", note.String())
		}
		if msg := gjson.GetBytes(body, escapePath("Error Message")); msg.Exists() {
			return nil, fmt.Errorf("alphavantage error: %s", msg.String())
		}
		return nil, fmt.Errorf("alphavantage response missing series")
	}
	var out []market.Candle
	series.ForEach(func(key, value gjson.Result) bool {
		ts, err := time.Parse("2006-01-02 15:04:05", key.String())
		if err != nil {
			return true
		}
		openMillis := ts.UnixMilli()
		out = append(out, market.Candle{
			OpenTime:  openMillis,
			CloseTime: openMillis + 60_000 - 1,
			Open:      value.Get(escapePath("1. open")).Float(),
			High:      value.Get(escapePath("2. high")).Float(),
			Low:       value.Get(escapePath("3. low")).Float(),
			Close:     value.Get(escapePath("4. close")).Float(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out, nil
}

// fetchSpot 用即期汇率合成单根平价 K 线，聊胜于无。
func (s *Source) fetchSpot(ctx context.Context, pair symbolpkg.Pair) ([]market.Candle, error) {
	q := url.Values{}
	q.Set("function", "CURRENCY_EXCHANGE_RATE")
	q.Set("from_currency", pair.Base)
	q.Set("to_currency", normalizeFiat(pair.Quote))
	q.Set("apikey", s.apiKey)
	body, err := s.get(ctx, q)
	if err != nil {
		return nil, err
	}
	rate := gjson.GetBytes(body, escapePath("Realtime Currency Exchange Rate")+"."+escapePath("5. Exchange Rate")).Float()
	if rate <= 0 {
		return nil, fmt.Errorf("alphavantage spot rate unavailable for %s/%s", pair.Base, pair.Quote)
	}
	now := s.nowFn()
	openMillis := now.Truncate(time.Minute).UnixMilli()
	return []market.Candle{{
		OpenTime:  openMillis,
		CloseTime: openMillis + 60_000 - 1,
		Open:      rate,
		High:      rate,
		Low:       rate,
		Close:     rate,
	}}, nil
}

func (s *Source) get(ctx context.Context, q url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/query?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alphavantage http %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}

func normalizeFiat(quote string) string {
	if quote == "USDT" {
		return "USD"
	}
	return quote
}

// escapePath 转义 gjson 路径里的点号。
func escapePath(key string) string {
	return strings.ReplaceAll(key, ".", `\.`)
}

func tail(candles []market.Candle, n int) []market.Candle {
	if n <= 0 || len(candles) <= n {
		return append([]market.Candle(nil), candles...)
	}
	return append([]market.Candle(nil), candles[len(candles)-n:]...)
}
