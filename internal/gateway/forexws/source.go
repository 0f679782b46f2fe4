package forexws

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"quantx/internal/logger"
	"quantx/internal/market"
	symbolpkg "quantx/internal/pkg/symbol"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// 每个品种最多保留的 tick 数，约覆盖两小时分钟线聚合。
const maxTicksPerSymbol = 7200

// Source 订阅外汇 tick 流，按需聚合成分钟 K 线。仅覆盖非 OTC 主流币对。
type Source struct {
	url string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	subs      map[string]bool
	ticks     map[string][]tick
	nowFn     func() time.Time
}

type tick struct {
	epoch int64
	quote float64
}

type Config struct {
	WSURL string
}

func New(cfg Config) (*Source, error) {
	if strings.TrimSpace(cfg.WSURL) == "" {
		return nil, fmt.Errorf("forexws requires ws url")
	}
	return &Source{
		url:   strings.TrimSpace(cfg.WSURL),
		subs:  make(map[string]bool),
		ticks: make(map[string][]tick),
		nowFn: time.Now,
	}, nil
}

func (s *Source) Name() string { return "forexws" }

func (s *Source) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connect 建立 websocket 连接并启动读循环，重连时恢复已有订阅。
func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("forexws dial failed: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	resub := make([]string, 0, len(s.subs))
	for code := range s.subs {
		resub = append(resub, code)
	}
	s.mu.Unlock()

	for _, code := range resub {
		if err := s.sendSubscribe(code); err != nil {
			logger.Warnf("forexws resubscribe %s failed: %v", code, err)
		}
	}
	go s.readLoop(conn)
	return nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (s *Source) readLoop(conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
			s.connected = false
		}
		s.mu.Unlock()
		conn.Close()
	}()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			logger.Warnf("forexws read loop closed: %v", err)
			return
		}
		t := gjson.GetBytes(payload, "tick")
		if !t.Exists() {
			continue
		}
		code := t.Get("symbol").String()
		epoch := t.Get("epoch").Int()
		quote := t.Get("quote").Float()
		if code == "" || epoch <= 0 || quote <= 0 {
			continue
		}
		s.mu.Lock()
		buf := append(s.ticks[code], tick{epoch: epoch, quote: quote})
		if len(buf) > maxTicksPerSymbol {
			buf = buf[len(buf)-maxTicksPerSymbol:]
		}
		s.ticks[code] = buf
		s.mu.Unlock()
	}
}

func (s *Source) sendSubscribe(code string) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("forexws not connected")
	}
	return conn.WriteJSON(map[string]any{"ticks": code, "subscribe": 1})
}

// GetCandles 聚合该品种已累计的 tick。首次请求会触发订阅，
// tick 不足以覆盖所需桶数时返回已有部分。
func (s *Source) GetCandles(ctx context.Context, asset string, timeframeSec, count int) ([]market.Candle, error) {
	code := symbolpkg.ForexTick(asset)
	if code == "" {
		return nil, fmt.Errorf("asset %s has no forex tick code", asset)
	}
	if !s.IsConnected() {
		return nil, fmt.Errorf("forexws not connected")
	}
	s.mu.Lock()
	subscribed := s.subs[code]
	if !subscribed {
		s.subs[code] = true
	}
	s.mu.Unlock()
	if !subscribed {
		if err := s.sendSubscribe(code); err != nil {
			return nil, err
		}
		// 给首批 tick 一点到达时间。
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}

	s.mu.Lock()
	buf := append([]tick(nil), s.ticks[code]...)
	s.mu.Unlock()
	if len(buf) == 0 {
		return nil, fmt.Errorf("forexws no ticks yet for %s", code)
	}
	candles := aggregate(buf, timeframeSec)
	if count > 0 && len(candles) > count {
		candles = candles[len(candles)-count:]
	}
	return candles, nil
}

func aggregate(ticks []tick, timeframeSec int) []market.Candle {
	if timeframeSec <= 0 {
		timeframeSec = 60
	}
	buckets := make(map[int64]*market.Candle)
	for _, t := range ticks {
		start := t.epoch - t.epoch%int64(timeframeSec)
		c, ok := buckets[start]
		if !ok {
			buckets[start] = &market.Candle{
				OpenTime:  start * 1000,
				CloseTime: (start+int64(timeframeSec))*1000 - 1,
				Open:      t.quote,
				High:      t.quote,
				Low:       t.quote,
				Close:     t.quote,
				Trades:    1,
			}
			continue
		}
		if t.quote > c.High {
			c.High = t.quote
		}
		if t.quote < c.Low {
			c.Low = t.quote
		}
		c.Close = t.quote
		c.Trades++
	}
	out := make([]market.Candle, 0, len(buckets))
	for _, c := range buckets {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out
}
