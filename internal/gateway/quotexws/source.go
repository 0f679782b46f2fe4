package quotexws

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"quantx/internal/logger"
	"quantx/internal/market"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

const requestTimeout = 8 * time.Second

// Source 通过经纪商网关的 websocket 通道按需拉取 K 线历史。
// 请求与响应通过 request_id 关联，读循环负责分发。
type Source struct {
	url string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	pending   map[string]chan gjson.Result
}

type Config struct {
	WSURL string
}

func New(cfg Config) (*Source, error) {
	if strings.TrimSpace(cfg.WSURL) == "" {
		return nil, fmt.Errorf("quotex source requires ws url")
	}
	return &Source{
		url:     strings.TrimSpace(cfg.WSURL),
		pending: make(map[string]chan gjson.Result),
	}, nil
}

func (s *Source) Name() string { return "quotex" }

func (s *Source) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

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
		return fmt.Errorf("quotex dial failed: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()
	go s.readLoop(conn)
	return nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.connected = false
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
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
		for id, ch := range s.pending {
			close(ch)
			delete(s.pending, id)
		}
		s.mu.Unlock()
		conn.Close()
	}()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			logger.Warnf("quotex read loop closed: %v", err)
			return
		}
		msg := gjson.ParseBytes(payload)
		reqID := msg.Get("request_id").String()
		if reqID == "" {
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[reqID]
		if ok {
			delete(s.pending, reqID)
		}
		s.mu.Unlock()
		if ok {
			ch <- msg
			close(ch)
		}
	}
}

// GetCandles 发送历史请求并等待对应响应。
func (s *Source) GetCandles(ctx context.Context, asset string, timeframeSec, count int) ([]market.Candle, error) {
	asset = strings.TrimSpace(asset)
	if asset == "" {
		return nil, fmt.Errorf("asset is required")
	}
	if count <= 0 {
		count = 100
	}
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("quotex not connected")
	}
	reqID := uuid.NewString()
	ch := make(chan gjson.Result, 1)
	s.pending[reqID] = ch
	s.mu.Unlock()

	req := map[string]any{
		"action":     "candles",
		"asset":      asset,
		"period":     timeframeSec,
		"count":      count,
		"request_id": reqID,
	}
	if err := conn.WriteJSON(req); err != nil {
		s.dropPending(reqID)
		return nil, fmt.Errorf("quotex candle request failed: %w", err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.dropPending(reqID)
		return nil, ctx.Err()
	case <-timer.C:
		s.dropPending(reqID)
		return nil, fmt.Errorf("quotex candle request timed out")
	case msg, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("quotex connection lost")
		}
		return parseCandles(msg, timeframeSec)
	}
}

func (s *Source) dropPending(reqID string) {
	s.mu.Lock()
	delete(s.pending, reqID)
	s.mu.Unlock()
}

// parseCandles 接受 [ts, open, high, low, close, volume] 数组形式的响应。
func parseCandles(msg gjson.Result, timeframeSec int) ([]market.Candle, error) {
	if errMsg := msg.Get("error"); errMsg.Exists() && errMsg.String() != "" {
		return nil, fmt.Errorf("quotex rejected request: %s", errMsg.String())
	}
	rows := msg.Get("candles")
	if !rows.Exists() || !rows.IsArray() {
		return nil, fmt.Errorf("quotex response missing candles")
	}
	var out []market.Candle
	rows.ForEach(func(_, row gjson.Result) bool {
		cols := row.Array()
		if len(cols) < 5 {
			return true
		}
		openSec := cols[0].Int()
		c := market.Candle{
			OpenTime:  openSec * 1000,
			CloseTime: (openSec+int64(timeframeSec))*1000 - 1,
			Open:      cols[1].Float(),
			High:      cols[2].Float(),
			Low:       cols[3].Float(),
			Close:     cols[4].Float(),
		}
		if len(cols) > 5 {
			c.Volume = cols[5].Float()
		}
		out = append(out, c)
		return true
	})
	if len(out) == 0 {
		return nil, fmt.Errorf("quotex returned empty candle set")
	}
	return out, nil
}
