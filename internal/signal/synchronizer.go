package signal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quantx/internal/logger"
	"quantx/internal/market"
	storemodel "quantx/internal/store/model"
	"quantx/internal/strategy"
)

// Store 是信号缓存需要的持久层能力。缓存行只插入，冲突即放弃。
type Store interface {
	GetCachedSignal(ctx context.Context, marketSym string, timeframe int, bucket int64) (*storemodel.CachedSignal, error)
	InsertSignalIfAbsent(ctx context.Context, rec storemodel.CachedSignal) error
}

// CandleFeed 是行情失败转移链的查询入口。
type CandleFeed interface {
	GetCandles(ctx context.Context, preferred, asset string, timeframeSec, count int) ([]market.Candle, string, error)
}

// Request 描述一次信号请求。
type Request struct {
	Broker    string
	Market    string
	Timeframe int    // 周期，单位分钟，缓存键按分钟存储
	Preferred string // 请求方指定的行情源，可为空
	Timezone  string // IANA 时区名，决定 entry_time 的本地表示
}

// Result 是对外信号。同一分钟桶内所有调用方收敛到同一 Result。
type Result struct {
	SignalID   string
	Broker     string
	Market     string
	Direction  string
	Confidence int
	EntryTime  string
	Strategy   string
	Bucket     int64
	Cached     bool
}

// Synchronizer 实现分钟桶内至多计算一次的信号收敛。
// 缓存未命中时才走行情链与打分器；非 NEUTRAL 结果用 insert-if-absent
// 落库并回读正典行，NEUTRAL 永不入库。
type Synchronizer struct {
	store         Store
	feed          CandleFeed
	scorer        strategy.Scorer
	bucketSeconds int
	candleCount   int
	nowFn         func() time.Time
	onIssue       func(storemodel.SignalIssue)
}

func NewSynchronizer(store Store, feed CandleFeed, scorer strategy.Scorer, bucketSeconds, candleCount int) *Synchronizer {
	if bucketSeconds <= 0 {
		bucketSeconds = 60
	}
	if candleCount <= 0 {
		candleCount = 100
	}
	return &Synchronizer{
		store:         store,
		feed:          feed,
		scorer:        scorer,
		bucketSeconds: bucketSeconds,
		candleCount:   candleCount,
		nowFn:         time.Now,
	}
}

// SetNowFunc 注入时钟，仅用于测试。
func (s *Synchronizer) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

// SetIssueHook 注册信号首发回调（胜率追踪入队）。
func (s *Synchronizer) SetIssueHook(fn func(storemodel.SignalIssue)) {
	s.onIssue = fn
}

// SignalID 组合对外信号 ID。
func SignalID(broker, marketSym string, bucket int64) string {
	return fmt.Sprintf("%s_%s_%d",
		strings.ToUpper(strings.TrimSpace(broker)),
		strings.ToUpper(strings.TrimSpace(marketSym)),
		bucket)
}

// Resolve 返回当前分钟桶的信号。
// 行情链全败时透传 feed 层的哨兵错误，调用方必须失败关闭。
func (s *Synchronizer) Resolve(ctx context.Context, req Request) (Result, error) {
	marketSym := strings.ToUpper(strings.TrimSpace(req.Market))
	if marketSym == "" {
		return Result{}, fmt.Errorf("market is required")
	}
	timeframe := req.Timeframe
	if timeframe <= 0 {
		timeframe = 1
	}
	timeframeSec := timeframe * 60
	now := s.nowFn()
	bucket := market.BucketStart(now, s.bucketSeconds)

	cached, err := s.store.GetCachedSignal(ctx, marketSym, timeframe, bucket)
	if err != nil {
		return Result{}, fmt.Errorf("signal cache read failed: %w", err)
	}
	if cached != nil {
		return s.fromRow(*cached, req.Broker, true), nil
	}

	candles, sourceName, err := s.feed.GetCandles(ctx, req.Preferred, marketSym, timeframeSec, s.candleCount)
	if err != nil {
		return Result{}, err
	}

	entryTime := entryTimeIn(now, req.Timezone)
	dir, confidence, label := s.scorer.Analyze(marketSym, timeframeSec, candles, entryTime)
	logger.Debugf("signal computed market=%s bucket=%d source=%s dir=%s conf=%d strategy=%s",
		marketSym, bucket, sourceName, dir, confidence, label)

	if dir == strategy.DirectionNeutral {
		// NEUTRAL 只回给本次调用方，不占分钟桶。
		return Result{
			SignalID:  SignalID(req.Broker, marketSym, bucket),
			Broker:    strings.ToUpper(strings.TrimSpace(req.Broker)),
			Market:    marketSym,
			Direction: string(strategy.DirectionNeutral),
			EntryTime: entryTime,
			Strategy:  label,
			Bucket:    bucket,
		}, nil
	}

	row := storemodel.CachedSignal{
		Market:     marketSym,
		Timeframe:  timeframe,
		Bucket:     bucket,
		Direction:  string(dir),
		Confidence: confidence,
		Strategy:   label,
		EntryTime:  entryTime,
	}
	if err := s.store.InsertSignalIfAbsent(ctx, row); err != nil {
		return Result{}, fmt.Errorf("signal cache write failed: %w", err)
	}
	// 回读正典行：并发竞争时以先写者为准，所有调用方收敛。
	canonical, err := s.store.GetCachedSignal(ctx, marketSym, timeframe, bucket)
	if err != nil {
		return Result{}, fmt.Errorf("signal cache readback failed: %w", err)
	}
	if canonical == nil {
		canonical = &row
	}
	result := s.fromRow(*canonical, req.Broker, false)
	if s.onIssue != nil {
		s.onIssue(storemodel.SignalIssue{
			SignalID:   result.SignalID,
			Broker:     result.Broker,
			Market:     result.Market,
			Direction:  result.Direction,
			Confidence: result.Confidence,
			EntryTime:  result.EntryTime,
		})
	}
	return result, nil
}

func (s *Synchronizer) fromRow(row storemodel.CachedSignal, broker string, cached bool) Result {
	return Result{
		SignalID:   SignalID(broker, row.Market, row.Bucket),
		Broker:     strings.ToUpper(strings.TrimSpace(broker)),
		Market:     row.Market,
		Direction:  row.Direction,
		Confidence: row.Confidence,
		EntryTime:  row.EntryTime,
		Strategy:   row.Strategy,
		Bucket:     row.Bucket,
		Cached:     cached,
	}
}

// entryTimeIn 返回调用方时区的下一分钟整点（HH:MM），时区无效时退回 UTC。
func entryTimeIn(now time.Time, tz string) string {
	loc := time.UTC
	if name := strings.TrimSpace(tz); name != "" {
		if l, err := time.LoadLocation(name); err == nil {
			loc = l
		} else {
			logger.Debugf("invalid timezone %q, falling back to UTC", name)
		}
	}
	return market.NextMinute(now).In(loc).Format("15:04")
}
