package feed

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"quantx/internal/logger"
	"quantx/internal/market"
	"quantx/internal/pkg/circuit"
)

// ErrNoData 表示整条失败转移链都没有产出数据，调用方必须失败关闭。
var ErrNoData = errors.New("no data source produced candles")

// 链路中承担非 OTC 实时行情的源名。
const liveWSSource = "forexws"

// Options 配置路由行为。
type Options struct {
	Primary         string
	Order           []string // 启用源的配置顺序
	ConnectWait     time.Duration
	ConnectRetries  int
	BreakerFailures int
	BreakerCooldown time.Duration
	IsOTC           func(asset string) bool
}

// Router 按优先级在多个行情源间做失败转移。源按名懒加载并缓存，
// 单源故障被吞掉并记入熔断器，路由自身绝不合成 K 线。
type Router struct {
	factory func(name string) (market.DataSource, error)
	opts    Options

	mu         sync.Mutex
	sources    map[string]market.DataSource
	breakers   map[string]*circuit.CircuitBreaker
	connecting map[string]bool
}

func NewRouter(factory func(name string) (market.DataSource, error), opts Options) *Router {
	if opts.ConnectWait <= 0 {
		opts.ConnectWait = time.Second
	}
	if opts.ConnectRetries <= 0 {
		opts.ConnectRetries = 10
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 3
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}
	return &Router{
		factory:    factory,
		opts:       opts,
		sources:    make(map[string]market.DataSource),
		breakers:   make(map[string]*circuit.CircuitBreaker),
		connecting: make(map[string]bool),
	}
}

// Chain 计算 asset 的尝试顺序：请求源、主源、实时外汇流（仅非 OTC）、
// 其余启用源，去重保序。
func (r *Router) Chain(preferred, asset string) []string {
	otc := r.opts.IsOTC != nil && r.opts.IsOTC(asset)
	seen := make(map[string]bool)
	var chain []string
	push := func(name string) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			return
		}
		if otc && name == liveWSSource {
			return
		}
		seen[name] = true
		chain = append(chain, name)
	}
	push(preferred)
	push(r.opts.Primary)
	if !otc {
		push(liveWSSource)
	}
	for _, name := range r.opts.Order {
		push(name)
	}
	return chain
}

// GetCandles 沿链路尝试，返回首个成功源的数据与源名。
// 全链失败返回 ErrNoData。
func (r *Router) GetCandles(ctx context.Context, preferred, asset string, timeframeSec, count int) ([]market.Candle, string, error) {
	for _, name := range r.Chain(preferred, asset) {
		breaker := r.breaker(name)
		if !breaker.Allow() {
			logger.Debugf("feed source %s skipped by circuit breaker", name)
			continue
		}
		src, err := r.source(name)
		if err != nil {
			logger.Debugf("feed source %s unavailable: %v", name, err)
			continue
		}
		if !r.ensureConnected(ctx, src) {
			breaker.RecordFailure()
			logger.Warnf("feed source %s did not connect in time", name)
			continue
		}
		candles, err := src.GetCandles(ctx, asset, timeframeSec, count)
		if err != nil || len(candles) == 0 {
			breaker.RecordFailure()
			if err != nil {
				logger.Warnf("feed source %s failed for %s: %v", name, asset, err)
			}
			continue
		}
		breaker.RecordSuccess()
		return candles, name, nil
	}
	return nil, "", ErrNoData
}

// ConnectedSources 返回当前已连接的源名，供健康探针使用。
func (r *Router) ConnectedSources() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, src := range r.sources {
		if src.IsConnected() {
			out = append(out, name)
		}
	}
	return out
}

// Close 关闭所有已实例化的源。
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, src := range r.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.sources, name)
	}
	return firstErr
}

func (r *Router) source(name string) (market.DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if src, ok := r.sources[name]; ok {
		return src, nil
	}
	src, err := r.factory(name)
	if err != nil {
		return nil, err
	}
	r.sources[name] = src
	return src, nil
}

func (r *Router) breaker(name string) *circuit.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := circuit.NewCircuitBreaker("feed-"+name, r.opts.BreakerFailures, r.opts.BreakerCooldown)
	cb.SetStateChangeHandler(func(breakerName string, from, to circuit.State) {
		logger.Warnf("circuit %s: %s -> %s", breakerName, from, to)
	})
	r.breakers[name] = cb
	return cb
}

// ensureConnected 后台发起连接，同步侧轮询等待直至连上或超出重试预算。
// 同一源的拨号在途时不再叠加新协程，避免并发 Connect 互相覆盖连接。
func (r *Router) ensureConnected(ctx context.Context, src market.DataSource) bool {
	if src.IsConnected() {
		return true
	}
	name := src.Name()
	r.mu.Lock()
	if !r.connecting[name] {
		r.connecting[name] = true
		go func() {
			defer func() {
				r.mu.Lock()
				delete(r.connecting, name)
				r.mu.Unlock()
			}()
			connectCtx, cancel := context.WithTimeout(context.Background(), r.opts.ConnectWait*time.Duration(r.opts.ConnectRetries))
			defer cancel()
			if err := src.Connect(connectCtx); err != nil {
				logger.Warnf("feed source %s connect failed: %v", name, err)
			}
		}()
	}
	r.mu.Unlock()
	for i := 0; i < r.opts.ConnectRetries; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(r.opts.ConnectWait):
		}
		if src.IsConnected() {
			return true
		}
	}
	return src.IsConnected()
}
