package qxhttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"quantx/internal/feed"
	"quantx/internal/license"
	"quantx/internal/market"
	"quantx/internal/ratelimit"
	"quantx/internal/signal"
	storemodel "quantx/internal/store/model"
	"quantx/internal/telemetry"

	"github.com/gin-gonic/gin"
)

const storeCallTimeout = 8 * time.Second

// StatsStore 是只读统计与健康探针需要的持久层能力。
type StatsStore interface {
	WinRate(ctx context.Context, marketSym, broker string) (storemodel.WinRateStats, error)
	Ping(ctx context.Context) error
}

// OutcomeTracker 接收结算结果的学习回调。
type OutcomeTracker interface {
	TrackResult(marketSym, outcome string)
}

// SourceProbe 汇报已连接的行情源。
type SourceProbe interface {
	ConnectedSources() []string
}

// Router 持有各业务组件并注册路由。
type Router struct {
	licenses *license.Service
	limiter  *ratelimit.Limiter
	signals  *signal.Synchronizer
	sink     *telemetry.Sink
	tracker  OutcomeTracker
	stats    StatsStore
	catalog  *market.Catalog
	probe    SourceProbe
}

func NewRouter(
	licenses *license.Service,
	limiter *ratelimit.Limiter,
	signals *signal.Synchronizer,
	sink *telemetry.Sink,
	tracker OutcomeTracker,
	stats StatsStore,
	catalog *market.Catalog,
	probe SourceProbe,
) *Router {
	return &Router{
		licenses: licenses,
		limiter:  limiter,
		signals:  signals,
		sink:     sink,
		tracker:  tracker,
		stats:    stats,
		catalog:  catalog,
		probe:    probe,
	}
}

// Register 挂载全部业务路由。
func (r *Router) Register(router *gin.Engine) {
	router.POST("/authorize", r.handleAuthorize)
	router.POST("/device_sync", r.handleDeviceSync)
	router.POST("/predict", r.handlePredict)
	router.POST("/track_outcome", r.handleTrackOutcome)
	router.GET("/test", r.handleTest)

	api := router.Group("/api")
	api.GET("/win_rate", r.handleWinRate)
	api.POST("/telemetry/collect", r.handleTelemetryCollect)
}

// handleAuthorize 完成许可校验 + 首次设备绑定（或续用）。
// 策略性拒绝返回 200 granted=false，基础设施故障返回 503。
func (r *Router) handleAuthorize(c *gin.Context) {
	var req authorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, authorizeResponse{
			Granted: false,
			Code:    string(license.KindMissingCredentials),
			Message: license.KindMissingCredentials.Message(),
		})
		return
	}
	if strings.TrimSpace(req.Key) == "" || strings.TrimSpace(req.DeviceID) == "" {
		c.JSON(http.StatusBadRequest, authorizeResponse{
			Granted: false,
			Code:    string(license.KindMissingCredentials),
			Message: license.KindMissingCredentials.Message(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), storeCallTimeout)
	defer cancel()
	result, err := r.licenses.ActivateOrTouch(ctx, req.Key, req.DeviceID, license.Meta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Timezone:  req.Timezone,
	})
	if err != nil || result.Kind.Retryable() {
		c.JSON(http.StatusServiceUnavailable, authorizeResponse{
			Granted: false,
			Code:    string(license.KindDatabaseError),
			Message: license.KindDatabaseError.Message(),
		})
		return
	}
	if !result.Granted {
		c.JSON(http.StatusOK, authorizeResponse{
			Granted: false,
			Code:    string(result.Kind),
			Message: result.Kind.Message(),
		})
		return
	}

	r.sink.Submit(telemetry.NewSessionJob(result.License.Key, req.DeviceID, c.ClientIP(), req.Timezone,
		sessionPayload(c.Request.UserAgent(), req.Screen)))
	c.JSON(http.StatusOK, grantedResponse(result.License, req.DeviceID))
}

// handleDeviceSync 按设备恢复许可状态，只读，不做激活。
func (r *Router) handleDeviceSync(c *gin.Context) {
	var req deviceSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.DeviceID) == "" {
		c.JSON(http.StatusBadRequest, authorizeResponse{
			Granted: false,
			Code:    string(license.KindMissingCredentials),
			Message: license.KindMissingCredentials.Message(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), storeCallTimeout)
	defer cancel()
	lic, kind := r.licenses.Lookup(ctx, req.DeviceID)
	if kind.Retryable() {
		c.JSON(http.StatusServiceUnavailable, authorizeResponse{
			Granted: false,
			Code:    string(kind),
			Message: kind.Message(),
		})
		return
	}
	if kind != license.KindOK {
		c.JSON(http.StatusOK, authorizeResponse{
			Granted: false,
			Code:    string(kind),
			Message: kind.Message(),
		})
		return
	}
	// 使用统计延迟到后台落库。
	r.sink.Submit(telemetry.TouchJob{Key: lic.Key, At: time.Now()})
	c.JSON(http.StatusOK, grantedResponse(*lic, req.DeviceID))
}

// handlePredict 是信号热路径：许可 -> 限流 -> 开市 -> 分钟桶信号。
func (r *Router) handlePredict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(license.KindMissingCredentials)})
		return
	}
	if strings.TrimSpace(req.LicenseKey) == "" || strings.TrimSpace(req.DeviceID) == "" || strings.TrimSpace(req.Market) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(license.KindMissingCredentials)})
		return
	}

	// 限流在许可校验之前：超限请求不应打到缓存或数据库。
	identity := strings.ToUpper(strings.TrimSpace(req.LicenseKey)) + ":" + strings.TrimSpace(req.DeviceID)
	if !r.limiter.Admit(identity) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": errRateLimited})
		return
	}

	if !r.catalog.IsOTC(req.Market) && !market.IsOpen(time.Now()) {
		c.JSON(http.StatusForbidden, gin.H{"error": errMarketClosed})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), storeCallTimeout)
	defer cancel()
	granted, kind := r.licenses.Verify(ctx, req.LicenseKey, req.DeviceID)
	if !granted {
		if kind.Retryable() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": errServerBusy})
			return
		}
		c.JSON(http.StatusForbidden, gin.H{"error": errUnauthorized, "code": string(kind)})
		return
	}
	// 校验放行即补记使用统计，后续信号失败也不回滚。
	r.sink.Submit(telemetry.TouchJob{Key: strings.ToUpper(strings.TrimSpace(req.LicenseKey)), At: time.Now()})

	result, err := r.signals.Resolve(ctx, signal.Request{
		Broker:    req.Broker,
		Market:    req.Market,
		Timeframe: req.Timeframe,
		Preferred: req.Source,
		Timezone:  req.Timezone,
	})
	if err != nil {
		if errors.Is(err, feed.ErrNoData) {
			c.JSON(http.StatusForbidden, gin.H{"error": errWSDisconnected})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errServerBusy})
		return
	}

	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	c.JSON(http.StatusOK, predictResponse{
		Direction:  result.Direction,
		Confidence: result.Confidence,
		EntryTime:  result.EntryTime,
		TimeZone:   tz,
		Broker:     result.Broker,
		Market:     result.Market,
		Strategy:   result.Strategy,
		SignalID:   result.SignalID,
	})
}

// handleTrackOutcome 结算已发信号并驱动形态引擎学习。写库异步。
func (r *Router) handleTrackOutcome(c *gin.Context) {
	var req trackOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.SignalID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "signal_id is required"})
		return
	}
	outcome := strings.ToUpper(strings.TrimSpace(req.Outcome))
	if outcome != storemodel.OutcomeWin && outcome != storemodel.OutcomeLoss {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "outcome must be WIN or LOSS"})
		return
	}
	signalID := strings.TrimSpace(req.SignalID)
	r.sink.Submit(telemetry.OutcomeJob{SignalID: signalID, Outcome: outcome})
	if r.tracker != nil {
		if marketSym := marketFromSignalID(signalID); marketSym != "" {
			r.tracker.TrackResult(marketSym, outcome)
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (r *Router) handleWinRate(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeCallTimeout)
	defer cancel()
	stats, err := r.stats.WinRate(ctx, c.Query("market"), c.Query("broker"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errServerBusy})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":    stats.Total,
		"wins":     stats.Wins,
		"losses":   stats.Losses,
		"win_rate": stats.Rate(),
	})
}

// handleTelemetryCollect 校验上报体后异步落库。
func (r *Router) handleTelemetryCollect(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"accepted": false, "error": "unreadable body"})
		return
	}
	payload, err := telemetry.ParseCollectPayload(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"accepted": false, "error": err.Error()})
		return
	}
	r.sink.Submit(telemetry.NewSessionJob(payload.Key, payload.DeviceID, c.ClientIP(), payload.Timezone, raw))
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// handleTest 汇报数据库与行情源连通性。
func (r *Router) handleTest(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), storeCallTimeout)
	defer cancel()
	dbStatus := "connected"
	if err := r.stats.Ping(ctx); err != nil {
		dbStatus = "error"
	}
	var sources []string
	if r.probe != nil {
		sources = r.probe.ConnectedSources()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"database": dbStatus,
		"sources":  sources,
	})
}

func grantedResponse(lic storemodel.License, device string) authorizeResponse {
	expiry := ""
	if lic.ExpiresAt != nil {
		expiry = lic.ExpiresAt.UTC().Format("2006-01-02")
	}
	return authorizeResponse{
		Granted:  true,
		Key:      lic.Key,
		Category: lic.Category,
		HWID:     license.HWID(device),
		Expiry:   expiry,
		Message:  license.KindOK.Message(),
	}
}

func sessionPayload(userAgent, screen string) []byte {
	raw, err := json.Marshal(map[string]string{
		"user_agent": userAgent,
		"screen":     screen,
	})
	if err != nil {
		return []byte("{}")
	}
	return raw
}

// marketFromSignalID 从 BROKER_MARKET_BUCKET 形式的信号 ID 还原品种名。
// 品种自身可能含下划线（如 EURUSD_otc），去头去尾取中段。
func marketFromSignalID(signalID string) string {
	parts := strings.Split(signalID, "_")
	if len(parts) < 3 {
		return ""
	}
	return strings.Join(parts[1:len(parts)-1], "_")
}
