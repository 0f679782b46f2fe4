package qxhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"quantx/internal/feed"
	"quantx/internal/license"
	"quantx/internal/market"
	"quantx/internal/ratelimit"
	"quantx/internal/signal"
	storemodel "quantx/internal/store/model"
	"quantx/internal/strategy"
	"quantx/internal/telemetry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore 同时充当许可、信号缓存与遥测的内存持久层。
type memStore struct {
	mu       sync.Mutex
	licenses map[string]storemodel.License
	signals  map[string]storemodel.CachedSignal
	outcomes map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		licenses: make(map[string]storemodel.License),
		signals:  make(map[string]storemodel.CachedSignal),
		outcomes: make(map[string]string),
	}
}

func (s *memStore) putLicense(lic storemodel.License) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licenses[lic.Key] = lic
}

func (s *memStore) GetLicense(ctx context.Context, key string) (*storemodel.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lic, ok := s.licenses[key]; ok {
		return &lic, nil
	}
	return nil, nil
}

func (s *memStore) FindLicenseByDevice(ctx context.Context, device string) (*storemodel.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, lic := range s.licenses {
		if lic.DeviceID == device {
			out := lic
			return &out, nil
		}
	}
	return nil, nil
}

func (s *memStore) ActivateLicense(ctx context.Context, key, device, ip, userAgent string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lic, ok := s.licenses[key]
	if !ok || lic.Status == storemodel.LicenseStatusBlocked {
		return false, nil
	}
	if lic.DeviceID != "" && lic.DeviceID != device {
		return false, nil
	}
	lic.Status = storemodel.LicenseStatusActive
	lic.DeviceID = device
	lic.IPAddress = ip
	lic.UserAgent = userAgent
	s.licenses[key] = lic
	return true, nil
}

func (s *memStore) TouchLicense(ctx context.Context, key string, now time.Time) error {
	return nil
}

func signalKey(marketSym string, timeframe int, bucket int64) string {
	return fmt.Sprintf("%s|%d|%d", marketSym, timeframe, bucket)
}

func (s *memStore) GetCachedSignal(ctx context.Context, marketSym string, timeframe int, bucket int64) (*storemodel.CachedSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.signals[signalKey(marketSym, timeframe, bucket)]; ok {
		return &row, nil
	}
	return nil, nil
}

func (s *memStore) InsertSignalIfAbsent(ctx context.Context, rec storemodel.CachedSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := signalKey(rec.Market, rec.Timeframe, rec.Bucket)
	if _, ok := s.signals[k]; !ok {
		s.signals[k] = rec
	}
	return nil
}

func (s *memStore) InsertSignalIssue(ctx context.Context, rec storemodel.SignalIssue) error { return nil }

func (s *memStore) UpdateOutcome(ctx context.Context, signalID, outcome string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[signalID] = outcome
	return 1, nil
}

func (s *memStore) InsertSession(ctx context.Context, rec storemodel.Session) error { return nil }

func (s *memStore) UpsertConnectivity(ctx context.Context, rec storemodel.Connectivity) error {
	return nil
}

func (s *memStore) WinRate(ctx context.Context, marketSym, broker string) (storemodel.WinRateStats, error) {
	return storemodel.WinRateStats{Total: 10, Wins: 7, Losses: 3}, nil
}

func (s *memStore) Ping(ctx context.Context) error { return nil }

type stubFeed struct {
	err          error
	gotTimeframe int
}

func (f *stubFeed) GetCandles(ctx context.Context, preferred, asset string, timeframeSec, count int) ([]market.Candle, string, error) {
	f.gotTimeframe = timeframeSec
	if f.err != nil {
		return nil, "", f.err
	}
	candles := make([]market.Candle, 100)
	for i := range candles {
		candles[i] = market.Candle{Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15}
	}
	return candles, "quotex", nil
}

type callScorer struct{}

func (callScorer) Analyze(marketSym string, timeframeSec int, candles []market.Candle, entryTime string) (strategy.Direction, int, string) {
	return strategy.DirectionCall, 90, "institutional"
}

type recordingTracker struct {
	mu      sync.Mutex
	tracked []string
}

func (t *recordingTracker) TrackResult(marketSym, outcome string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracked = append(t.tracked, marketSym+"="+outcome)
}

type stubProbe struct{}

func (stubProbe) ConnectedSources() []string { return []string{"quotex"} }

func writeCatalog(t *testing.T) *market.Catalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "markets.yaml")
	raw := []byte(`markets:
  EURUSD:
    display: EUR/USD
    category: forex
  EURUSD_otc:
    display: EUR/USD (OTC)
    otc: true
    category: forex
`)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	catalog, err := market.NewCatalog(path)
	require.NoError(t, err)
	return catalog
}

type testEnv struct {
	handler http.Handler
	store   *memStore
	feed    *stubFeed
	tracker *recordingTracker
	limiter *ratelimit.Limiter
	sink    *telemetry.Sink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemStore()
	expiry := time.Now().Add(365 * 24 * time.Hour)
	store.putLicense(storemodel.License{
		Key:       "QX-TEST-KEY",
		Category:  "PRO",
		Status:    storemodel.LicenseStatusActive,
		DeviceID:  "dev-1",
		ExpiresAt: &expiry,
	})
	store.putLicense(storemodel.License{
		Key:       "QX-FRESH-KEY",
		Category:  "PRO",
		Status:    storemodel.LicenseStatusPending,
		ExpiresAt: &expiry,
	})

	licenses := license.NewService(store, 300*time.Second, nil)
	limiter := ratelimit.NewLimiter(time.Minute, 5000)
	fd := &stubFeed{}
	synchronizer := signal.NewSynchronizer(store, fd, callScorer{}, 60, 100)
	sink := telemetry.NewSink(store, 8)
	tracker := &recordingTracker{}

	api := NewRouter(licenses, limiter, synchronizer, sink, tracker, store, writeCatalog(t), stubProbe{})
	srv, err := NewServer(":0", api)
	require.NoError(t, err)
	return &testEnv{handler: srv.Handler(), store: store, feed: fd, tracker: tracker, limiter: limiter, sink: sink}
}

func (e *testEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestAuthorizeEndpoint(t *testing.T) {
	t.Run("missing fields", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.post(t, "/authorize", map[string]string{"key": "QX-TEST-KEY"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown key denied with 200", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.post(t, "/authorize", map[string]string{"key": "QX-NOPE", "device_id": "dev-1"})
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, false, body["granted"])
		assert.Equal(t, string(license.KindInvalidKey), body["code"])
	})

	t.Run("first activation binds and returns hwid", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.post(t, "/authorize", map[string]string{"key": "QX-FRESH-KEY", "device_id": "dev-9"})
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, true, body["granted"])
		assert.Contains(t, body["hwid"], "QX-ID-")

		lic, err := env.store.GetLicense(context.Background(), "QX-FRESH-KEY")
		require.NoError(t, err)
		assert.Equal(t, "dev-9", lic.DeviceID)
		assert.Equal(t, storemodel.LicenseStatusActive, lic.Status)
	})

	t.Run("bound elsewhere denied", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.post(t, "/authorize", map[string]string{"key": "QX-TEST-KEY", "device_id": "dev-other"})
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, false, body["granted"])
		assert.Equal(t, string(license.KindDeviceMismatch), body["code"])
	})
}

func TestDeviceSyncEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/device_sync", map[string]string{"device_id": "dev-1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["granted"])
	assert.Equal(t, "QX-TEST-KEY", body["key"])

	rec = env.post(t, "/device_sync", map[string]string{"device_id": "dev-unknown"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["granted"])

	rec = env.post(t, "/device_sync", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictEndpoint(t *testing.T) {
	validReq := func() map[string]any {
		return map[string]any{
			"license_key": "QX-TEST-KEY",
			"device_id":   "dev-1",
			"broker":      "quotex",
			"market":      "EURUSD_otc",
			"timeframe":   1,
		}
	}

	t.Run("missing market", func(t *testing.T) {
		env := newTestEnv(t)
		req := validReq()
		delete(req, "market")
		rec := env.post(t, "/predict", req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad credentials", func(t *testing.T) {
		env := newTestEnv(t)
		req := validReq()
		req["device_id"] = "dev-stolen"
		rec := env.post(t, "/predict", req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, errUnauthorized, body["error"])
		assert.Equal(t, string(license.KindDeviceMismatch), body["code"])
	})

	t.Run("signal returned and converges within the minute", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.post(t, "/predict", validReq())
		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "CALL", body["direction"])
		assert.Equal(t, float64(90), body["confidence"])
		assert.NotEmpty(t, body["entry_time"])
		assert.Equal(t, "UTC", body["time_zone"])

		// 第二次请求命中分钟桶缓存，信号一致。
		rec2 := env.post(t, "/predict", validReq())
		require.Equal(t, http.StatusOK, rec2.Code)
		assert.Equal(t, body["signal_id"], decodeBody(t, rec2)["signal_id"])
	})

	t.Run("minute timeframe converted to seconds for feed", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.post(t, "/predict", validReq())
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 60, env.feed.gotTimeframe)

		// 周期不同，分钟桶键不同，不命中上一次的缓存。
		req := validReq()
		req["timeframe"] = 5
		rec = env.post(t, "/predict", req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 300, env.feed.gotTimeframe)
	})

	t.Run("feed outage fails closed", func(t *testing.T) {
		env := newTestEnv(t)
		env.feed.err = feed.ErrNoData
		rec := env.post(t, "/predict", validReq())
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, errWSDisconnected, decodeBody(t, rec)["error"])
	})

	t.Run("usage touch recorded even when feed is down", func(t *testing.T) {
		env := newTestEnv(t)
		env.feed.err = feed.ErrNoData
		rec := env.post(t, "/predict", validReq())
		assert.Equal(t, http.StatusForbidden, rec.Code)
		// 校验放行即入队使用统计，信号失败不回滚。
		assert.Equal(t, 1, env.sink.Pending())
	})

	t.Run("rate limited", func(t *testing.T) {
		env := newTestEnv(t)
		identity := "QX-TEST-KEY:dev-1"
		for i := 0; i < 5000; i++ {
			require.True(t, env.limiter.Admit(identity))
		}
		rec := env.post(t, "/predict", validReq())
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})

	t.Run("rate limit checked before credentials", func(t *testing.T) {
		env := newTestEnv(t)
		identity := "QX-TEST-KEY:dev-stolen"
		for i := 0; i < 5000; i++ {
			require.True(t, env.limiter.Admit(identity))
		}
		req := validReq()
		req["device_id"] = "dev-stolen"
		rec := env.post(t, "/predict", req)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestTrackOutcomeEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/track_outcome", map[string]string{"signal_id": "QUOTEX_EURUSD_OTC_1750000000", "outcome": "draw"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.post(t, "/track_outcome", map[string]string{"outcome": "WIN"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.post(t, "/track_outcome", map[string]string{"signal_id": "QUOTEX_EURUSD_OTC_1750000000", "outcome": "win"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])

	env.tracker.mu.Lock()
	defer env.tracker.mu.Unlock()
	require.Len(t, env.tracker.tracked, 1)
	assert.Equal(t, "EURUSD_OTC=WIN", env.tracker.tracked[0])
}

func TestWinRateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, "/api/win_rate?market=EURUSD")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(10), body["total"])
	assert.Equal(t, float64(7), body["wins"])
	assert.InDelta(t, 0.7, body["win_rate"], 1e-9)
}

func TestTelemetryCollectEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/api/telemetry/collect", map[string]any{
		"event":     "app_open",
		"device_id": "dev-1",
		"timezone":  "Asia/Shanghai",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["accepted"])

	// 未声明字段被 schema 拒绝。
	rec = env.post(t, "/api/telemetry/collect", map[string]any{
		"event":     "app_open",
		"device_id": "dev-1",
		"extra":     "nope",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.post(t, "/api/telemetry/collect", map[string]any{"event": "app_open"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndConnectivity(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.get(t, "/test")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "connected", body["database"])
	assert.Contains(t, body["sources"], "quotex")
}

func TestMarketFromSignalID(t *testing.T) {
	assert.Equal(t, "EURUSD", marketFromSignalID("QUOTEX_EURUSD_1750000000"))
	assert.Equal(t, "EURUSD_OTC", marketFromSignalID("QUOTEX_EURUSD_OTC_1750000000"))
	assert.Equal(t, "", marketFromSignalID("garbage"))
}
