package config

import "strings"

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":8000"
	defaultAppLogPath        = "/data/logs/quantx.log"
	defaultDatabasePath      = "/data/db/quantum_server.db"
	defaultAuthCacheTTL      = 300
	defaultRateWindow        = 60
	defaultRateMax           = 5000
	defaultFeedPrimary       = "quotex"
	defaultFeedConnectWait   = 1
	defaultFeedRetries       = 10
	defaultFeedTimeout       = 10
	defaultBreakerFailures   = 3
	defaultBreakerCooldown   = 30
	defaultSignalCandles     = 100
	defaultSignalBucket      = 60
	defaultTelemetryQueue    = 256
	defaultHeartbeatInterval = "1m"
	defaultMarketsCatalog    = "configs/markets.yaml"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Database.applyDefaults(keys)
	c.Auth.applyDefaults(keys)
	c.RateLimit.applyDefaults(keys)
	c.Feed.applyDefaults(keys)
	c.Signal.applyDefaults(keys)
	c.Telemetry.applyDefaults(keys)
	c.Heartbeat.applyDefaults(keys)
	c.Markets.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DatabaseConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("database.path", &d.Path, defaultDatabasePath),
	)
}

func (a *AuthConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "auth.cache_ttl_seconds",
			need:  func() bool { return a.CacheTTLSeconds <= 0 },
			apply: func() { a.CacheTTLSeconds = defaultAuthCacheTTL },
		},
		fieldDefault{
			key:   "auth.owner_categories",
			need:  func() bool { return len(a.OwnerCategories) == 0 },
			apply: func() { a.OwnerCategories = []string{"OWNER"} },
		},
	)
}

func (r *RateLimitConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "rate_limit.window_seconds",
			need:  func() bool { return r.WindowSeconds <= 0 },
			apply: func() { r.WindowSeconds = defaultRateWindow },
		},
		fieldDefault{
			key:   "rate_limit.max_requests",
			need:  func() bool { return r.MaxRequests <= 0 },
			apply: func() { r.MaxRequests = defaultRateMax },
		},
	)
}

func (f *FeedConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("feed.primary_source", &f.PrimarySource, defaultFeedPrimary),
		fieldDefault{
			key:   "feed.connect_wait_seconds",
			need:  func() bool { return f.ConnectWaitSeconds <= 0 },
			apply: func() { f.ConnectWaitSeconds = defaultFeedConnectWait },
		},
		fieldDefault{
			key:   "feed.connect_retries",
			need:  func() bool { return f.ConnectRetries <= 0 },
			apply: func() { f.ConnectRetries = defaultFeedRetries },
		},
		fieldDefault{
			key:   "feed.request_timeout_seconds",
			need:  func() bool { return f.RequestTimeoutSecs <= 0 },
			apply: func() { f.RequestTimeoutSecs = defaultFeedTimeout },
		},
		fieldDefault{
			key:   "feed.breaker_failures",
			need:  func() bool { return f.BreakerFailures <= 0 },
			apply: func() { f.BreakerFailures = defaultBreakerFailures },
		},
		fieldDefault{
			key:   "feed.breaker_cooldown_seconds",
			need:  func() bool { return f.BreakerCooldownSecs <= 0 },
			apply: func() { f.BreakerCooldownSecs = defaultBreakerCooldown },
		},
	)
}

func (s *SignalConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "signal.candle_count",
			need:  func() bool { return s.CandleCount <= 0 },
			apply: func() { s.CandleCount = defaultSignalCandles },
		},
		fieldDefault{
			key:   "signal.bucket_seconds",
			need:  func() bool { return s.BucketSeconds <= 0 },
			apply: func() { s.BucketSeconds = defaultSignalBucket },
		},
	)
}

func (t *TelemetryConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "telemetry.queue_size_hint",
			need:  func() bool { return t.QueueSizeHint <= 0 },
			apply: func() { t.QueueSizeHint = defaultTelemetryQueue },
		},
	)
}

func (h *HeartbeatConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("heartbeat.interval", &h.Interval, defaultHeartbeatInterval),
	)
}

func (m *MarketsConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("markets.catalog_path", &m.CatalogPath, defaultMarketsCatalog),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
