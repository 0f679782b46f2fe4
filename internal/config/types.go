package config

import (
	"strings"
	"time"

	"quantx/internal/scheduler"
)

// Config 是 quantx 信号服务的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Database  DatabaseConfig  `toml:"database"`
	Auth      AuthConfig      `toml:"auth"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Feed      FeedConfig      `toml:"feed"`
	Signal    SignalConfig    `toml:"signal"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Heartbeat HeartbeatConfig `toml:"heartbeat"`
	Markets   MarketsConfig   `toml:"markets"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// AuthConfig 控制许可校验缓存与 OWNER 类别白名单。
type AuthConfig struct {
	CacheTTLSeconds  int      `toml:"cache_ttl_seconds"`
	OwnerCategories  []string `toml:"owner_categories"`
	ActivationSecret string   `toml:"activation_secret"`
}

// IsOwnerCategory 判断类别是否享有 OWNER 豁免（PENDING/设备绑定检查跳过）。
func (a AuthConfig) IsOwnerCategory(category string) bool {
	category = strings.ToUpper(strings.TrimSpace(category))
	if category == "" {
		return false
	}
	for _, c := range a.OwnerCategories {
		if strings.ToUpper(strings.TrimSpace(c)) == category {
			return true
		}
	}
	return false
}

type RateLimitConfig struct {
	WindowSeconds int `toml:"window_seconds"`
	MaxRequests   int `toml:"max_requests"`
}

// FeedConfig 描述行情源链路：主源 + 逐源连接参数。
type FeedConfig struct {
	PrimarySource       string             `toml:"primary_source"`
	ConnectWaitSeconds  int                `toml:"connect_wait_seconds"`
	ConnectRetries      int                `toml:"connect_retries"`
	RequestTimeoutSecs  int                `toml:"request_timeout_seconds"`
	BreakerFailures     int                `toml:"breaker_failures"`
	BreakerCooldownSecs int                `toml:"breaker_cooldown_seconds"`
	Sources             []FeedSourceConfig `toml:"sources"`
}

type FeedSourceConfig struct {
	Name        string `toml:"name"`
	Enabled     bool   `toml:"enabled"`
	RESTBaseURL string `toml:"rest_base_url"`
	WSURL       string `toml:"ws_url"`
	APIKey      string `toml:"api_key"`
}

// ResolveSource 返回 name 对应的源配置（大小写不敏感）。
func (f FeedConfig) ResolveSource(name string) (FeedSourceConfig, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return FeedSourceConfig{}, false
	}
	for _, src := range f.Sources {
		if strings.ToLower(strings.TrimSpace(src.Name)) == name {
			return src, true
		}
	}
	return FeedSourceConfig{}, false
}

// EnabledSourceNames 按配置顺序返回启用的源名。
func (f FeedConfig) EnabledSourceNames() []string {
	out := make([]string, 0, len(f.Sources))
	for _, src := range f.Sources {
		if !src.Enabled {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

type SignalConfig struct {
	CandleCount   int `toml:"candle_count"`
	BucketSeconds int `toml:"bucket_seconds"`
}

type TelemetryConfig struct {
	QueueSizeHint int `toml:"queue_size_hint"`
}

// HeartbeatConfig 控制后台心跳上报周期，interval 写法如 1m、1h。
type HeartbeatConfig struct {
	Interval string `toml:"interval"`
}

// IntervalDuration 返回解析后的心跳周期。非法写法由 validate 提前拦截。
func (h HeartbeatConfig) IntervalDuration() time.Duration {
	d, _ := scheduler.ParseIntervalDuration(h.Interval)
	return d
}

type MarketsConfig struct {
	CatalogPath string `toml:"catalog_path"`
}

// keySet 记录配置文件里显式出现过的键（小写点路径）。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
