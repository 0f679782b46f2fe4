package config

import (
	"fmt"
	"strings"

	"quantx/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Auth.validate(); err != nil {
		return err
	}
	if err := c.RateLimit.validate(); err != nil {
		return err
	}
	if err := c.Feed.validate(); err != nil {
		return err
	}
	if err := c.Signal.validate(); err != nil {
		return err
	}
	if err := c.Heartbeat.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AuthConfig) validate() error {
	if a.CacheTTLSeconds <= 0 {
		return fmt.Errorf("auth.cache_ttl_seconds must be > 0")
	}
	return nil
}

func (r *RateLimitConfig) validate() error {
	if r.WindowSeconds <= 0 {
		return fmt.Errorf("rate_limit.window_seconds must be > 0")
	}
	if r.MaxRequests <= 0 {
		return fmt.Errorf("rate_limit.max_requests must be > 0")
	}
	return nil
}

func (f *FeedConfig) validate() error {
	if len(f.Sources) == 0 {
		return fmt.Errorf("feed.sources requires at least one source")
	}
	primary := strings.ToLower(strings.TrimSpace(f.PrimarySource))
	enabled := 0
	primaryFound := false
	for _, src := range f.Sources {
		if strings.TrimSpace(src.Name) == "" {
			return fmt.Errorf("feed.sources contains entry without name")
		}
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.ToLower(strings.TrimSpace(src.Name)) == primary {
			primaryFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("feed.sources requires at least one enabled source")
	}
	if !primaryFound {
		return fmt.Errorf("enabled feed.primary_source=%s not found", f.PrimarySource)
	}
	return nil
}

func (h *HeartbeatConfig) validate() error {
	if _, ok := scheduler.ParseIntervalDuration(h.Interval); !ok {
		return fmt.Errorf("heartbeat.interval %q is invalid, want forms like 1m or 1h", h.Interval)
	}
	return nil
}

func (s *SignalConfig) validate() error {
	if s.CandleCount < 5 || s.CandleCount > 1000 {
		return fmt.Errorf("signal.candle_count must be in [5,1000]")
	}
	if s.BucketSeconds <= 0 {
		return fmt.Errorf("signal.bucket_seconds must be > 0")
	}
	return nil
}
