package market

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quantx/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Entry 描述行情目录中的一个可交易品种。
type Entry struct {
	Symbol   string `yaml:"symbol"`
	Display  string `yaml:"display"`
	OTC      bool   `yaml:"otc"`
	Category string `yaml:"category"`
	Enabled  *bool  `yaml:"enabled"`
}

func (e Entry) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

type catalogFile struct {
	Markets map[string]Entry `yaml:"markets"`
}

// Snapshot 目录的只读快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Entries  map[string]Entry // key: upper symbol
}

// Catalog 管理品种目录并监听文件更新。
type Catalog struct {
	path string
	v    *viper.Viper

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewCatalog 读取目录文件并监听热更新。
func NewCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("market catalog requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read market catalog failed: %w", err)
	}
	c := &Catalog{path: path, v: v}
	if err := c.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := c.reload(); err != nil {
			logger.Errorf("market catalog reload failed: %v", err)
		}
	})
	v.WatchConfig()
	return c, nil
}

func (c *Catalog) reload() error {
	cfg, err := readCatalogFile(c.path)
	if err != nil {
		return err
	}
	entries := make(map[string]Entry, len(cfg.Markets))
	for name, entry := range cfg.Markets {
		sym := strings.ToUpper(strings.TrimSpace(entry.Symbol))
		if sym == "" {
			sym = strings.ToUpper(strings.TrimSpace(name))
		}
		if sym == "" {
			continue
		}
		entry.Symbol = sym
		entries[sym] = entry
	}
	c.mu.Lock()
	c.snapshot = Snapshot{
		Version:  c.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Entries:  entries,
	}
	c.mu.Unlock()
	logger.Infof("Market catalog loaded %d entries from %s", len(entries), filepath.Base(c.path))
	return nil
}

// Snapshot 返回当前目录快照。
func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{Version: c.snapshot.Version, LoadedAt: c.snapshot.LoadedAt}
	snap.Entries = make(map[string]Entry, len(c.snapshot.Entries))
	for k, v := range c.snapshot.Entries {
		snap.Entries[k] = v
	}
	return snap
}

// Lookup 返回品种条目（大小写不敏感）。
func (c *Catalog) Lookup(symbol string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.snapshot.Entries[strings.ToUpper(strings.TrimSpace(symbol))]
	return entry, ok
}

// IsOTC 判断品种是否为 OTC。目录未收录时回退到 _otc 后缀约定。
func (c *Catalog) IsOTC(symbol string) bool {
	if entry, ok := c.Lookup(symbol); ok {
		return entry.OTC
	}
	return HasOTCSuffix(symbol)
}

// HasOTCSuffix 基于命名约定判断 OTC 品种。
func HasOTCSuffix(symbol string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(symbol)), "_otc")
}

func readCatalogFile(path string) (catalogFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return catalogFile{}, fmt.Errorf("read market catalog failed: %w", err)
	}
	var cfg catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return catalogFile{}, fmt.Errorf("parse market catalog failed: %w", err)
	}
	return cfg, nil
}
