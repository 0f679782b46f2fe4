package gormstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	storemodel "quantx/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store implements license, signal cache and telemetry storage using Gorm + SQLite.
type Store struct {
	db *gorm.DB
}

// NewStore initializes the SQLite-backed store and migrates the schema.
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&licenseModel{},
		&signalCacheModel{},
		&winRateModel{},
		&userSessionModel{},
		&connectivityModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SQLDB exposes the underlying *sql.DB for health probes.
func (s *Store) SQLDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	return s.db.DB()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.SQLDB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// --------------------- licenses -------------------------

// GetLicense returns the license row for key, or (nil, nil) when absent.
func (s *Store) GetLicense(ctx context.Context, key string) (*storemodel.License, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return nil, fmt.Errorf("license key 必填")
	}
	var m licenseModel
	err := s.db.WithContext(ctx).Where("key_code = ?", key).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := licenseModelToRecord(m)
	return &rec, nil
}

// ActivateLicense binds key to device with a guarded compare-and-swap.
// Only a PENDING/unbound row, or a row already bound to the same device,
// is updated; it returns whether any row changed.
func (s *Store) ActivateLicense(ctx context.Context, key, device, ip, userAgent string, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("gorm store 未初始化")
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	device = strings.TrimSpace(device)
	if key == "" || device == "" {
		return false, fmt.Errorf("activation 参数缺失 key=%s device=%s", key, device)
	}
	res := s.db.WithContext(ctx).Model(&licenseModel{}).
		Where("key_code = ? AND status <> ? AND (device_id = '' OR device_id IS NULL OR device_id = ?)",
			key, storemodel.LicenseStatusBlocked, device).
		Updates(map[string]interface{}{
			"status":           storemodel.LicenseStatusActive,
			"device_id":        device,
			"ip_address":       ip,
			"user_agent":       userAgent,
			"activation_date":  gorm.Expr("COALESCE(activation_date, ?)", now.Unix()),
			"last_access_date": now.Unix(),
			"usage_count":      gorm.Expr("usage_count + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TouchLicense bumps usage statistics for a granted access.
func (s *Store) TouchLicense(ctx context.Context, key string, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return fmt.Errorf("license key 必填")
	}
	return s.db.WithContext(ctx).Model(&licenseModel{}).
		Where("key_code = ?", key).
		Updates(map[string]interface{}{
			"usage_count":      gorm.Expr("usage_count + 1"),
			"last_access_date": now.Unix(),
		}).Error
}

// FindLicenseByDevice returns the newest-touched license bound to device, or (nil, nil).
func (s *Store) FindLicenseByDevice(ctx context.Context, device string) (*storemodel.License, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	device = strings.TrimSpace(device)
	if device == "" {
		return nil, fmt.Errorf("device_id 必填")
	}
	var m licenseModel
	err := s.db.WithContext(ctx).
		Where("device_id = ?", device).
		Order("last_access_date DESC").
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := licenseModelToRecord(m)
	return &rec, nil
}

// --------------------- signal cache -------------------------

// GetCachedSignal returns the bucket row, or (nil, nil) when absent.
func (s *Store) GetCachedSignal(ctx context.Context, marketSym string, timeframe int, bucket int64) (*storemodel.CachedSignal, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store 未初始化")
	}
	var m signalCacheModel
	err := s.db.WithContext(ctx).
		Where("market = ? AND timeframe = ? AND timestamp = ?",
			strings.ToUpper(strings.TrimSpace(marketSym)), timeframe, bucket).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec := signalCacheModelToRecord(m)
	return &rec, nil
}

// InsertSignalIfAbsent inserts the bucket row, silently losing to any
// concurrent writer. Rows are never updated or deleted afterwards.
func (s *Store) InsertSignalIfAbsent(ctx context.Context, rec storemodel.CachedSignal) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	m := newSignalCacheModel(rec, time.Now())
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "market"}, {Name: "timeframe"}, {Name: "timestamp"}},
			DoNothing: true,
		}).
		Create(&m).Error
}

// --------------------- win rate tracking -------------------------

// InsertSignalIssue appends a pending outcome row for an issued signal.
func (s *Store) InsertSignalIssue(ctx context.Context, rec storemodel.SignalIssue) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	m := winRateModel{
		SignalID:      strings.TrimSpace(rec.SignalID),
		Broker:        strings.ToUpper(strings.TrimSpace(rec.Broker)),
		Market:        strings.ToUpper(strings.TrimSpace(rec.Market)),
		Direction:     rec.Direction,
		Confidence:    rec.Confidence,
		EntryTime:     rec.EntryTime,
		CreatedAtUnix: time.Now().Unix(),
	}
	if m.SignalID == "" {
		return fmt.Errorf("signal_id 必填")
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// UpdateOutcome settles an issued signal; returns rows affected.
func (s *Store) UpdateOutcome(ctx context.Context, signalID, outcome string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("gorm store 未初始化")
	}
	signalID = strings.TrimSpace(signalID)
	if signalID == "" {
		return 0, fmt.Errorf("signal_id 必填")
	}
	res := s.db.WithContext(ctx).Model(&winRateModel{}).
		Where("signal_id = ? AND (outcome = '' OR outcome IS NULL)", signalID).
		Update("outcome", outcome)
	return res.RowsAffected, res.Error
}

// WinRate aggregates settled outcomes, optionally filtered by market/broker.
func (s *Store) WinRate(ctx context.Context, marketSym, broker string) (storemodel.WinRateStats, error) {
	var stats storemodel.WinRateStats
	if s == nil || s.db == nil {
		return stats, fmt.Errorf("gorm store 未初始化")
	}
	q := s.db.WithContext(ctx).Model(&winRateModel{})
	if m := strings.ToUpper(strings.TrimSpace(marketSym)); m != "" {
		q = q.Where("market = ?", m)
	}
	if b := strings.ToUpper(strings.TrimSpace(broker)); b != "" {
		q = q.Where("broker = ?", b)
	}
	if err := q.Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := q.Where("outcome = ?", storemodel.OutcomeWin).Count(&stats.Wins).Error; err != nil {
		return stats, err
	}
	// 重新构建查询，避免上面的 outcome 条件叠加。
	q2 := s.db.WithContext(ctx).Model(&winRateModel{})
	if m := strings.ToUpper(strings.TrimSpace(marketSym)); m != "" {
		q2 = q2.Where("market = ?", m)
	}
	if b := strings.ToUpper(strings.TrimSpace(broker)); b != "" {
		q2 = q2.Where("broker = ?", b)
	}
	if err := q2.Where("outcome = ?", storemodel.OutcomeLoss).Count(&stats.Losses).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

// --------------------- sessions & connectivity -------------------------

// InsertSession appends a session telemetry row.
func (s *Store) InsertSession(ctx context.Context, rec storemodel.Session) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	m := userSessionModel{
		ID:            strings.TrimSpace(rec.ID),
		KeyCode:       strings.ToUpper(strings.TrimSpace(rec.Key)),
		DeviceID:      rec.DeviceID,
		IPAddress:     rec.IPAddress,
		Timezone:      rec.Timezone,
		PayloadJSON:   rec.Payload,
		CreatedAtUnix: rec.CreatedAt.Unix(),
	}
	if m.ID == "" {
		return fmt.Errorf("session id 必填")
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// UpsertConnectivity writes a heartbeat row keyed by service name.
func (s *Store) UpsertConnectivity(ctx context.Context, rec storemodel.Connectivity) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store 未初始化")
	}
	m := connectivityModel{
		ServiceName:       strings.TrimSpace(rec.Service),
		Status:            rec.Status,
		Details:           rec.Details,
		LastHeartbeatUnix: rec.LastHeartbeat.Unix(),
	}
	if m.ServiceName == "" {
		return fmt.Errorf("service_name 必填")
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "service_name"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"status":         m.Status,
				"details":        m.Details,
				"last_heartbeat": m.LastHeartbeatUnix,
			}),
		}).
		Create(&m).Error
}
