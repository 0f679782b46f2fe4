package gormstore

import (
	"strings"
	"time"

	storemodel "quantx/internal/store/model"

	"gorm.io/datatypes"
)

type licenseModel struct {
	KeyCode        string `gorm:"column:key_code;primaryKey"`
	Category       string `gorm:"column:category"`
	Status         string `gorm:"column:status"`
	DeviceID       string `gorm:"column:device_id"`
	IPAddress      string `gorm:"column:ip_address"`
	UserAgent      string `gorm:"column:user_agent"`
	UsageCount     int64  `gorm:"column:usage_count"`
	LastAccessUnix int64  `gorm:"column:last_access_date"`
	ExpiryUnix     *int64 `gorm:"column:expiry_date"`
	ActivationUnix *int64 `gorm:"column:activation_date"`
	Country        string `gorm:"column:country"`
	City           string `gorm:"column:city"`
	TimezoneGeo    string `gorm:"column:timezone_geo"`
}

func (licenseModel) TableName() string { return "licenses" }

type signalCacheModel struct {
	Market        string `gorm:"column:market;primaryKey;priority:1"`
	Timeframe     int    `gorm:"column:timeframe;primaryKey;priority:2"`
	Timestamp     int64  `gorm:"column:timestamp;primaryKey;priority:3"`
	Direction     string `gorm:"column:direction"`
	Confidence    int    `gorm:"column:confidence"`
	Strategy      string `gorm:"column:strategy"`
	EntryTime     string `gorm:"column:entry_time"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
}

func (signalCacheModel) TableName() string { return "signals_cache" }

type winRateModel struct {
	ID            int64  `gorm:"column:id;primaryKey"`
	SignalID      string `gorm:"column:signal_id;index"`
	Broker        string `gorm:"column:broker"`
	Market        string `gorm:"column:market;index"`
	Direction     string `gorm:"column:direction"`
	Confidence    int    `gorm:"column:confidence"`
	EntryTime     string `gorm:"column:entry_time"`
	Outcome       string `gorm:"column:outcome"`
	CreatedAtUnix int64  `gorm:"column:created_at"`
}

func (winRateModel) TableName() string { return "win_rate_tracking" }

type userSessionModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	KeyCode       string         `gorm:"column:key_code;index"`
	DeviceID      string         `gorm:"column:device_id"`
	IPAddress     string         `gorm:"column:ip_address"`
	Timezone      string         `gorm:"column:timezone"`
	PayloadJSON   datatypes.JSON `gorm:"column:payload_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
}

func (userSessionModel) TableName() string { return "user_sessions" }

type connectivityModel struct {
	ServiceName       string `gorm:"column:service_name;primaryKey"`
	Status            string `gorm:"column:status"`
	Details           string `gorm:"column:details"`
	LastHeartbeatUnix int64  `gorm:"column:last_heartbeat"`
}

func (connectivityModel) TableName() string { return "system_connectivity" }

// --------------------- converters -------------------------

func licenseModelToRecord(m licenseModel) storemodel.License {
	return storemodel.License{
		Key:         m.KeyCode,
		Category:    strings.ToUpper(strings.TrimSpace(m.Category)),
		Status:      strings.ToUpper(strings.TrimSpace(m.Status)),
		DeviceID:    m.DeviceID,
		IPAddress:   m.IPAddress,
		UserAgent:   m.UserAgent,
		UsageCount:  m.UsageCount,
		LastAccess:  unixToTime(m.LastAccessUnix),
		ExpiresAt:   unixPtrToTime(m.ExpiryUnix),
		ActivatedAt: unixPtrToTime(m.ActivationUnix),
		Country:     m.Country,
		City:        m.City,
		TimezoneGeo: m.TimezoneGeo,
	}
}

func signalCacheModelToRecord(m signalCacheModel) storemodel.CachedSignal {
	return storemodel.CachedSignal{
		Market:     m.Market,
		Timeframe:  m.Timeframe,
		Bucket:     m.Timestamp,
		Direction:  m.Direction,
		Confidence: m.Confidence,
		Strategy:   m.Strategy,
		EntryTime:  m.EntryTime,
	}
}

func newSignalCacheModel(rec storemodel.CachedSignal, now time.Time) signalCacheModel {
	return signalCacheModel{
		Market:        strings.ToUpper(strings.TrimSpace(rec.Market)),
		Timeframe:     rec.Timeframe,
		Timestamp:     rec.Bucket,
		Direction:     rec.Direction,
		Confidence:    rec.Confidence,
		Strategy:      rec.Strategy,
		EntryTime:     rec.EntryTime,
		CreatedAtUnix: now.Unix(),
	}
}

func unixToTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixPtrToTime(sec *int64) *time.Time {
	if sec == nil || *sec <= 0 {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}
