package model

import "time"

// 许可状态机：PENDING -> ACTIVE，BLOCKED 为终态。
const (
	LicenseStatusPending = "PENDING"
	LicenseStatusActive  = "ACTIVE"
	LicenseStatusBlocked = "BLOCKED"
)

const (
	OutcomeWin  = "WIN"
	OutcomeLoss = "LOSS"
)

// License 是许可行的领域视图。
type License struct {
	Key         string
	Category    string
	Status      string
	DeviceID    string
	IPAddress   string
	UserAgent   string
	UsageCount  int64
	LastAccess  time.Time
	ExpiresAt   *time.Time
	ActivatedAt *time.Time
	Country     string
	City        string
	TimezoneGeo string
}

// Expired 判断许可是否过期。未设置到期日视为永久有效。
func (l License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// Bound 判断许可是否已绑定设备。
func (l License) Bound() bool { return l.DeviceID != "" }

// CachedSignal 是分钟桶信号缓存行，只插入不更新。
type CachedSignal struct {
	Market     string
	Timeframe  int // 单位分钟
	Bucket     int64
	Direction  string
	Confidence int
	Strategy   string
	EntryTime  string
}

// SignalIssue 记录一次对外发出的信号，用于胜率追踪。
type SignalIssue struct {
	SignalID   string
	Broker     string
	Market     string
	Direction  string
	Confidence int
	EntryTime  string
}

// Session 记录一次授权会话的客户端画像。
type Session struct {
	ID        string
	Key       string
	DeviceID  string
	IPAddress string
	Timezone  string
	Payload   []byte
	CreatedAt time.Time
}

// Connectivity 记录后台服务心跳状态。
type Connectivity struct {
	Service       string
	Status        string
	Details       string
	LastHeartbeat time.Time
}

// WinRateStats 聚合胜率统计。
type WinRateStats struct {
	Total  int64
	Wins   int64
	Losses int64
}

// Rate 返回已结算信号的胜率，无结算样本时为 0。
func (w WinRateStats) Rate() float64 {
	settled := w.Wins + w.Losses
	if settled == 0 {
		return 0
	}
	return float64(w.Wins) / float64(settled)
}
