package qxhttp

// 对外错误码（/predict）。
const (
	errUnauthorized   = "UNAUTHORIZED"
	errServerBusy     = "SERVER_BUSY"
	errWSDisconnected = "WS_DISCONNECTED"
	errRateLimited    = "RATE_LIMITED"
	errMarketClosed   = "MARKET_CLOSED"
)

type authorizeRequest struct {
	Key      string `json:"key"`
	DeviceID string `json:"device_id"`
	Timezone string `json:"timezone"`
	Screen   string `json:"screen"`
}

type deviceSyncRequest struct {
	DeviceID string `json:"device_id"`
}

type authorizeResponse struct {
	Granted  bool   `json:"granted"`
	Key      string `json:"key,omitempty"`
	Category string `json:"category,omitempty"`
	HWID     string `json:"hwid,omitempty"`
	Expiry   string `json:"expiry,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
}

type predictRequest struct {
	LicenseKey string `json:"license_key"`
	DeviceID   string `json:"device_id"`
	Broker     string `json:"broker"`
	Market     string `json:"market"`
	Timeframe  int    `json:"timeframe"` // 单位分钟
	Timezone   string `json:"timezone"`
	Source     string `json:"source"`
}

type predictResponse struct {
	Direction  string `json:"direction"`
	Confidence int    `json:"confidence"`
	EntryTime  string `json:"entry_time"`
	TimeZone   string `json:"time_zone"`
	Broker     string `json:"broker"`
	Market     string `json:"market"`
	Strategy   string `json:"strategy"`
	SignalID   string `json:"signal_id"`
}

type trackOutcomeRequest struct {
	SignalID string `json:"signal_id"`
	Outcome  string `json:"outcome"`
}
