package license

// Kind 是许可校验的结果分类，直接作为 HTTP 响应里的机器码。
type Kind string

const (
	KindOK                  Kind = "OK"
	KindMissingCredentials  Kind = "MISSING_CREDENTIALS"
	KindInvalidKey          Kind = "INVALID_KEY"
	KindLicenseBlocked      Kind = "LICENSE_BLOCKED"
	KindLicenseNotActivated Kind = "LICENSE_NOT_ACTIVATED"
	KindLicenseExpired      Kind = "LICENSE_EXPIRED"
	KindDeviceMismatch      Kind = "DEVICE_MISMATCH"
	KindDatabaseError       Kind = "DATABASE_ERROR"
	KindValidationException Kind = "VALIDATION_EXCEPTION"
)

// Message 返回面向客户端的提示语。
func (k Kind) Message() string {
	switch k {
	case KindOK:
		return "authorized"
	case KindMissingCredentials:
		return "key and device_id are required"
	case KindInvalidKey:
		return "license key not found"
	case KindLicenseBlocked:
		return "license has been blocked"
	case KindLicenseNotActivated:
		return "license is not activated"
	case KindLicenseExpired:
		return "license has expired"
	case KindDeviceMismatch:
		return "license is bound to another device"
	case KindDatabaseError:
		return "database temporarily unavailable"
	case KindValidationException:
		return "verification failed"
	default:
		return "verification failed"
	}
}

// Retryable 区分基础设施故障（可重试）与策略拒绝（不可重试）。
func (k Kind) Retryable() bool {
	return k == KindDatabaseError || k == KindValidationException
}
