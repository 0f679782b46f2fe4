package license

import (
	"context"
	"strings"
	"time"

	"quantx/internal/logger"
	storemodel "quantx/internal/store/model"
)

// Store 是许可服务依赖的持久层能力。
type Store interface {
	GetLicense(ctx context.Context, key string) (*storemodel.License, error)
	FindLicenseByDevice(ctx context.Context, device string) (*storemodel.License, error)
	ActivateLicense(ctx context.Context, key, device, ip, userAgent string, now time.Time) (bool, error)
	TouchLicense(ctx context.Context, key string, now time.Time) error
}

// Meta 携带激活请求的客户端上下文。
type Meta struct {
	IP        string
	UserAgent string
	Timezone  string
}

// ActivationResult 是激活/续用的汇总结果。
type ActivationResult struct {
	Granted bool
	Kind    Kind
	License storemodel.License
}

// Service 实现许可校验与设备绑定。校验通过的快照进入 TTL 缓存，
// 缓存命中时直接基于快照做策略判断，不再访问数据库。
type Service struct {
	store   Store
	cache   *accessCache
	isOwner func(category string) bool
	nowFn   func() time.Time
}

func NewService(store Store, cacheTTL time.Duration, isOwner func(string) bool) *Service {
	return &Service{
		store:   store,
		cache:   newAccessCache(cacheTTL),
		isOwner: isOwner,
		nowFn:   time.Now,
	}
}

// SetNowFunc 注入时钟，仅用于测试。
func (s *Service) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

func canonicalKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// Verify 校验 key+device 是否可用。任何意外故障都折叠为拒绝，绝不放行。
func (s *Service) Verify(ctx context.Context, key, device string) (granted bool, kind Kind) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("license verify panic: %v", r)
			granted, kind = false, KindValidationException
		}
	}()
	key = canonicalKey(key)
	device = strings.TrimSpace(device)
	if key == "" || device == "" {
		return false, KindMissingCredentials
	}
	now := s.nowFn()
	ck := accessKey(key, device)
	if lic, ok := s.cache.get(ck, now); ok {
		k := s.evaluate(lic, device, now)
		if k != KindOK {
			s.cache.invalidate(ck)
		}
		return k == KindOK, k
	}
	lic, err := s.store.GetLicense(ctx, key)
	if err != nil {
		logger.Errorf("license lookup failed key=%s: %v", key, err)
		return false, KindDatabaseError
	}
	if lic == nil {
		return false, KindInvalidKey
	}
	k := s.evaluate(*lic, device, now)
	if k != KindOK {
		return false, k
	}
	s.cache.put(ck, *lic, now)
	s.cache.put(deviceKey(device), *lic, now)
	return true, KindOK
}

// Lookup 按设备查询可用许可，供 device_sync 使用。只读，不做激活。
func (s *Service) Lookup(ctx context.Context, device string) (*storemodel.License, Kind) {
	device = strings.TrimSpace(device)
	if device == "" {
		return nil, KindMissingCredentials
	}
	now := s.nowFn()
	dk := deviceKey(device)
	if lic, ok := s.cache.get(dk, now); ok {
		if k := s.evaluate(lic, device, now); k == KindOK {
			return &lic, KindOK
		}
		s.cache.invalidate(dk)
	}
	lic, err := s.store.FindLicenseByDevice(ctx, device)
	if err != nil {
		logger.Errorf("license device lookup failed: %v", err)
		return nil, KindDatabaseError
	}
	if lic == nil {
		return nil, KindInvalidKey
	}
	k := s.evaluate(*lic, device, now)
	if k != KindOK {
		return nil, k
	}
	s.cache.put(dk, *lic, now)
	s.cache.put(accessKey(lic.Key, device), *lic, now)
	return lic, KindOK
}

// ActivateOrTouch 完成首次绑定或续用。首次绑定用条件 UPDATE 做
// compare-and-swap，并发竞争时重读确认归属；重复调用幂等。
func (s *Service) ActivateOrTouch(ctx context.Context, key, device string, meta Meta) (ActivationResult, error) {
	key = canonicalKey(key)
	device = strings.TrimSpace(device)
	if key == "" || device == "" {
		return denied(KindMissingCredentials), nil
	}
	now := s.nowFn()
	lic, err := s.store.GetLicense(ctx, key)
	if err != nil {
		return denied(KindDatabaseError), err
	}
	if lic == nil {
		return denied(KindInvalidKey), nil
	}
	owner := s.ownerCategory(lic.Category)
	if lic.Status == storemodel.LicenseStatusBlocked {
		return denied(KindLicenseBlocked), nil
	}
	if lic.Expired(now) {
		return denied(KindLicenseExpired), nil
	}
	switch {
	case lic.Bound() && lic.DeviceID == device:
		if err := s.store.TouchLicense(ctx, key, now); err != nil {
			logger.Warnf("license touch failed key=%s: %v", key, err)
		}
	case lic.Bound() && owner:
		// OWNER 类别豁免设备绑定，不改写归属。
		if err := s.store.TouchLicense(ctx, key, now); err != nil {
			logger.Warnf("license touch failed key=%s: %v", key, err)
		}
	case lic.Bound():
		return denied(KindDeviceMismatch), nil
	default:
		ok, err := s.store.ActivateLicense(ctx, key, device, meta.IP, meta.UserAgent, now)
		if err != nil {
			return denied(KindDatabaseError), err
		}
		if !ok {
			// 并发首次激活：有人先赢了，重读确认归属。
			cur, err := s.store.GetLicense(ctx, key)
			if err != nil {
				return denied(KindDatabaseError), err
			}
			if cur == nil {
				return denied(KindInvalidKey), nil
			}
			if cur.DeviceID != device && !owner {
				return denied(KindDeviceMismatch), nil
			}
			lic = cur
		} else {
			lic.Status = storemodel.LicenseStatusActive
			lic.DeviceID = device
			lic.IPAddress = meta.IP
			lic.UserAgent = meta.UserAgent
			if lic.ActivatedAt == nil {
				activated := now
				lic.ActivatedAt = &activated
			}
		}
	}
	lic.LastAccess = now
	s.cache.put(accessKey(key, device), *lic, now)
	s.cache.put(deviceKey(device), *lic, now)
	return ActivationResult{Granted: true, Kind: KindOK, License: *lic}, nil
}

func (s *Service) ownerCategory(category string) bool {
	return s.isOwner != nil && s.isOwner(category)
}

// evaluate 在许可快照上执行策略判断。
func (s *Service) evaluate(lic storemodel.License, device string, now time.Time) Kind {
	owner := s.ownerCategory(lic.Category)
	switch {
	case lic.Status == storemodel.LicenseStatusBlocked:
		return KindLicenseBlocked
	case lic.Status == storemodel.LicenseStatusPending && !owner:
		return KindLicenseNotActivated
	case lic.Expired(now):
		return KindLicenseExpired
	case lic.Bound() && lic.DeviceID != device && !owner:
		return KindDeviceMismatch
	}
	return KindOK
}

func denied(kind Kind) ActivationResult {
	return ActivationResult{Granted: false, Kind: kind}
}
