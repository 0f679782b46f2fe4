package license

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const hwidSalt = "QX-PRO-HARDWARE-GUARDIAN-SECURE-ID-2026"

// HWID 将客户端上报的原始设备指纹归一化为稳定的展示 ID。
// 取 sha256(raw+salt) 十六进制串的三段切片拼接，保证同一设备恒定。
func HWID(rawDevice string) string {
	raw := strings.TrimSpace(rawDevice)
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(raw + hwidSalt))
	digest := hex.EncodeToString(sum[:])
	return fmt.Sprintf("QX-ID-%s%s%s", digest[0:4], digest[8:12], digest[24:28])
}
