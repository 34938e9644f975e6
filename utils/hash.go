package utils

import (
	"crypto/md5"
	"encoding/hex"
)

// Digest 原始图像字节的MD5，作为结果缓存键
func Digest(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
