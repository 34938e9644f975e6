package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewRequestID 生成请求ID
func NewRequestID() string {
	return uuid.NewString()
}

// ValidRequestID 客户端传入的请求ID须为合法 UUID
func ValidRequestID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
