package model

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformedKey 表示对象键无法解析出 (ownerId, uploadId)。
var ErrMalformedKey = errors.New("malformed object key")

// 对象键语法 (解码后):
//
//	key      = ownerId "/" uploadId "-" name
//	ownerId  = 1*(任意非 "/" 字符)
//	uploadId = 36 位小写规范 UUID (8-4-4-4-12)
//	name     = 1*(任意非 "/" 字符)
//
// 触发器只能从对象键得到身份信息，通知里没有任何认证上下文。
const uuidLen = 36

// ValidOwnerID 报告 ownerID 能否作为对象键的第一段。
func ValidOwnerID(ownerID string) bool {
	return ownerID != "" && !strings.Contains(ownerID, "/")
}

// BuildObjectKey 拼接对象键。name 必须已经去掉路径分隔符，ownerID 须满足 ValidOwnerID。
func BuildObjectKey(ownerID, uploadID, name string) string {
	return ownerID + "/" + uploadID + "-" + name
}

// DecodeEventKey 还原 S3 事件中 URL 编码的对象键，"+" 解码为空格。
func DecodeEventKey(raw string) (string, error) {
	key, err := url.QueryUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrMalformedKey, raw, err)
	}
	return key, nil
}

// ParseObjectKey 从解码后的对象键中取出 ownerId 和 uploadId。
func ParseObjectKey(key string) (ownerID, uploadID string, err error) {
	parts := strings.Split(key, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: %q: want exactly 2 path segments, got %d", ErrMalformedKey, key, len(parts))
	}
	ownerID, rest := parts[0], parts[1]
	if ownerID == "" {
		return "", "", fmt.Errorf("%w: %q: empty owner", ErrMalformedKey, key)
	}
	if len(rest) < uuidLen+2 || rest[uuidLen] != '-' {
		return "", "", fmt.Errorf("%w: %q: want <uuid>-<name>", ErrMalformedKey, key)
	}
	uploadID = rest[:uuidLen]
	parsed, perr := uuid.Parse(uploadID)
	if perr != nil || parsed.String() != uploadID {
		return "", "", fmt.Errorf("%w: %q: invalid upload id", ErrMalformedKey, key)
	}
	return ownerID, uploadID, nil
}
