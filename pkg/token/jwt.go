// Package token 提供了用于签发和验证 JSON Web Tokens (JWT) 的功能。
// 身份由外部认证服务签发，本服务只校验签名并读取用户 ID。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken 表示 token 无法通过校验或不含用户 ID。
var ErrInvalidToken = errors.New("invalid token")

// JWTManager 负责管理 JWT 的签发和验证。
type JWTManager struct {
	secretKey []byte
	issuer    string
}

// CustomClaims 定义了 JWT 中的自定义数据。UserID 为空时使用标准的 sub 声明。
type CustomClaims struct {
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// Owner 返回 token 代表的用户 ID。
func (c *CustomClaims) Owner() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// NewJWTManager 创建一个新的 JWTManager 实例。issuer 为空时不校验 iss。
func NewJWTManager(secret, issuer string) *JWTManager {
	return &JWTManager{secretKey: []byte(secret), issuer: issuer}
}

// GenerateToken 为 userID 签发一个有效期为 ttl 的 token，用于本地开发和测试。
func (m *JWTManager) GenerateToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// VerifyToken 验证给定的 token 字符串，并返回其中的 claims。
func (m *JWTManager) VerifyToken(tokenString string) (*CustomClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()})}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.Owner() == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
