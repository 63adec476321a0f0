package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/d60-Lab/skyframe/pkg/response"
)

const (
	HeaderUserID = "X-User-ID"
	ctxUserID    = "user_id"
)

// IdentityOptions 控制身份解析方式。Secret 为空时不校验 JWT；
// AllowHeader 仅用于非 release 模式的调试。
type IdentityOptions struct {
	Secret      string
	Issuer      string
	AllowHeader bool
}

// Identity 解析可选的用户身份，缺省为匿名用户（不写入 user_id）。
// 携带了无效凭证时返回 401。
func Identity(opts IdentityOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth := c.GetHeader("Authorization"); auth != "" && opts.Secret != "" {
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok {
				response.Unauthorized(c, "invalid authorization header")
				return
			}
			uid, err := ParseToken(token, opts.Secret, opts.Issuer)
			if err != nil {
				response.Unauthorized(c, "invalid token")
				return
			}
			c.Set(ctxUserID, uid)
		} else if raw := c.GetHeader(HeaderUserID); raw != "" && opts.AllowHeader {
			uid, err := strconv.ParseUint(raw, 10, 64)
			if err != nil || uid == 0 {
				response.Unauthorized(c, "invalid "+HeaderUserID)
				return
			}
			c.Set(ctxUserID, uid)
		}
		c.Next()
	}
}

// RequireUser 拒绝匿名请求
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := UserID(c); !ok {
			response.Unauthorized(c, "login required")
			return
		}
		c.Next()
	}
}

// UserID 返回当前用户 ID；匿名时 ok 为 false
func UserID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return 0, false
	}
	uid, ok := v.(uint64)
	return uid, ok && uid != 0
}

// IssueToken 签发 HS256 token，subject 为用户 ID
func IssueToken(userID uint64, secret, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(userID, 10),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseToken(token, secret, issuer string) (uint64, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...); err != nil {
		return 0, err
	}
	uid, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || uid == 0 {
		return 0, errors.New("invalid subject")
	}
	return uid, nil
}
