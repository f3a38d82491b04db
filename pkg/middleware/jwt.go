package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// 認証済みユーザーのログイン名をリクエストに伝播するために使用する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// UserLogin は認証済みユーザーのログイン名。大文字小文字は区別しない。
	UserLogin string `json:"user_login"`
}

// headerKeyUserLogin は下流へユーザーログイン名を伝播するためのHTTPヘッダーキー。
const headerKeyUserLogin = "X-User-Login"

// ctxKeyUserLogin はrequest contextにユーザーログイン名を格納するためのキー。
type ctxKeyUserLogin struct{}

// WithUserLogin はユーザーログイン名を格納したコンテキストを返す。
func WithUserLogin(ctx context.Context, login string) context.Context {
	return context.WithValue(ctx, ctxKeyUserLogin{}, login)
}

// UserLoginFromContext はコンテキストからユーザーログイン名を取得する。
// 未認証の場合は第2戻り値がfalseになる。
func UserLoginFromContext(ctx context.Context) (string, bool) {
	login, ok := ctx.Value(ctxKeyUserLogin{}).(string)
	if !ok || login == "" {
		return "", false
	}
	return login, true
}

// GenerateJWT はユーザーログイン名からJWTトークンを生成する。
// 認証基盤がログイン成功後に呼び出す。テストでのトークン発行にも使用する。
func GenerateJWT(secret, userLogin string) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "resanotify",
		},
		UserLogin: userLogin,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// 検証に成功した場合、Ginコンテキストとrequest contextの両方に
// ユーザーログイン名を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorizationヘッダーが必要です",
			})
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer トークン形式が不正です",
			})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		c.Set("user_login", claims.UserLogin)
		c.Request = c.Request.WithContext(WithUserLogin(c.Request.Context(), claims.UserLogin))
		c.Header(headerKeyUserLogin, claims.UserLogin)
		c.Next()
	}
}

// GetUserLogin はGinコンテキストからユーザーログイン名を取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUserLogin(c *gin.Context) string {
	login, _ := c.Get("user_login")
	if l, ok := login.(string); ok {
		return l
	}
	return ""
}
