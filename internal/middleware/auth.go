// Package middleware содержит HTTP middleware сервиса вознаграждений.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const accountIDKey contextKey = "accountID"

const (
	sessionCookieName = "adrewards_session"
	sessionTTL        = 30 * 24 * time.Hour
	bearerPrefix      = "Bearer "
)

// AuthMiddleware проверяет подписанный токен сессии из cookie или заголовка Authorization.
type AuthMiddleware struct {
	secretKey []byte
	nowFn     func() time.Time
}

// NewAuthMiddleware создаёт AuthMiddleware. При пустом секрете генерируется случайный ключ,
// и выданные токены перестают действовать после перезапуска.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("generate session key: %v", err))
		}
	}

	return &AuthMiddleware{
		secretKey: key,
		nowFn:     time.Now,
	}
}

// Middleware отклоняет запросы без действительного токена и кладёт идентификатор учётной записи в контекст.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accountID, ok := a.parseToken(tokenFromRequest(r))
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), accountIDKey, accountID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IssueToken выдаёт токен сессии: устанавливает cookie и заголовок Authorization.
func (a *AuthMiddleware) IssueToken(w http.ResponseWriter, accountID int64) string {
	expires := a.nowFn().Add(sessionTTL)
	token := a.sign(strconv.FormatInt(accountID, 10) + "." + strconv.FormatInt(expires.Unix(), 10))

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set("Authorization", bearerPrefix+token)

	return token
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimPrefix(h, bearerPrefix)
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

func (a *AuthMiddleware) sign(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return payload + "." + hex.EncodeToString(mac.Sum(nil))
}

// parseToken проверяет формат "<accountID>.<expiresUnix>.<hmac>".
func (a *AuthMiddleware) parseToken(token string) (int64, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return 0, false
	}

	expected := a.sign(parts[0] + "." + parts[1])
	if !hmac.Equal([]byte(token), []byte(expected)) {
		return 0, false
	}

	expires, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || a.nowFn().Unix() >= expires {
		return 0, false
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}

// AccountIDFromContext извлекает идентификатор учётной записи из контекста запроса.
func AccountIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(accountIDKey).(int64)
	return id, ok
}
