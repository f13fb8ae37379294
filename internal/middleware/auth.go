package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ndmitriev/storefront-system/internal/model"
)

type contextKey string

const (
	userKey        contextKey = "user"
	resetClaimsKey contextKey = "resetClaims"
)

const (
	authCookieName = "jwt"
	authCookieTTL  = 30 * 24 * time.Hour
	resetTokenTTL  = 15 * time.Minute
)

type resetClaims struct {
	email       string
	fingerprint string
}

// UserProvider загружает пользователя по идентификатору из токена.
type UserProvider interface {
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

// AuthMiddleware выполняет аутентификацию по JWT в httpOnly cookie
// и авторизацию административных маршрутов.
type AuthMiddleware struct {
	secretKey []byte
	users     UserProvider
}

// NewAuthMiddleware создаёт AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string, users UserProvider) *AuthMiddleware {
	return &AuthMiddleware{
		secretKey: []byte(secret),
		users:     users,
	}
}

// Middleware проверяет токен авторизации и помещает пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			jsonError(w, "not authorized, token missing", http.StatusUnauthorized)
			return
		}

		userID, err := a.parseSubject(cookie.Value)
		if err != nil {
			jsonError(w, "not authorized, token failed", http.StatusUnauthorized)
			return
		}

		id, err := strconv.ParseInt(userID, 10, 64)
		if err != nil {
			jsonError(w, "not authorized, token failed", http.StatusUnauthorized)
			return
		}

		user, err := a.users.GetUserByID(r.Context(), id)
		if err != nil {
			jsonError(w, "not authorized, token failed", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminOnly пропускает только администраторов. Применяется после Middleware.
func (a *AuthMiddleware) AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := GetUserFromContext(r.Context())
		if !ok {
			jsonError(w, "not authorized, token missing", http.StatusUnauthorized)
			return
		}
		if !user.IsAdmin {
			jsonError(w, "not authorized as an admin", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ResetMiddleware проверяет токен сброса пароля из параметра запроса и
// помещает его утверждения в контекст. Токен приходит только из письма:
// сам запрос forgot-password никаких учётных данных не выдаёт.
func (a *AuthMiddleware) ResetMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			jsonError(w, "not authorized, no reset token", http.StatusUnauthorized)
			return
		}

		claims, err := a.parseResetClaims(token)
		if err != nil {
			jsonError(w, "not authorized, reset token failed", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), resetClaimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанного пользователя.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, userID int64) error {
	token, err := a.sign(strconv.FormatInt(userID, 10), "", authCookieTTL)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	return nil
}

// ClearAuthCookie сбрасывает cookie авторизации.
func (a *AuthMiddleware) ClearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

// ResetToken возвращает подписанный токен сброса пароля для ссылки в письме.
// fingerprint привязывает токен к текущему хэшу пароля: после смены пароля
// токен перестаёт проходить проверку.
func (a *AuthMiddleware) ResetToken(email, fingerprint string) (string, error) {
	return a.sign(email, fingerprint, resetTokenTTL)
}

func (a *AuthMiddleware) sign(subject, id string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        id,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

func (a *AuthMiddleware) parseSubject(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("invalid token claims")
	}

	return claims.Subject, nil
}

// parseResetClaims принимает только токены сброса: у них обязательно
// заполнен fingerprint, поэтому cookie авторизации здесь не проходит.
func (a *AuthMiddleware) parseResetClaims(tokenString string) (resetClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil {
		return resetClaims{}, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" || claims.ID == "" {
		return resetClaims{}, errors.New("invalid reset token claims")
	}

	return resetClaims{email: claims.Subject, fingerprint: claims.ID}, nil
}

// GetUserFromContext извлекает пользователя из контекста запроса.
func GetUserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userKey).(*model.User)
	return user, ok
}

// GetResetClaimsFromContext извлекает email и отпечаток пароля из токена
// сброса.
func GetResetClaimsFromContext(ctx context.Context) (email, fingerprint string, ok bool) {
	claims, ok := ctx.Value(resetClaimsKey).(resetClaims)
	return claims.email, claims.fingerprint, ok
}

func jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":%q}`, message)
}
