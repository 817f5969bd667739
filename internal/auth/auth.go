// Package auth сопоставляет bearer-токен с ролью сотрудника.
// Выдача токенов и сессии находятся за пределами сервиса: токены задаются конфигурацией.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Роли.
const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

var (
	// ErrUnauthenticated — токен отсутствует или неизвестен.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden — у субъекта нет нужной роли.
	ErrForbidden = errors.New("forbidden")
)

// Principal — аутентифицированный субъект.
type Principal struct {
	Subject string
	Role    string
}

// Authenticator проверяет токен.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

type tokenEntry struct {
	token     []byte
	principal Principal
}

// StaticTokens — таблица токенов из конфигурации.
type StaticTokens struct {
	entries []tokenEntry
}

// NewStaticTokens строит таблицу из map token → Principal.
func NewStaticTokens(tokens map[string]Principal) *StaticTokens {
	s := &StaticTokens{}
	for token, p := range tokens {
		if strings.TrimSpace(token) == "" {
			continue
		}
		s.entries = append(s.entries, tokenEntry{token: []byte(token), principal: p})
	}
	return s
}

// ParseTokens разбирает строку вида "token:subject:role,token2:subject2:role2".
func ParseTokens(raw string) (map[string]Principal, error) {
	out := make(map[string]Principal)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("invalid token entry %q: want token:subject:role", item)
		}
		out[parts[0]] = Principal{Subject: parts[1], Role: parts[2]}
	}
	return out, nil
}

// Authenticate сравнивает токен со всеми записями за постоянное время.
func (s *StaticTokens) Authenticate(ctx context.Context, token string) (Principal, error) {
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	if token == "" {
		return Principal{}, ErrUnauthenticated
	}
	var (
		found Principal
		ok    bool
	)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(e.token, []byte(token)) == 1 {
			found, ok = e.principal, true
		}
	}
	if !ok {
		return Principal{}, ErrUnauthenticated
	}
	return found, nil
}

type principalKey struct{}

// WithPrincipal кладёт субъекта в контекст.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext достаёт субъекта из контекста.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// BearerToken извлекает токен из заголовка Authorization.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// RequireRole — chi-совместимый middleware: пропускает только субъектов с ролью role.
// onError пишет ответ об ошибке (401 или 403).
func RequireRole(authn Authenticator, role string, onError func(w http.ResponseWriter, status int, err error)) func(http.Handler) http.Handler {
	logger := log.WithField("component", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := authn.Authenticate(r.Context(), BearerToken(r))
			if err != nil {
				logger.WithField("path", r.URL.Path).Debug("rejected unauthenticated request")
				onError(w, http.StatusUnauthorized, ErrUnauthenticated)
				return
			}
			if p.Role != role {
				logger.WithFields(log.Fields{"subject": p.Subject, "role": p.Role}).Warn("role check failed")
				onError(w, http.StatusForbidden, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
