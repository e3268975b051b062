package middleware

import (
	"crypto/subtle"
	"net/http"
	"os"
	"strings"

	"algotrade/pkg/crypto"
)

// serviceTokenHash - bcrypt-хеш статического токена сервиса из
// SERVICE_TOKEN_HASH. Пустое значение выключает проверку (локальное
// развертывание за доверенным reverse proxy).
var serviceTokenHash = os.Getenv("SERVICE_TOKEN_HASH")

// ServiceToken - шлюзовая проверка статического токена сервиса
//
// Это не аутентификация пользователей: идентификация владельца счёта
// живёт во внешней системе, сервис доверяет параметру owner маршрута.
// Токен лишь закрывает API от случайного сетевого доступа.
//
// Ожидает заголовок Authorization: Bearer <token> и сверяет его с
// bcrypt-хешем из окружения.
func ServiceToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if serviceTokenHash == "" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || crypto.VerifySecret(token, serviceTokenHash) != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// debugUsername и debugPassword защищают debug endpoints.
// Загружаются из переменных окружения DEBUG_USERNAME и DEBUG_PASSWORD.
// Если не установлены, в production debug endpoints недоступны.
var (
	debugUsername = os.Getenv("DEBUG_USERNAME")
	debugPassword = os.Getenv("DEBUG_PASSWORD")
)

// DebugAuth - middleware для защиты debug/pprof endpoints
//
// HTTP Basic Authentication с constant-time сравнением. Аутентификация
// пользователей API сюда не относится: идентификация владельца счёта
// живёт во внешней системе, сервис доверяет параметру owner маршрута.
//
// Использование:
//
//	debug := router.PathPrefix("/debug").Subrouter()
//	debug.Use(middleware.DebugAuth)
func DebugAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if debugUsername == "" || debugPassword == "" {
			// В development (если явно не настроено) разрешаем доступ
			if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Debug endpoints disabled. Set DEBUG_USERNAME and DEBUG_PASSWORD.", http.StatusForbidden)
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		// Constant-time сравнение против timing attacks
		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(debugUsername)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(debugPassword)) == 1

		if !userMatch || !passMatch {
			w.Header().Set("WWW-Authenticate", `Basic realm="Debug endpoints"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
