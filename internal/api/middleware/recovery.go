package middleware

import (
	"log"
	"net/http"
	"runtime/debug"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Перехватывает panic в HTTP handlers и предотвращает падение всего
// сервера. Логирует сообщение и stack trace, клиенту возвращает 500.
// Торговые горутины работают в своих процессах и от паники в API
// не страдают, но сам HTTP сервер обязан пережить любой запрос.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[api] PANIC %s %s: %v", r.Method, r.URL.Path, err)
				log.Printf("[api] stack trace:\n%s", debug.Stack())

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
