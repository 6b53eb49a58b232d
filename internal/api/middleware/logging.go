// logging.go — middleware логирования входящих HTTP-запросов через slog.
// Строка лога собирает метод, путь, статус, длительность, размер ответа
// и сетевое происхождение (первый hop X-Forwarded-For: модуль работает
// за gateway). Аутентифицированного принципала дописывает JWT middleware
// через noteAuthenticated, поэтому и отказы 401 остаются в логе.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type logStateKey struct{}

// requestLogState — атрибуты, которые внутренние middleware дописывают
// к итоговой строке лога запроса.
type requestLogState struct {
	username string
	role     string
}

// noteAuthenticated привязывает принципала к строке лога текущего
// запроса. Вне цепочки RequestLogger — no-op.
func noteAuthenticated(ctx context.Context, username, role string) {
	if st, ok := ctx.Value(logStateKey{}).(*requestLogState); ok {
		st.username = username
		st.role = role
	}
}

// statusWriter — обёртка ResponseWriter, запоминающая статус и объём ответа.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Unwrap открывает оригинальный ResponseWriter для http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// RequestLogger возвращает middleware, логирующий каждый HTTP-запрос.
// Уровень зависит от статуса: INFO (1xx-3xx), WARN (4xx), ERROR (5xx).
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			st := &requestLogState{}
			r = r.WithContext(context.WithValue(r.Context(), logStateKey{}, st))
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			level := slog.LevelInfo
			switch {
			case sw.status >= 500:
				level = slog.LevelError
			case sw.status >= 400:
				level = slog.LevelWarn
			}

			origin := originFromRequest(r)
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", sw.bytes),
				slog.String("client_ip", origin.IPAddress),
				slog.String("user_agent", origin.UserAgent),
			}
			if st.username != "" {
				attrs = append(attrs,
					slog.String("username", st.username),
					slog.String("role", st.role),
				)
			}
			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}
