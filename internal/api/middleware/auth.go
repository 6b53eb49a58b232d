// auth.go — JWT middleware аутентификации Access Module.
// Извлекает claims из JWT IdP, нормализует строковую роль ровно один раз
// на границе системы (rbac.Normalize), применяет локальную роль из БД
// и проверяет, что учётная запись не отключена.
// Валидация подписи — через JWKS IdP (RS256).
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/securefileshare/access-module/internal/api/errors"
	"github.com/securefileshare/access-module/internal/domain/model"
	"github.com/securefileshare/access-module/internal/domain/rbac"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyPrincipal — аутентифицированный принципал в контексте запроса.
	ContextKeyPrincipal contextKey = "principal"
	// ContextKeyOrigin — сетевое происхождение запроса.
	ContextKeyOrigin contextKey = "origin"
)

// Principal — аутентифицированный субъект запроса.
// Role уже нормализована; дальше по коду сравниваются только значения rbac.Role.
type Principal struct {
	// UserID — sub из JWT.
	UserID string
	// Username — preferred_username из JWT.
	Username string
	// Email — email из JWT.
	Email string
	// Role — эффективная роль: локальная из БД, если запись есть,
	// иначе нормализованная роль из токена.
	Role rbac.Role
}

// Actor возвращает принципала в виде актора журнала аудита.
func (p *Principal) Actor() model.Actor {
	return model.Actor{UserID: p.UserID, Username: p.Username, Role: p.Role}
}

// UserSource — источник локальных учётных записей.
// Реализуется repository.UserRepository; может быть nil,
// тогда роль берётся только из токена.
type UserSource interface {
	// GetByID возвращает пользователя или repository.ErrNotFound.
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// idpClaims — raw claims из JWT IdP для парсинга.
type idpClaims struct {
	jwt.RegisteredClaims
	// PreferredUsername — имя пользователя.
	PreferredUsername string `json:"preferred_username"`
	// Email — электронная почта.
	Email string `json:"email"`
	// RealmAccess — вложенная структура для realm_access.roles.
	RealmAccess *realmAccess `json:"realm_access,omitempty"`
	// Role — плоский claim роли (исторический формат токенов).
	Role string `json:"role,omitempty"`
}

// realmAccess — вложенная структура realm_access в JWT IdP.
type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth — middleware для JWT-аутентификации через JWKS IdP.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	logger    *slog.Logger
	users     UserSource
	issuer    string
	jwtLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS из IdP.
// jwksURL — URL к JWKS endpoint IdP.
// caCertPath — опциональный путь к CA-сертификату для TLS.
// issuer — ожидаемый issuer JWT.
// users — источник локальных учётных записей (может быть nil).
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	users UserSource,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	// HTTP-клиент для JWKS (с кастомным CA или стандартный)
	httpClient := http.DefaultClient
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, jwksClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:      k,
		logger:    logger.With(slog.String("component", "jwt_auth")),
		users:     users,
		issuer:    issuer,
		jwtLeeway: jwtLeeway,
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	users UserSource,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		jwks:   kf,
		logger: logger.With(slog.String("component", "jwt_auth")),
		users:  users,
		issuer: issuer,
	}
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (RS256), строит принципала
// и помещает его вместе с origin в контекст запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Извлекаем Bearer token
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			// Парсинг и валидация JWT через JWKS
			rawClaims := &idpClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			subject, err := rawClaims.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			principal, err := j.buildPrincipal(r.Context(), subject, rawClaims)
			if err != nil {
				apierrors.Unauthorized(w, err.Error())
				return
			}

			noteAuthenticated(r.Context(), principal.Username, string(principal.Role))

			ctx := context.WithValue(r.Context(), ContextKeyPrincipal, principal)
			ctx = context.WithValue(ctx, ContextKeyOrigin, originFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildPrincipal строит принципала из claims, применяя локальную
// учётную запись: роль из БД замещает роль токена, отключённая
// запись отвергается.
func (j *JWTAuth) buildPrincipal(ctx context.Context, subject string, raw *idpClaims) (*Principal, error) {
	p := &Principal{
		UserID:   subject,
		Username: raw.PreferredUsername,
		Email:    raw.Email,
		Role:     roleFromClaims(raw),
	}

	if j.users != nil {
		u, err := j.users.GetByID(ctx, subject)
		switch {
		case err == nil:
			if !u.Active {
				return nil, fmt.Errorf("учётная запись %s отключена", u.Username)
			}
			p.Role = u.Role
			if p.Username == "" {
				p.Username = u.Username
			}
		default:
			// Записи нет или БД недоступна: остаёмся на роли из токена.
			j.logger.Debug("Локальная учётная запись не применена",
				slog.String("user_id", subject),
				slog.String("error", err.Error()),
			)
		}
	}
	return p, nil
}

// roleFromClaims выбирает роль из токена: сперва плоский claim "role",
// затем realm_access.roles. AUDITOR как ограничительная роль побеждает
// любую другую независимо от порядка в claims.
// Нормализация убирает legacy-префикс "ROLE_".
func roleFromClaims(raw *idpClaims) rbac.Role {
	if raw.Role != "" {
		return rbac.Normalize(raw.Role)
	}
	if raw.RealmAccess != nil {
		best := rbac.RoleUser
		for _, r := range raw.RealmAccess.Roles {
			candidate := rbac.Normalize(r)
			if candidate == rbac.RoleAuditor {
				return rbac.RoleAuditor
			}
			if rbac.Outranks(candidate, best) {
				best = candidate
			}
		}
		return best
	}
	return rbac.RoleUser
}

// originFromRequest извлекает сетевое происхождение запроса.
// X-Forwarded-For учитывается первым: модуль работает за gateway.
func originFromRequest(r *http.Request) model.Origin {
	ip := r.Header.Get("X-Forwarded-For")
	if ip != "" {
		// Берём первый адрес цепочки.
		if idx := strings.IndexByte(ip, ','); idx > 0 {
			ip = ip[:idx]
		}
		ip = strings.TrimSpace(ip)
	} else {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip = host
	}
	return model.Origin{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}

// --- RBAC middleware helpers ---

// RequireRole возвращает middleware, требующий одну из указанных ролей.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireRole(roles ...rbac.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				apierrors.Unauthorized(w, "Отсутствует принципал в контексте")
				return
			}
			for _, role := range roles {
				if p.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			apierrors.Forbidden(w, "Недостаточно прав для операции")
		})
	}
}

// RequirePermission возвращает middleware, требующий разрешение
// в пакете роли принципала.
func RequirePermission(perm rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				apierrors.Unauthorized(w, "Отсутствует принципал в контексте")
				return
			}
			if !rbac.HasPermission(p.Role, perm) {
				apierrors.Forbidden(w, fmt.Sprintf("Требуется разрешение %s", perm))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Context helpers ---

// PrincipalFromContext извлекает принципала из контекста запроса.
// Возвращает nil, если принципал не найден.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(ContextKeyPrincipal).(*Principal)
	return p
}

// OriginFromContext извлекает происхождение запроса из контекста.
func OriginFromContext(ctx context.Context) model.Origin {
	o, _ := ctx.Value(ContextKeyOrigin).(model.Origin)
	return o
}

// --- ReadinessChecker для IdP ---

// IDPReadinessChecker — проверка доступности IdP через JWKS.
type IDPReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewIDPReadinessChecker создаёт checker доступности IdP.
func NewIDPReadinessChecker(jwksURL, caCertPath string, readinessTimeout time.Duration) (*IDPReadinessChecker, error) {
	client := &http.Client{Timeout: readinessTimeout}
	if caCertPath != "" {
		var err error
		client, err = httpClientWithCA(caCertPath, readinessTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA для readiness checker: %w", err)
		}
	}

	return &IDPReadinessChecker{
		jwksURL: jwksURL,
		client:  client,
	}, nil
}

const statusFail = "fail"

// CheckReady проверяет доступность JWKS endpoint IdP.
func (k *IDPReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return statusFail, fmt.Sprintf("IdP JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("IdP JWKS вернул статус %d", resp.StatusCode)
	}
	return "ok", "JWKS доступен"
}

// Close освобождает ресурсы JWT middleware.
func (j *JWTAuth) Close() {
	// keyfunc v3 не требует явного закрытия
}
