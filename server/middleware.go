package server

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"runbridge/observability"
)

// observe wraps a route with tracing, request metrics and structured access
// logs.
type observe struct {
	tracer  trace.Tracer
	metrics *observability.Metrics
	logger  *slog.Logger
}

func newObserve(serviceName string, metrics *observability.Metrics, logger *slog.Logger) *observe {
	return &observe{
		tracer:  otel.Tracer(serviceName),
		metrics: metrics,
		logger:  logger,
	}
}

func (o *observe) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := o.tracer.Start(r.Context(), route, trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			))
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))
			span.SetAttributes(attribute.Int("http.status_code", recorder.status))
			span.End()
			duration := time.Since(start)
			o.metrics.ObserveRequest(route, r.Method, strconv.Itoa(recorder.status), duration)
			o.logger.Debug("request handled",
				"route", route, "method", r.Method, "status", recorder.status,
				"duration_ms", float64(duration.Microseconds())/1000)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// rateLimiter throttles per-client request rates on the mutating routes.
type rateLimiter struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func newRateLimiter(requestsPerMinute, burst int) *rateLimiter {
	perSecond := rate.Limit(float64(requestsPerMinute) / 60.0)
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		perSecond: perSecond,
		burst:     burst,
		visitors:  make(map[string]*rate.Limiter),
	}
}

func (rl *rateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.obtain(clientID(r)).Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *rateLimiter) obtain(id string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	limiter, ok := rl.visitors[id]
	if !ok {
		limiter = rate.NewLimiter(rl.perSecond, rl.burst)
		rl.visitors[id] = limiter
		go rl.cleanup(id)
	}
	return limiter
}

func (rl *rateLimiter) cleanup(id string) {
	timer := time.NewTimer(5 * time.Minute)
	defer timer.Stop()
	<-timer.C
	rl.mu.Lock()
	delete(rl.visitors, id)
	rl.mu.Unlock()
}

func clientID(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		if parsed := net.ParseIP(ip); parsed != nil {
			return parsed.String()
		}
		if comma := strings.IndexByte(ip, ','); comma > 0 {
			trimmed := strings.TrimSpace(ip[:comma])
			if parsed := net.ParseIP(trimmed); parsed != nil {
				return parsed.String()
			}
		}
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// adminAuth guards the aggregate history routes with an HS256 bearer token.
type adminAuth struct {
	secret []byte
	logger *slog.Logger
}

func newAdminAuth(secret string, logger *slog.Logger) *adminAuth {
	return &adminAuth{secret: []byte(strings.TrimSpace(secret)), logger: logger}
}

func (a *adminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.secret) == 0 {
			http.Error(w, "admin surface disabled", http.StatusForbidden)
			return
		}
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if err := a.validate(tokenString); err != nil {
			a.logger.Warn("admin token rejected", "err", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *adminAuth) validate(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(2*time.Minute))
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token invalid")
	}
	return nil
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
