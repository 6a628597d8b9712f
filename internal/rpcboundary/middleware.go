package rpcboundary

import (
	"compress/gzip"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Middleware wraps an http.Handler, adapted from the teacher's
// pkg/rpc/middleware.go HTTPMiddleware chain.
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares outermost-first: Chain(h, a, b) runs a then
// b then h.
func Chain(handler http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// CORSConfig mirrors the teacher's CORSConfig.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAgeSeconds  int
}

// DefaultCORSConfig permits POST from anywhere, suitable for a
// development Orchestrator endpoint.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAgeSeconds:  3600,
	}
}

// CORSMiddleware sets CORS headers and answers preflight requests.
func CORSMiddleware(cfg CORSConfig) Middleware {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if corsAllowed(origin, cfg.AllowedOrigins) {
				if origin == "" {
					origin = "*"
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			if cfg.MaxAgeSeconds > 0 {
				w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", cfg.MaxAgeSeconds))
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func corsAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

// AuthConfig configures AuthMiddleware. Exactly one of JWTSecret or
// APIKeys should normally be set; both are checked if both are present.
type AuthConfig struct {
	// JWTSecret validates a Bearer token as an HS256 JWT (spec §6 leaves
	// the transport's own authentication scheme unspecified; this is the
	// kernel's chosen default, upgraded from the teacher's raw
	// string-secret comparison to an actual signed-claims check via
	// golang-jwt).
	JWTSecret []byte
	// APIKeys authorizes an `ApiKey <key>` header against a static set.
	APIKeys map[string]bool
	// AllowUnauthenticated lets requests with no credentials through,
	// for a read-only StateQuery endpoint that doesn't need auth.
	AllowUnauthenticated bool
}

// AuthMiddleware validates the Authorization header before letting a
// request reach the RPC dispatcher.
func AuthMiddleware(cfg AuthConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				if cfg.AllowUnauthenticated {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "unauthorized: missing credentials", http.StatusUnauthorized)
				return
			}

			switch {
			case strings.HasPrefix(header, "Bearer "):
				if len(cfg.JWTSecret) == 0 {
					http.Error(w, "unauthorized: bearer auth not configured", http.StatusUnauthorized)
					return
				}
				if !validJWT(header[len("Bearer "):], cfg.JWTSecret) {
					http.Error(w, "unauthorized: invalid token", http.StatusUnauthorized)
					return
				}
			case strings.HasPrefix(header, "ApiKey "):
				key := header[len("ApiKey "):]
				if !cfg.APIKeys[key] {
					http.Error(w, "unauthorized: invalid api key", http.StatusUnauthorized)
					return
				}
			default:
				http.Error(w, "unauthorized: unrecognized auth scheme", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// validJWT parses and verifies token as an HS256 JWT signed with secret,
// rejecting anything using a different signing method (golang-jwt's own
// documented defense against alg-confusion attacks).
func validJWT(token string, secret []byte) bool {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	return err == nil && parsed.Valid
}

// LogEntry is one request/response record (teacher's pkg/rpc/middleware.go
// LogEntry, unchanged in shape).
type LogEntry struct {
	Method     string
	Path       string
	StatusCode int
	Duration   time.Duration
	RemoteAddr string
}

// LogSink receives completed LogEntry records; pkg/log.Logger satisfies
// it via LoggingMiddleware's default sink below.
type LogSink interface {
	Log(LogEntry)
}

type loggerSink struct{}

func (loggerSink) Log(e LogEntry) {
	rpcLog.Info("rpc request", "method", e.Method, "path", e.Path, "status", e.StatusCode, "duration", e.Duration, "remote_addr", e.RemoteAddr)
}

// DefaultLogSink routes entries through this package's structured
// logger.
func DefaultLogSink() LogSink { return loggerSink{} }

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware records one LogEntry per request to sink.
func LoggingMiddleware(sink LogSink) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)
			sink.Log(LogEntry{
				Method:     r.Method,
				Path:       r.URL.Path,
				StatusCode: rec.statusCode,
				Duration:   time.Since(start),
				RemoteAddr: r.RemoteAddr,
			})
		})
	}
}

type gzipResponseWriter struct {
	http.ResponseWriter
	writer *gzip.Writer
}

func (grw *gzipResponseWriter) Write(b []byte) (int, error) {
	return grw.writer.Write(b)
}

// CompressionMiddleware gzip-compresses responses for clients that
// advertise support, easing get_blocks_range's larger inline payloads.
func CompressionMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Encoding", "gzip")
			w.Header().Del("Content-Length")
			gz := gzip.NewWriter(w)
			defer gz.Close()
			next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, writer: gz}, r)
		})
	}
}

// rateBucket is the teacher's per-connection token bucket, reused here
// per client IP.
type rateBucket struct {
	mu       sync.Mutex
	tokens   int
	max      int
	lastFill time.Time
	window   time.Duration
}

func newRateBucket(max int, window time.Duration) *rateBucket {
	return &rateBucket{tokens: max, max: max, lastFill: time.Now(), window: window}
}

func (rb *rateBucket) allow() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	now := time.Now()
	if now.Sub(rb.lastFill) >= rb.window {
		rb.tokens = rb.max
		rb.lastFill = now
	}
	if rb.tokens <= 0 {
		return false
	}
	rb.tokens--
	return true
}

// RateLimitMiddleware throttles requests per client IP.
func RateLimitMiddleware(requestsPerSecond int) Middleware {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 100
	}
	var mu sync.Mutex
	buckets := make(map[string]*rateBucket)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			mu.Lock()
			b, ok := buckets[ip]
			if !ok {
				b = newRateBucket(requestsPerSecond, time.Second)
				buckets[ip] = b
			}
			mu.Unlock()

			if !b.allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx > 0 {
		return addr[:idx]
	}
	return addr
}

// TLSConfig builds an mTLS server configuration: the server presents
// certFile/keyFile and requires the peer to present a certificate
// signed by caFile (spec §6: Orchestrator-kernel transport security is
// unspecified by the distilled spec; mTLS is the minimum viable choice
// for a control plane with no public listener). Built on crypto/tls
// directly: no example in the retrieved pack wraps mTLS setup in a
// third-party library, so this one ambient concern stays on the
// standard library (see DESIGN.md).
func TLSConfig(certFile, keyFile, caFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load server cert/key: %w", err)
	}
	caBytes, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("no certificates parsed from %s", caFile)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
