package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/compucol89/kiosco-sub007/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// PuntoDeVentaHeader identifies the register behind a request. Several
// registers of one store usually share a public IP.
const PuntoDeVentaHeader = "X-Punto-De-Venta"

// KeyFunc picks the bucket a request is counted against.
type KeyFunc func(c *gin.Context) string

// KeyByIP counts per client IP.
func KeyByIP(c *gin.Context) string { return "ip:" + c.ClientIP() }

// KeyByPuntoDeVenta counts per register when the header carries a valid
// register number, per IP otherwise.
func KeyByPuntoDeVenta(c *gin.Context) string {
	if pdv, err := strconv.Atoi(c.GetHeader(PuntoDeVentaHeader)); err == nil && pdv > 0 {
		return "pdv:" + strconv.Itoa(pdv)
	}
	return KeyByIP(c)
}

type rateEntry struct {
	count     int
	windowEnd time.Time
}

// RateLimiter is a fixed-window limiter: limit requests per window per key.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	entries   map[string]*rateEntry
	lastPurge time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:     limit,
		window:    window,
		now:       time.Now,
		entries:   make(map[string]*rateEntry),
		lastPurge: time.Now(),
	}
}

// allow counts one hit for key and returns how long to wait when over limit.
func (l *RateLimiter) allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.purgeLocked(now)
	e, ok := l.entries[key]
	if !ok || now.After(e.windowEnd) {
		e = &rateEntry{windowEnd: now.Add(l.window)}
		l.entries[key] = e
	}
	e.count++
	if e.count > l.limit {
		return false, e.windowEnd.Sub(now)
	}
	return true, 0
}

// Middleware enforces the limit on the bucket chosen by key.
func (l *RateLimiter) Middleware(key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := l.allow(key(c))
		if !ok {
			secs := max(int(math.Ceil(wait.Seconds())), 1)
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.New("Demasiadas solicitudes. Intente nuevamente en un momento."))
			return
		}
		c.Next()
	}
}

// ── Purge ─────────────────────────────────────────────────────────────────────
// Expired windows are dropped at most once per purgeInterval, from allow, so
// keys that never return do not accumulate.

const purgeInterval = 5 * time.Minute

// must be called under lock
func (l *RateLimiter) purgeLocked(now time.Time) {
	if now.Sub(l.lastPurge) < purgeInterval {
		return
	}
	l.lastPurge = now
	purged := 0
	for key, e := range l.entries {
		if now.After(e.windowEnd) {
			delete(l.entries, key)
			purged++
		}
	}
	if purged > 0 {
		log.Debug().
			Int("entries_purged", purged).
			Int("entries_remaining", len(l.entries)).
			Msg("rate limiter map purged")
	}
}
