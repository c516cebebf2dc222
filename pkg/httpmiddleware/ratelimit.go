package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter decides whether key may issue another request.
//
// Both implementations approximate a sliding window from two fixed windows:
// the count of the previous window is weighted by the part of it that still
// overlaps the sliding window ending at now.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
}

// window numbers fixed windows of size d since the Unix epoch.
type window struct {
	size time.Duration
}

func (w window) index(now time.Time) int64 {
	return now.UnixNano() / int64(w.size)
}

func (w window) start(idx int64) time.Time {
	return time.Unix(0, idx*int64(w.size))
}

// decide weights prev by the overlap with the sliding window and checks the
// result against limit. curr already includes the current request when
// counted is set.
func (w window) decide(limit int, idx int64, now time.Time, prev, curr int64, counted bool) Decision {
	resetAt := w.start(idx + 1)
	elapsed := now.Sub(w.start(idx))
	overlap := 1 - float64(elapsed)/float64(w.size)
	effective := float64(prev)*overlap + float64(curr)
	if !counted {
		effective++
	}

	d := Decision{Limit: limit, ResetAt: resetAt}
	if effective > float64(limit) {
		return d
	}
	d.Allowed = true
	d.Remaining = max(0, int(math.Floor(float64(limit)-effective)))
	return d
}

type memoryEntry struct {
	idx  int64
	prev int64
	curr int64
}

// MemoryLimiter keeps counters in process memory.
type MemoryLimiter struct {
	limit  int
	window window

	mu      sync.Mutex
	entries map[string]*memoryEntry
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter allows limit requests per window for every key.
func NewMemoryLimiter(limit int, size time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		window:  window{size: size},
		entries: make(map[string]*memoryEntry),
	}
}

// Allow implements Limiter. Rejected requests are not counted.
func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (Decision, error) {
	idx := l.window.index(now)

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	switch {
	case !ok:
		e = &memoryEntry{idx: idx}
		l.entries[key] = e
	case e.idx == idx-1:
		e.idx, e.prev, e.curr = idx, e.curr, 0
	case e.idx < idx-1:
		e.idx, e.prev, e.curr = idx, 0, 0
	}

	d := l.window.decide(l.limit, idx, now, e.prev, e.curr, false)
	if d.Allowed {
		e.curr++
	}
	return d, nil
}

// Prune drops keys idle for two windows.
func (l *MemoryLimiter) Prune(now time.Time) {
	idx := l.window.index(now)

	l.mu.Lock()
	defer l.mu.Unlock()
	for key, e := range l.entries {
		if e.idx < idx-1 {
			delete(l.entries, key)
		}
	}
}

// Run prunes idle keys every two windows until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * l.window.size)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Prune(now)
		}
	}
}

// RedisLimiter shares counters between API instances through Redis. Every
// fixed window is one INCR counter that expires after two windows.
type RedisLimiter struct {
	client redis.Cmdable
	prefix string
	limit  int
	window window
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter allows limit requests per window for every key, with
// counters stored under prefix.
func NewRedisLimiter(client redis.Cmdable, prefix string, limit int, size time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window{size: size},
	}
}

func (l *RedisLimiter) key(key string, idx int64) string {
	return l.prefix + key + ":" + strconv.FormatInt(idx, 10)
}

// Allow implements Limiter. Rejected requests are counted too, so a client
// hammering the API stays limited.
func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	idx := l.window.index(now)
	currKey := l.key(key, idx)

	var (
		curr *redis.IntCmd
		prev *redis.StringCmd
	)
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		curr = p.Incr(ctx, currKey)
		p.PExpire(ctx, currKey, 2*l.window.size)
		prev = p.Get(ctx, l.key(key, idx-1))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, errors.Wrap(err, "count request")
	}

	var prevCount int64
	if v, err := prev.Int64(); err == nil {
		prevCount = v
	}
	return l.window.decide(l.limit, idx, now, prevCount, curr.Val(), true), nil
}

// KeyFunc extracts the rate limit key of a request.
type KeyFunc func(*http.Request) string

// RateLimit rejects requests over the limit of their key with 429. Every
// response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset. When the limiter fails the request is let through.
// A nil keyFunc means ByClientIP.
func RateLimit(l Limiter, keyFunc KeyFunc) Middleware {
	if keyFunc == nil {
		keyFunc = ByClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			d, err := l.Allow(r.Context(), keyFunc(r), now)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limiter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retry := max(0, d.ResetAt.Sub(now))
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ByClientIP keys requests by client IP. Credentials sent with the request
// are not authenticated yet and never pick the bucket.
func ByClientIP(r *http.Request) string {
	return "ip:" + ClientIP(r)
}

// ClientIP returns the first X-Forwarded-For address, else X-Real-IP, else
// the host of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeError writes a {"error": msg} JSON body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.Obj(func(e *jx.Encoder) {
		e.Field("error", func(e *jx.Encoder) { e.Str(msg) })
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
