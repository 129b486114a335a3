package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"alerthub/internal/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// SenderLimitConfig 每个告警发送方的令牌桶参数
type SenderLimitConfig struct {
	PerSecond float64       // <= 0 disables limiting
	Burst     int
	IdleTTL   time.Duration // buckets idle longer than this are dropped
}

// FromConfig maps the rate_limit section onto a limiter config.
func FromConfig(cfg config.RateLimitConfig) SenderLimitConfig {
	return SenderLimitConfig{
		PerSecond: cfg.RequestsPerSecond,
		Burst:     cfg.Burst,
		IdleTTL:   5 * time.Minute,
	}
}

// SenderKey 按客户端 IP 与来源路径参数区分发送方，同一台机器上的
// Alertmanager 与 Grafana 各用一个桶。
func SenderKey(c *gin.Context) string {
	if source := c.Param("source"); source != "" {
		return c.ClientIP() + "|" + source
	}
	return c.ClientIP()
}

// SenderLimiter throttles webhook senders, one token bucket per key.
type SenderLimiter struct {
	cfg     SenderLimitConfig
	keyFunc func(*gin.Context) string

	mu      sync.Mutex
	buckets map[string]*bucket

	done     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewSenderLimiter starts the idle-bucket sweeper; Stop releases it.
func NewSenderLimiter(cfg SenderLimitConfig) *SenderLimiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	l := &SenderLimiter{
		cfg:     cfg,
		keyFunc: SenderKey,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *SenderLimiter) reserve(key string, now time.Time) *rate.Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.buckets[key]
	if b == nil {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.cfg.PerSecond), l.cfg.Burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.ReserveN(now, 1)
}

func (l *SenderLimiter) sweep() {
	t := time.NewTicker(l.cfg.IdleTTL)
	defer t.Stop()

	for {
		select {
		case <-l.done:
			return
		case now := <-t.C:
			l.mu.Lock()
			for key, b := range l.buckets {
				if now.Sub(b.seen) > l.cfg.IdleTTL {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Tracked returns the number of live buckets.
func (l *SenderLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *SenderLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Middleware 超限时返回 429 并带上 Retry-After（秒）
func (l *SenderLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.cfg.PerSecond <= 0 {
			c.Next()
			return
		}

		now := time.Now()
		r := l.reserve(l.keyFunc(c), now)
		if delay := r.DelayFrom(now); delay > 0 {
			r.CancelAt(now)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
