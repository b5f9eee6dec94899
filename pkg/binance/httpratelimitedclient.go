package binance

import (
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimitedClient is an http.RoundTripper that paces requests, tracks the
// X-MBX-USED-WEIGHT-1M budget and backs off on 418/429 responses.
type RateLimitedClient struct {
	base       http.RoundTripper
	limiter    *rate.Limiter
	lock       sync.Mutex
	rateLimits map[string]*RateLimitInfo
	maxRetries int
	log        logrus.FieldLogger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type RateLimitInfo struct {
	used      int
	limit     int
	window    time.Duration
	resetTime time.Time
}

func NewRateLimitedClient(base http.RoundTripper, requestsPerSecond float64, log logrus.FieldLogger) *RateLimitedClient {
	if base == nil {
		base = http.DefaultTransport
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RateLimitedClient{
		base:       base,
		limiter:    rate.NewLimiter(limit, 1),
		rateLimits: make(map[string]*RateLimitInfo),
		maxRetries: 5,
		log:        log,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// RoundTrip sends req, retrying 418/429 responses up to maxRetries times. When the
// retries run out the last rate-limit response is handed back so the API error in
// its body reaches the caller.
func (c *RateLimitedClient) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	weight := requestWeight(req.URL)
	retryCount := 0
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if err := c.applyRateLimiting(ctx, weight); err != nil {
			return nil, err
		}

		resp, err := c.base.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		c.updateRateLimits(resp.Header)

		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusTeapot {
			return resp, nil
		}
		if retryCount >= c.maxRetries {
			c.log.WithField("status", resp.StatusCode).Warn("⚠️ Rate limit retries exhausted")
			return resp, nil
		}

		delay := c.getRetryDelay(resp, retryCount)
		c.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"retry":  retryCount + 1,
			"delay":  delay,
		}).Warn("⏳ Rate limited, backing off")

		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
		retryCount++
	}
}

func (c *RateLimitedClient) applyRateLimiting(ctx context.Context, weight int) error {
	c.lock.Lock()
	var (
		delay       time.Duration
		used, limit int
	)
	if info, exists := c.rateLimits["weight"]; exists && info.shouldDelay(weight) {
		delay = info.getDelay(weight, c.now())
		used, limit = info.used, info.limit
	}
	c.lock.Unlock()

	if delay <= 0 {
		return nil
	}
	c.log.WithFields(logrus.Fields{"used": used, "limit": limit, "delay": delay}).Debug("⏳ Request weight budget low, waiting")
	return c.sleep(ctx, delay)
}

func (c *RateLimitedClient) updateRateLimits(headers http.Header) {
	headerMapping := map[string]struct {
		key          string
		window       time.Duration
		defaultLimit int
	}{
		"X-Mbx-Used-Weight-1m": {"weight", 60 * time.Second, 6000},
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	for header, meta := range headerMapping {
		value := headers.Get(header)
		if value == "" {
			continue
		}
		if used, err := strconv.Atoi(value); err == nil {
			c.rateLimits[meta.key] = &RateLimitInfo{
				used:      used,
				limit:     meta.defaultLimit,
				window:    meta.window,
				resetTime: c.now().Truncate(meta.window).Add(meta.window),
			}
		}
	}
}

func (info *RateLimitInfo) shouldDelay(weight int) bool {
	remaining := info.limit - info.used - weight
	buffer := int(float64(info.limit) * 0.1)
	return remaining <= buffer
}

// getDelay waits out the current window once the budget would be overdrawn.
func (info *RateLimitInfo) getDelay(weight int, now time.Time) time.Duration {
	remaining := info.limit - info.used - weight
	if remaining >= 0 {
		return 0
	}
	untilReset := info.resetTime.Sub(now)
	perSecond := float64(info.limit) / info.window.Seconds()
	estimate := float64(-remaining) / perSecond
	return time.Duration(math.Max(estimate, untilReset.Seconds()) * float64(time.Second))
}

func (c *RateLimitedClient) getRetryDelay(resp *http.Response, retry int) time.Duration {
	if resp != nil {
		if val := resp.Header.Get("Retry-After"); val != "" {
			if seconds, err := strconv.Atoi(val); err == nil {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	base := math.Pow(2, float64(retry))
	jitter := rand.Float64()*0.5 + 0.75
	return time.Duration(base * jitter * float64(time.Second))
}

// requestWeight follows the published weights for the endpoints this client calls.
func requestWeight(u *url.URL) int {
	if u == nil || u.Path != "/api/v3/klines" {
		return 1
	}
	return 2
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
