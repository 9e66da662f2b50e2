package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const bucketCacheSize = 4096

type bucket struct {
	second int64
	count  int
}

// Limiter enforces a fixed per-user quota per wall-clock second. Buckets live
// in an LRU cache so memory stays bounded no matter how many user ids show
// up; evicting an idle bucket only resets that user's current window.
type Limiter struct {
	quota int
	cache *lru.Cache
	now   func() time.Time

	mu sync.Mutex
}

// NewLimiter creates a limiter allowing quota packets per user per second.
// quota <= 0 disables limiting.
func NewLimiter(quota int) *Limiter {
	cache, _ := lru.New(bucketCacheSize)
	return &Limiter{
		quota: quota,
		cache: cache,
		now:   time.Now,
	}
}

// Allow reports whether the user may spend one unit of quota now.
func (l *Limiter) Allow(userId string) bool {
	if l.quota <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	second := l.now().Unix()
	if v, ok := l.cache.Get(userId); ok {
		b := v.(*bucket)
		if b.second == second {
			if b.count >= l.quota {
				return false
			}
			b.count++
			return true
		}
		b.second = second
		b.count = 1
		return true
	}
	l.cache.Add(userId, &bucket{second: second, count: 1})
	return true
}
