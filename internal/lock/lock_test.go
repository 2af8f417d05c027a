package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func exercise(t *testing.T, l Locker) {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "sender")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxInside)
	}
}

func TestMemoryLockIsExclusive(t *testing.T) {
	m := NewMemory()
	exercise(t, m)
	if m.held() != 0 {
		t.Fatalf("expected entries to be dropped, %d left", m.held())
	}
}

func TestMemoryLockHonoursContext(t *testing.T) {
	m := NewMemory()
	unlock, err := m.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(ctx, "a"); err == nil {
		t.Fatalf("expected context error while key is held")
	}
	other, err := m.Lock(context.Background(), "b")
	if err != nil {
		t.Fatalf("independent key should not block: %v", err)
	}
	other()
	unlock()
	unlock()
	if m.held() != 0 {
		t.Fatalf("expected no entries, got %d", m.held())
	}
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})
	return cache, mr
}

func TestRedisLockIsExclusive(t *testing.T) {
	cache, mr := newRedis(t)
	exercise(t, NewRedis(cache, time.Second))
	if mr.Exists(redisPrefix + "sender") {
		t.Fatalf("lock key should be released")
	}
}

func TestRedisUnlockKeepsForeignToken(t *testing.T) {
	cache, mr := newRedis(t)
	l := NewRedis(cache, time.Second)
	unlock, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// simulate expiry and takeover by another holder
	mr.Set(redisPrefix+"a", "someone-else")
	unlock()
	got, err := mr.Get(redisPrefix + "a")
	if err != nil || got != "someone-else" {
		t.Fatalf("foreign lock must survive, got %q err %v", got, err)
	}
}

func TestRedisLockHonoursContext(t *testing.T) {
	cache, _ := newRedis(t)
	l := NewRedis(cache, time.Second)
	unlock, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "a"); err == nil {
		t.Fatalf("expected timeout while key is held")
	}
}

func TestRedisLockLeaseOutlivesTTLWhileHeld(t *testing.T) {
	cache, mr := newRedis(t)
	l := NewRedis(cache, 30*time.Second)
	l.renewEvery = 10 * time.Millisecond
	name := redisPrefix + "sender:0xabc"

	unlock, err := l.Lock(context.Background(), "sender:0xabc")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// 60s of simulated time in 20s steps, each followed by a renewal window.
	for i := 0; i < 3; i++ {
		mr.FastForward(20 * time.Second)
		deadline := time.Now().Add(time.Second)
		for mr.TTL(name) < 25*time.Second {
			if time.Now().After(deadline) {
				t.Fatalf("lease was not renewed, ttl %v", mr.TTL(name))
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "sender:0xabc"); err == nil {
		t.Fatalf("second holder acquired a lock that was never released")
	}

	unlock()
	if mr.Exists(name) {
		t.Fatalf("lock key should be released")
	}
	second, err := l.Lock(context.Background(), "sender:0xabc")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	second()
}

func TestRedisLockStopsRenewingForeignToken(t *testing.T) {
	cache, mr := newRedis(t)
	l := NewRedis(cache, 30*time.Second)
	l.renewEvery = 10 * time.Millisecond
	name := redisPrefix + "a"

	unlock, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()
	mr.Set(name, "someone-else")
	mr.SetTTL(name, 5*time.Second)
	time.Sleep(50 * time.Millisecond)
	if ttl := mr.TTL(name); ttl > 5*time.Second {
		t.Fatalf("foreign lease must not be extended, ttl %v", ttl)
	}
}
