package keylock

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"goim-channel/pkg/logger"
	"goim-channel/pkg/redis"
)

// TestLocalLockerSerializes 同一个key上的临界区不会重叠
func TestLocalLockerSerializes(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "channel:1")
			if err != nil {
				t.Errorf("加锁失败: %v", err)
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			counter++
			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("临界区出现并发: %d", maxSeen)
	}
	if counter != 50 {
		t.Errorf("计数错误: %d", counter)
	}
	if l.size() != 0 {
		t.Errorf("锁未回收: %d", l.size())
	}
}

// TestLocalLockerIndependentKeys 不同key互不阻塞
func TestLocalLockerIndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "a")
	if err != nil {
		t.Fatalf("加锁失败: %v", err)
	}
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := l.Lock(ctx, "b")
		if err == nil {
			unlockB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("不同key之间发生阻塞")
	}
}

// TestLocalLockerContextCancel 等待中的加锁可被取消，且不影响后续加锁
func TestLocalLockerContextCancel(t *testing.T) {
	l := NewLocalLocker()
	unlock, _ := l.Lock(context.Background(), "k")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("期望超时错误, got %v", err)
	}

	unlock()
	unlock()

	again, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("释放后加锁失败: %v", err)
	}
	again()
	if l.size() != 0 {
		t.Errorf("锁未回收: %d", l.size())
	}
}

// TestRedisLocker 需要 REDIS_TEST_ADDR 指向可用的Redis
func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR 未设置")
	}
	client := redis.NewRedisClient(addr, "", 0)
	defer client.Close()

	l := NewRedisLocker(client, "test:lock:", time.Second, logger.NewNop())
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "channel:1")
	if err != nil {
		t.Fatalf("加锁失败: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(waitCtx, "channel:1"); err == nil {
		t.Fatal("锁被重复获取")
	}

	unlock()
	again, err := l.Lock(ctx, "channel:1")
	if err != nil {
		t.Fatalf("释放后加锁失败: %v", err)
	}
	again()
}
