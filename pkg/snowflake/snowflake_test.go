package snowflake

import (
	"sync"
	"testing"
)

// TestGenerateMonotonic 并发生成的ID唯一且单个goroutine内递增
func TestGenerateMonotonic(t *testing.T) {
	sf, err := NewSnowflake(3)
	if err != nil {
		t.Fatalf("创建失败: %v", err)
	}

	const workers, perWorker = 8, 2000
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*perWorker)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last int64
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				id := sf.Generate()
				if id <= last {
					t.Errorf("ID未递增: %d <= %d", id, last)
				}
				last = id
				local = append(local, id)
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("存在重复ID: 期望 %d 个, 实际 %d 个", workers*perWorker, len(seen))
	}
}

// TestGenerateClockRollback 时钟回拨时仍保持递增
func TestGenerateClockRollback(t *testing.T) {
	sf, _ := NewSnowflake(1)
	clock := int64(defaultEpoch + 1000)
	sf.now = func() int64 { return clock }

	first := sf.Generate()
	clock -= 500
	second := sf.Generate()
	if second <= first {
		t.Errorf("回拨后ID应继续递增: %d <= %d", second, first)
	}

	_, machineID, _ := sf.ParseID(second)
	if machineID != 1 {
		t.Errorf("机器ID解析错误: %d", machineID)
	}
}

func TestNewSnowflakeInvalidMachine(t *testing.T) {
	if _, err := NewSnowflake(maxMachineID + 1); err == nil {
		t.Error("超出范围的机器ID应返回错误")
	}
}
