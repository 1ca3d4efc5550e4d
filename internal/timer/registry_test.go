package timer

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recorder 收集到期回调
type recorder struct {
	mu    sync.Mutex
	fired []Expiry
	ch    chan Expiry
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Expiry, 16)}
}

func (r *recorder) onExpire(exp Expiry) {
	r.mu.Lock()
	r.fired = append(r.fired, exp)
	r.mu.Unlock()
	r.ch <- exp
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fired)
}

func (r *recorder) wait(t *testing.T) Expiry {
	t.Helper()
	select {
	case exp := <-r.ch:
		return exp
	case <-time.After(2 * time.Second):
		t.Fatal("计时器未在规定时间内触发")
		return Expiry{}
	}
}

func TestArm_FiresOnceAndRemovesEntry(t *testing.T) {
	rec := newRecorder()
	reg := NewRegistry(0, rec.onExpire)
	defer reg.Close()

	if _, err := reg.ArmOrReset("isar-1", 20*time.Millisecond); err != nil {
		t.Fatalf("武装失败: %v", err)
	}
	exp := rec.wait(t)
	if exp.Key != "isar-1" {
		t.Errorf("预期 key 为 isar-1, 得到 %s", exp.Key)
	}
	if reg.Armed("isar-1") {
		t.Error("触发后的计时器应已从注册表移除")
	}

	time.Sleep(60 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("预期只触发 1 次, 得到 %d", n)
	}
}

func TestReset_PreventsEarlierFire(t *testing.T) {
	rec := newRecorder()
	reg := NewRegistry(0, rec.onExpire)
	defer reg.Close()

	start := time.Now()
	reg.ArmOrReset("isar-1", 80*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	reg.ArmOrReset("isar-1", 150*time.Millisecond)

	// 旧计时器的到期时间 (80ms) 已过，不应触发
	time.Sleep(80 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Fatalf("重置后旧计时器不应触发, 得到 %d 次", n)
	}

	rec.wait(t)
	if elapsed := time.Since(start); elapsed < 180*time.Millisecond {
		t.Errorf("触发过早: %v", elapsed)
	}
	time.Sleep(50 * time.Millisecond)
	if n := rec.count(); n != 1 {
		t.Errorf("每个武装/重置序列只应触发 1 次, 得到 %d", n)
	}
}

func TestCancel_StopsTimer(t *testing.T) {
	rec := newRecorder()
	reg := NewRegistry(0, rec.onExpire)
	defer reg.Close()

	reg.ArmOrReset("isar-1", 30*time.Millisecond)
	if !reg.Cancel("isar-1") {
		t.Fatal("预期 Cancel 返回 true")
	}
	if reg.Cancel("isar-1") {
		t.Error("重复 Cancel 应为无操作")
	}
	if reg.Cancel("missing") {
		t.Error("Cancel 不存在的 key 应为无操作")
	}

	time.Sleep(80 * time.Millisecond)
	if n := rec.count(); n != 0 {
		t.Errorf("已取消的计时器不应触发, 得到 %d", n)
	}
}

func TestRetire_KeepsTimerArmedAfterFire(t *testing.T) {
	rec := newRecorder()
	reg := NewRegistry(0, rec.onExpire)
	defer reg.Close()

	reg.ArmOrReset("isar-1", 10*time.Millisecond)
	exp := rec.wait(t)

	// 处理超时期间收到新的心跳
	reg.ArmOrReset("isar-1", time.Hour)
	if reg.Retire(exp) {
		t.Error("Retire 不应移除处理期间新武装的计时器")
	}
	if !reg.Armed("isar-1") {
		t.Error("新的计时器应该仍然存活")
	}

	if !reg.Retire(Expiry{Key: "isar-1", Generation: ^uint64(0)}) {
		t.Error("预期 Retire 移除代数不晚于给定值的计时器")
	}
}

func TestCapacityAndClose(t *testing.T) {
	reg := NewRegistry(1, func(Expiry) {})

	if _, err := reg.ArmOrReset("a", time.Hour); err != nil {
		t.Fatalf("武装失败: %v", err)
	}
	// 重置已有 key 不受容量限制
	created, err := reg.ArmOrReset("a", time.Hour)
	if err != nil {
		t.Fatalf("重置失败: %v", err)
	}
	if created {
		t.Error("重置已有计时器不应报告为新建")
	}
	if _, err := reg.ArmOrReset("b", time.Hour); !errors.Is(err, ErrRegistryFull) {
		t.Errorf("预期 ErrRegistryFull, 得到 %v", err)
	}
	if _, err := reg.ArmOrReset("c", 0); !errors.Is(err, ErrInvalidDuration) {
		t.Errorf("预期 ErrInvalidDuration, 得到 %v", err)
	}

	reg.Close()
	if reg.Len() != 0 {
		t.Errorf("关闭后应没有计时器, 得到 %d", reg.Len())
	}
	if _, err := reg.ArmOrReset("a", time.Hour); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("预期 ErrRegistryClosed, 得到 %v", err)
	}
}

func TestConcurrentFireAndReset_LeavesAtMostOneTimer(t *testing.T) {
	var fired atomic.Int32
	reg := NewRegistry(0, func(Expiry) { fired.Add(1) })
	defer reg.Close()

	// 在到期边界附近反复重置，计时器触发和重置会交错发生
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				reg.ArmOrReset("isar-1", time.Duration(j%3)*time.Millisecond+time.Microsecond)
				if j%7 == 0 {
					reg.Cancel("isar-1")
				}
			}
		}()
	}
	wg.Wait()

	if n := reg.Len(); n > 1 {
		t.Fatalf("同一个 key 最多只能有 1 个计时器, 得到 %d", n)
	}
	keys := reg.Keys()
	if len(keys) > 1 || (len(keys) == 1 && keys[0] != "isar-1") {
		t.Errorf("意外的 key: %v", keys)
	}

	// 最后一次武装到期后注册表应为空
	time.Sleep(20 * time.Millisecond)
	if n := fired.Load(); n > 8*200 {
		t.Errorf("触发次数 %d 超过武装次数", n)
	}
	if reg.Len() != 0 {
		t.Errorf("最终计时器应已触发并移除, 剩余 %d", reg.Len())
	}
}

func TestDifferentKeysAreIndependent(t *testing.T) {
	rec := newRecorder()
	reg := NewRegistry(0, rec.onExpire)
	defer reg.Close()

	reg.ArmOrReset("isar-1", 20*time.Millisecond)
	reg.ArmOrReset("isar-2", time.Hour)

	exp := rec.wait(t)
	if exp.Key != "isar-1" {
		t.Errorf("预期 isar-1 触发, 得到 %s", exp.Key)
	}
	if !reg.Armed("isar-2") {
		t.Error("isar-2 的计时器不应受影响")
	}
}

func TestArmOrReset_ReportsCreation(t *testing.T) {
	rec := newRecorder()
	reg := NewRegistry(0, rec.onExpire)
	defer reg.Close()

	if created, _ := reg.ArmOrReset("isar-1", 20*time.Millisecond); !created {
		t.Error("首次武装应报告为新建")
	}
	for i := 0; i < 10; i++ {
		if created, _ := reg.ArmOrReset("isar-1", 20*time.Millisecond); created {
			t.Fatalf("第 %d 次重置被报告为新建", i+1)
		}
	}

	// 触发后再次武装是新建
	rec.wait(t)
	if created, _ := reg.ArmOrReset("isar-1", time.Hour); !created {
		t.Error("触发后的武装应报告为新建")
	}
	reg.Cancel("isar-1")
	if created, _ := reg.ArmOrReset("isar-1", time.Hour); !created {
		t.Error("取消后的武装应报告为新建")
	}
}
