package timer

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrRegistryFull    = errors.New("timer registry is full")
	ErrRegistryClosed  = errors.New("timer registry is closed")
	ErrInvalidDuration = errors.New("timer duration must be positive")
)

// Expiry 描述一次计时器触发
// Generation 用于区分同一个 key 上先后武装的计时器
type Expiry struct {
	Key        string
	Generation uint64
}

// ExpireFunc 是计时器到期时的回调
type ExpireFunc func(exp Expiry)

// entry 是注册表中的一个计时器
type entry struct {
	timer *time.Timer
	gen   uint64
}

// Registry 为每个机器人维护至多一个单次超时计时器
//
// 锁只保护 map 和 time.Timer 的 O(1) 操作，回调在锁外执行，
// 因此不同 key 之间不会互相阻塞。
type Registry struct {
	mu       sync.Mutex
	timers   map[string]*entry
	nextGen  uint64
	capacity int // 0 表示不限
	closed   bool
	onExpire ExpireFunc
}

// NewRegistry 创建计时器注册表
func NewRegistry(capacity int, onExpire ExpireFunc) *Registry {
	return &Registry{
		timers:   make(map[string]*entry),
		capacity: capacity,
		onExpire: onExpire,
	}
}

// ArmOrReset 为 key 武装计时器，已存在时重置剩余时间为 d
// 重置会生成新的代数，旧计时器即使已到期也不会再触发回调
// created 为 true 表示本次新建了计时器，为 false 表示只是重置
func (r *Registry) ArmOrReset(key string, d time.Duration) (created bool, err error) {
	if d <= 0 {
		return false, ErrInvalidDuration
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrRegistryClosed
	}

	e, exists := r.timers[key]
	if !exists {
		if r.capacity > 0 && len(r.timers) >= r.capacity {
			return false, ErrRegistryFull
		}
		e = &entry{}
		r.timers[key] = e
	} else {
		e.timer.Stop()
	}

	r.nextGen++
	e.gen = r.nextGen
	e.timer = time.AfterFunc(d, r.fireFunc(key, e.gen))
	return !exists, nil
}

// fireFunc 返回绑定了 key 和代数的触发函数
func (r *Registry) fireFunc(key string, gen uint64) func() {
	return func() {
		r.mu.Lock()
		e, ok := r.timers[key]
		if r.closed || !ok || e.gen != gen {
			// 已被取消、重置或注册表已关闭
			r.mu.Unlock()
			return
		}
		delete(r.timers, key)
		r.mu.Unlock()

		if r.onExpire != nil {
			r.onExpire(Expiry{Key: key, Generation: gen})
		}
	}
}

// Cancel 停止并移除 key 的计时器，不存在时为无操作
func (r *Registry) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.timers[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(r.timers, key)
	return true
}

// Retire 在超时处理结束后清理 key 的计时器
// 只移除代数不晚于 exp 的计时器，处理期间新武装的计时器会被保留
func (r *Registry) Retire(exp Expiry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.timers[exp.Key]
	if !ok || e.gen > exp.Generation {
		return false
	}
	e.timer.Stop()
	delete(r.timers, exp.Key)
	return true
}

// Armed 判断 key 是否有存活的计时器
func (r *Registry) Armed(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key]
	return ok
}

// Len 返回存活计时器数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Keys 返回所有存活计时器的 key (已排序)
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.timers))
	for k := range r.timers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close 停止所有计时器，之后的 ArmOrReset 会返回 ErrRegistryClosed
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for key, e := range r.timers {
		e.timer.Stop()
		delete(r.timers, key)
	}
}
