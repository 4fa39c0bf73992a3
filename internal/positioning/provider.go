package positioning

import (
	"errors"
	"sync"

	"github.com/langchou/fueltrip/internal/models"
)

// ErrAlreadySubscribed 同一 Provider 同时只允许一个订阅者
var ErrAlreadySubscribed = errors.New("positioning: already subscribed")

// Provider 定位子系统契约
// 回调可能以不规则间隔触发零次或多次；Cancel 返回后不再投递样本
type Provider interface {
	Subscribe(onSample func(models.LocationSample), onError func(error)) (Subscription, error)
}

// Subscription 订阅句柄
type Subscription interface {
	Cancel()
}

// PushProvider 推送式定位源
// 移动端通过 HTTP 上报样本，由 Push 转发给当前订阅者
type PushProvider struct {
	mu       sync.Mutex
	onSample func(models.LocationSample)
	onError  func(error)
}

// NewPushProvider 创建推送式定位源
func NewPushProvider() *PushProvider {
	return &PushProvider{}
}

// Subscribe 注册订阅回调
func (p *PushProvider) Subscribe(onSample func(models.LocationSample), onError func(error)) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.onSample != nil {
		return nil, ErrAlreadySubscribed
	}
	p.onSample = onSample
	p.onError = onError
	return &pushSubscription{provider: p}, nil
}

// Push 向订阅者投递一个样本，无订阅者时返回 false
func (p *PushProvider) Push(sample models.LocationSample) bool {
	p.mu.Lock()
	fn := p.onSample
	p.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(sample)
	return true
}

// Fail 向订阅者通告定位故障（权限被收回、信号丢失等）
func (p *PushProvider) Fail(err error) {
	p.mu.Lock()
	fn := p.onError
	p.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// Subscribed 是否存在活跃订阅
func (p *PushProvider) Subscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onSample != nil
}

type pushSubscription struct {
	provider *PushProvider
	once     sync.Once
}

// Cancel 取消订阅；返回后不再触发回调
func (s *pushSubscription) Cancel() {
	s.once.Do(func() {
		s.provider.mu.Lock()
		s.provider.onSample = nil
		s.provider.onError = nil
		s.provider.mu.Unlock()
	})
}
