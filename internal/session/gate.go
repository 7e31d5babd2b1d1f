package session

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// MaxFreeGenerations 免费额度上限
const MaxFreeGenerations = 5

// ErrLimitReached 免费额度用尽，动作在发起任何网络调用前被拒绝
var ErrLimitReached = errors.New("free generation limit reached, please connect your own API key to continue")

// KeyProvider 宿主侧的凭证选择能力
type KeyProvider interface {
	HasSelectedKey(ctx context.Context) (bool, error)
	OpenSelectKey(ctx context.Context) error
}

// EnvKeyProvider 用环境变量里的key充当宿主凭证
type EnvKeyProvider struct {
	present bool
}

func NewEnvKeyProvider(apiKey string) *EnvKeyProvider {
	return &EnvKeyProvider{present: apiKey != ""}
}

func (p *EnvKeyProvider) HasSelectedKey(ctx context.Context) (bool, error) {
	return p.present, nil
}

func (p *EnvKeyProvider) OpenSelectKey(ctx context.Context) error {
	if !p.present {
		return errors.New("no API key configured, set GEMINI_API_KEY")
	}
	return nil
}

// Gate 用量闸门。两个维度：hasOwnKey（本进程内一旦为true就一直保持）
// 和usageCount（单调递增并落盘）。
type Gate struct {
	mu        sync.Mutex
	store     UsageStore
	count     int
	hasOwnKey bool
	maxFree   int
}

func NewGate(store UsageStore) *Gate {
	count, err := store.Load()
	if err != nil {
		logrus.WithError(err).Warn("failed to load usage count, starting at zero")
		count = 0
	}
	return &Gate{store: store, count: count, maxFree: MaxFreeGenerations}
}

// Allow 判定一次用户动作是否放行。不计费。
func (g *Gate) Allow() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hasOwnKey {
		return nil
	}
	if g.count >= g.maxFree {
		return ErrLimitReached
	}
	return nil
}

// Charge 对一次用户发起的动作计费。自有key时完全绕过。
// 一个动作只计一次，内部的逐步生成调用不重复计费。
func (g *Gate) Charge() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hasOwnKey {
		return
	}
	g.count++
	if err := g.store.Save(g.count); err != nil {
		logrus.WithError(err).Warn("failed to persist usage count")
	}
}

// Unlock 标记用户已接入自有key，本进程内不再回退
func (g *Gate) Unlock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hasOwnKey = true
}

func (g *Gate) HasOwnKey() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hasOwnKey
}

func (g *Gate) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Remaining 剩余免费次数，自有key时为-1表示不限
func (g *Gate) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hasOwnKey {
		return -1
	}
	left := g.maxFree - g.count
	if left < 0 {
		return 0
	}
	return left
}
