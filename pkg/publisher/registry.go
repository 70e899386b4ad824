package publisher

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// Key 唯一标识一个发布控制块
type Key struct {
	IED    string
	LdInst string
	CbName string
}

func (k Key) String() string {
	return k.IED + k.LdInst + "/LLN0$GO$" + k.CbName
}

// Registry 管理进程内全部发布控制块
type Registry struct {
	mu   sync.RWMutex
	pubs map[Key]*Publication
}

func NewRegistry() *Registry {
	return &Registry{pubs: make(map[Key]*Publication)}
}

// Add 注册发布控制块，键冲突返回错误
func (r *Registry) Add(p *Publication) error {
	cfg := p.Config()
	key := Key{IED: cfg.IEDName, LdInst: cfg.LdInst, CbName: cfg.CbName}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pubs[key]; exists {
		return types.NewConfigurationError("duplicate publication " + key.String())
	}
	r.pubs[key] = p
	log.WithField("goCbRef", key.String()).Info("publication registered")
	return nil
}

// Get 按键查找发布控制块
func (r *Registry) Get(key Key) (*Publication, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pubs[key]
	return p, ok
}

// Remove 停止并注销发布控制块
func (r *Registry) Remove(key Key) bool {
	r.mu.Lock()
	p, ok := r.pubs[key]
	if ok {
		delete(r.pubs, key)
	}
	r.mu.Unlock()

	if ok {
		p.Stop()
	}
	return ok
}

// List 返回按控制块引用排序的全部发布控制块
func (r *Registry) List() []*Publication {
	r.mu.RLock()
	keys := make([]Key, 0, len(r.pubs))
	for k := range r.pubs {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})

	out := make([]*Publication, 0, len(keys))
	r.mu.RLock()
	for _, k := range keys {
		if p, ok := r.pubs[k]; ok {
			out = append(out, p)
		}
	}
	r.mu.RUnlock()
	return out
}

// StopAll 停止全部发布控制块，进程退出时调用
func (r *Registry) StopAll() {
	for _, p := range r.List() {
		p.Stop()
	}
	log.Info("all publications stopped")
}
