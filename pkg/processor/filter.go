package processor

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/metrics"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// FilterType 是捕获过滤器的匹配维度
type FilterType string

const (
	// FilterTypeMAC 按发布者源MAC匹配
	FilterTypeMAC FilterType = "mac"
	// FilterTypeIP 按站控层IP解析出的MAC匹配
	FilterTypeIP FilterType = "ip"
	// FilterTypeAppID 按GOOSE APPID匹配
	FilterTypeAppID FilterType = "app_id"
)

// MACResolver 将IP地址解析为对应网卡的MAC地址
type MACResolver interface {
	Resolve(ip string) (net.HardwareAddr, error)
}

// CaptureFilter 是一条捕获过滤条件
// IP类型的过滤器持有解析结果，解析失败时永不匹配任何报文
type CaptureFilter struct {
	ID    string     `yaml:"id" json:"id"`
	Type  FilterType `yaml:"type" json:"type"`
	MAC   string     `yaml:"mac,omitempty" json:"mac,omitempty"`
	IP    string     `yaml:"ip,omitempty" json:"ip,omitempty"`
	AppID uint16     `yaml:"app_id,omitempty" json:"app_id,omitempty"`

	resolvedMAC net.HardwareAddr
	unresolved  bool
}

// Unresolved 报告IP过滤器是否处于未解析状态
func (f *CaptureFilter) Unresolved() bool {
	return f.unresolved
}

// FilterSet 管理全部捕获过滤器并执行匹配
// 过滤器之间为或关系：任意一条命中报文即通过
// 空集合表示不过滤，全部报文通过
type FilterSet struct {
	mu       sync.RWMutex
	filters  map[string]*CaptureFilter
	resolver MACResolver
}

func NewFilterSet(resolver MACResolver) *FilterSet {
	return &FilterSet{
		filters:  make(map[string]*CaptureFilter),
		resolver: resolver,
	}
}

// Add 校验并登记过滤器，IP类型立即尝试解析
func (s *FilterSet) Add(f *CaptureFilter) error {
	if f.ID == "" {
		return types.NewConfigurationError("filter id")
	}

	switch f.Type {
	case FilterTypeMAC:
		mac, err := net.ParseMAC(f.MAC)
		if err != nil {
			return types.NewConfigurationError("filter mac")
		}
		f.resolvedMAC = mac
	case FilterTypeIP:
		if net.ParseIP(f.IP) == nil {
			return types.NewConfigurationError("filter ip")
		}
		s.resolveFilter(f)
	case FilterTypeAppID:
	default:
		return types.NewConfigurationError("filter type")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.filters[f.ID]; exists {
		return types.NewConfigurationError(fmt.Sprintf("duplicate filter %s", f.ID))
	}
	s.filters[f.ID] = f
	logrus.WithFields(logrus.Fields{
		"id":   f.ID,
		"type": f.Type,
	}).Info("capture filter added")
	return nil
}

// resolveFilter 尝试解析IP过滤器，失败置未解析标记
func (s *FilterSet) resolveFilter(f *CaptureFilter) {
	mac, err := s.resolver.Resolve(f.IP)
	if err != nil {
		f.unresolved = true
		f.resolvedMAC = nil
		logrus.WithFields(logrus.Fields{
			"id": f.ID,
			"ip": f.IP,
		}).Warn("filter ip unresolved, filter stays inert until re-resolve")
		return
	}
	f.unresolved = false
	f.resolvedMAC = mac
}

// ReResolve 重新解析指定IP过滤器
func (s *FilterSet) ReResolve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.filters[id]
	if !ok {
		return types.NewConfigurationError(fmt.Sprintf("filter %s not found", id))
	}
	if f.Type != FilterTypeIP {
		return types.NewConfigurationError(fmt.Sprintf("filter %s is not ip type", id))
	}

	s.resolveFilter(f)
	if f.unresolved {
		return types.NewResolutionError(f.IP)
	}
	return nil
}

// Remove 删除过滤器
func (s *FilterSet) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.filters[id]; !ok {
		return false
	}
	delete(s.filters, id)
	return true
}

// List 返回全部过滤器的副本
func (s *FilterSet) List() []CaptureFilter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CaptureFilter, 0, len(s.filters))
	for _, f := range s.filters {
		out = append(out, *f)
	}
	return out
}

// Matches 执行或语义匹配，空集合恒为真
func (s *FilterSet) Matches(packet *types.Packet) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.filters) == 0 {
		return true
	}

	for _, f := range s.filters {
		if f.matches(packet) {
			return true
		}
	}
	return false
}

func (f *CaptureFilter) matches(packet *types.Packet) bool {
	switch f.Type {
	case FilterTypeMAC:
		return bytes.Equal(f.resolvedMAC, packet.SrcMAC)
	case FilterTypeIP:
		// 未解析的IP过滤器不匹配任何报文
		if f.unresolved || f.resolvedMAC == nil {
			return false
		}
		return bytes.Equal(f.resolvedMAC, packet.SrcMAC)
	case FilterTypeAppID:
		return packet.Message != nil && packet.Message.AppID == f.AppID
	}
	return false
}

// CaptureFilterProcessor 按过滤器集合筛选报文流
type CaptureFilterProcessor struct {
	filters *FilterSet
	stats   *metrics.ProcessorMetrics
}

func NewCaptureFilterProcessor(filters *FilterSet) *CaptureFilterProcessor {
	return &CaptureFilterProcessor{
		filters: filters,
		stats:   &metrics.ProcessorMetrics{},
	}
}

func (p *CaptureFilterProcessor) Process(ctx context.Context, in <-chan *types.Packet, wg *sync.WaitGroup) (<-chan *types.Packet, error) {
	out := make(chan *types.Packet)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(out)

		for packet := range in {
			if !p.filters.Matches(packet) {
				p.stats.IncrementDropped()
				continue
			}
			p.stats.IncrementProcessed()

			select {
			case out <- packet:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (p *CaptureFilterProcessor) Stage() types.Stage {
	return types.StageCaptureFiltering
}

func (p *CaptureFilterProcessor) Name() string {
	return "CaptureFilter"
}

func (p *CaptureFilterProcessor) CheckReady() error {
	if p.filters == nil {
		return types.ErrProcessorNotReady
	}
	return nil
}

func (p *CaptureFilterProcessor) GetStats() *metrics.ProcessorMetrics {
	return p.stats
}
