package publisher

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/goose"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// State 是发布控制块的生命周期状态
type State int32

const (
	// StateIdle 已创建但未配置数据集
	StateIdle State = iota
	// StateConfigured 数据集就绪，等待启动
	StateConfigured
	// StateBursting 状态变化后的指数退避重传阶段
	StateBursting
	// StateSteady 以固定心跳周期重传
	StateSteady
	// StateStopped 已停止，不再发送
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateBursting:
		return "bursting"
	case StateSteady:
		return "steady"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config 描述一个GOOSE发布控制块
type Config struct {
	Device              string `yaml:"device" json:"device"`
	IEDName             string `yaml:"ied_name" json:"ied_name"`
	LdInst              string `yaml:"ld_inst" json:"ld_inst"`
	CbName              string `yaml:"cb_name" json:"cb_name"`
	AppID               uint16 `yaml:"app_id" json:"app_id"`
	DstMAC              string `yaml:"dst_mac" json:"dst_mac"`
	GoID                string `yaml:"go_id" json:"go_id"`
	DataSet             string `yaml:"data_set" json:"data_set"`
	ConfRev             uint32 `yaml:"conf_rev" json:"conf_rev"`
	TimeAllowedToLiveMs uint32 `yaml:"time_allowed_to_live_ms" json:"time_allowed_to_live_ms"`
	HeartbeatIntervalMs uint32 `yaml:"heartbeat_interval_ms" json:"heartbeat_interval_ms"`
	// Test 置位表示调试/投运模式发布，接收端不应据此动作
	Test bool `yaml:"test" json:"test"`
	// NdsCom 置位表示数据集配置待下装
	NdsCom bool `yaml:"nds_com" json:"nds_com"`
}

// Validate 检查发布配置的完整性
func (c *Config) Validate() error {
	if c.Device == "" {
		return types.NewConfigurationError("device")
	}
	if c.IEDName == "" {
		return types.NewConfigurationError("ied_name")
	}
	if c.CbName == "" {
		return types.NewConfigurationError("cb_name")
	}
	if c.DataSet == "" {
		return types.NewConfigurationError("data_set")
	}
	if c.DstMAC != "" {
		if _, err := net.ParseMAC(c.DstMAC); err != nil {
			return types.NewConfigurationError("dst_mac")
		}
	}
	return nil
}

// GoCbRef 按IEC 61850命名约定拼接控制块引用
func (c *Config) GoCbRef() string {
	return fmt.Sprintf("%s%s/LLN0$GO$%s", c.IEDName, c.LdInst, c.CbName)
}

// Stats 是单个发布控制块的运行计数
type Stats struct {
	framesSent    uint64
	sendErrors    uint64
	stNumChanges  uint64
	lastPublishNs int64
}

func (s *Stats) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"frames_sent":     atomic.LoadUint64(&s.framesSent),
		"send_errors":     atomic.LoadUint64(&s.sendErrors),
		"stnum_changes":   atomic.LoadUint64(&s.stNumChanges),
		"last_publish_ns": atomic.LoadInt64(&s.lastPublishNs),
	}
}

// 默认的多播目的地址与存活时间
const (
	defaultDstMAC = "01:0C:CD:01:00:00"
	defaultTTLMs  = 2000
)

// Publication 是一个GOOSE发布控制块的状态机
// 所有发送路径由互斥锁串行化，保证stNum/sqNum单调推进
type Publication struct {
	cfg    Config
	srcMAC net.HardwareAddr
	dstMAC net.HardwareAddr
	sender FrameSender

	mu          sync.Mutex
	values      []types.TypedValue
	stNum       uint32
	sqNum       uint32
	timestampMs uint64
	schedule    *RetransmissionSchedule
	cyclic      bool // 周期发布模式，状态变化不触发退避突发

	state   int32
	stats   Stats
	stopCh  chan struct{}
	resetCh chan struct{}
	wg      sync.WaitGroup
	stopped sync.Once

	logger *log.Entry
}

// NewPublication 创建发布控制块，sender为注入的发送通道
func NewPublication(cfg Config, srcMAC net.HardwareAddr, sender FrameSender) (*Publication, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dstStr := cfg.DstMAC
	if dstStr == "" {
		dstStr = defaultDstMAC
	}
	dstMAC, err := net.ParseMAC(dstStr)
	if err != nil {
		return nil, types.NewConfigurationError("dst_mac")
	}
	if cfg.TimeAllowedToLiveMs == 0 {
		cfg.TimeAllowedToLiveMs = defaultTTLMs
	}
	if cfg.GoID == "" {
		cfg.GoID = cfg.IEDName + "_" + cfg.CbName
	}
	if cfg.ConfRev == 0 {
		cfg.ConfRev = 1
	}

	p := &Publication{
		cfg:      cfg,
		srcMAC:   srcMAC,
		dstMAC:   dstMAC,
		sender:   sender,
		schedule: NewRetransmissionSchedule(time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond),
		state:    int32(StateIdle),
		stopCh:   make(chan struct{}),
		resetCh:  make(chan struct{}, 1),
		logger: log.WithFields(log.Fields{
			"goCbRef": cfg.GoCbRef(),
			"device":  cfg.Device,
		}),
	}
	return p, nil
}

// OpenPublication 打开网卡并创建绑定pcap发送器的发布控制块
func OpenPublication(cfg Config) (*Publication, error) {
	srcMAC, err := interfaceMAC(cfg.Device)
	if err != nil {
		return nil, err
	}
	sender, err := NewPcapSender(cfg.Device)
	if err != nil {
		return nil, err
	}
	return NewPublication(cfg, srcMAC, sender)
}

// State 返回当前生命周期状态
func (p *Publication) State() State {
	return State(atomic.LoadInt32(&p.state))
}

func (p *Publication) setState(s State) {
	atomic.StoreInt32(&p.state, int32(s))
}

// Config 返回发布配置的副本
func (p *Publication) Config() Config {
	return p.cfg
}

// Stats 返回运行计数快照
func (p *Publication) Stats() map[string]interface{} {
	snap := p.stats.Snapshot()
	p.mu.Lock()
	snap["st_num"] = p.stNum
	snap["sq_num"] = p.sqNum
	p.mu.Unlock()
	snap["state"] = p.State().String()
	return snap
}

// SetDataSetValues 更新数据集内容，不触发发送
// 首次配置后状态从Idle进入Configured
func (p *Publication) SetDataSetValues(values []types.TypedValue) error {
	if p.State() == StateStopped {
		return types.NewConfigurationError("publication stopped")
	}

	p.mu.Lock()
	p.values = make([]types.TypedValue, len(values))
	copy(p.values, values)
	p.mu.Unlock()

	if p.State() == StateIdle {
		p.setState(StateConfigured)
	}
	return nil
}

// Start 启动重传协程并发出首个状态(stNum=1, sqNum=0)
func (p *Publication) Start() error {
	switch p.State() {
	case StateIdle:
		return types.NewConfigurationError("data set not configured")
	case StateStopped:
		return types.NewConfigurationError("publication stopped")
	case StateConfigured:
	default:
		return nil
	}

	p.wg.Add(1)
	go p.retransmitLoop()
	p.logger.Info("goose publication started")
	return p.Publish(true)
}

// StartCyclic 以周期发布模式启动：跳过退避突发，
// 首帧之后直接按稳态心跳周期重复发送
func (p *Publication) StartCyclic() error {
	p.mu.Lock()
	p.cyclic = true
	p.mu.Unlock()
	return p.Start()
}

// Publish 触发一次发送
// increaseStNum为真表示数据集状态变化：stNum加一、sqNum归零、
// 刷新时间戳并从头开始重传退避序列；为假仅将sqNum加一立即重发
func (p *Publication) Publish(increaseStNum bool) error {
	s := p.State()
	if s == StateIdle {
		return types.NewConfigurationError("data set not configured")
	}
	if s == StateStopped {
		return types.NewConfigurationError("publication stopped")
	}

	p.mu.Lock()
	cyclic := p.cyclic
	// 首个状态必须通过increaseStNum发布，保证stNum从1起步
	if !increaseStNum && p.stNum == 0 {
		p.mu.Unlock()
		return types.NewConfigurationError("no state published yet")
	}
	if increaseStNum {
		p.stNum++
		p.sqNum = 0
		p.timestampMs = uint64(time.Now().UnixMilli())
		if cyclic {
			p.schedule.SkipToSteady()
		} else {
			p.schedule.Reset()
		}
		atomic.AddUint64(&p.stats.stNumChanges, 1)
	} else {
		p.sqNum++
	}
	err := p.sendLocked()
	p.mu.Unlock()

	if increaseStNum {
		if cyclic {
			p.setState(StateSteady)
		} else {
			p.setState(StateBursting)
		}
		// 通知重传协程放弃当前等待并重新开始退避
		select {
		case p.resetCh <- struct{}{}:
		default:
		}
	}
	return err
}

// sendLocked 编码并发送当前数据集，调用方持有p.mu
// 每次发送都重新编码完整数据集，发送失败只计数不中断重传
func (p *Publication) sendLocked() error {
	params := &goose.EncodeParams{
		AppID:             p.cfg.AppID,
		GoCbRef:           p.cfg.GoCbRef(),
		TimeAllowedToLive: p.cfg.TimeAllowedToLiveMs,
		DatSet:            p.cfg.DataSet,
		GoID:              p.cfg.GoID,
		TimestampMs:       p.timestampMs,
		StNum:             p.stNum,
		SqNum:             p.sqNum,
		Test:              p.cfg.Test,
		ConfRev:           p.cfg.ConfRev,
		NdsCom:            p.cfg.NdsCom,
		Values:            p.values,
	}

	apdu, err := goose.Encode(params)
	if err != nil {
		atomic.AddUint64(&p.stats.sendErrors, 1)
		p.logger.WithError(err).Error("encode goose apdu failed")
		return err
	}

	frame, err := buildFrame(p.srcMAC, p.dstMAC, apdu)
	if err != nil {
		atomic.AddUint64(&p.stats.sendErrors, 1)
		p.logger.WithError(err).Error("build ethernet frame failed")
		return err
	}

	if err := p.sender.Send(frame); err != nil {
		atomic.AddUint64(&p.stats.sendErrors, 1)
		p.logger.WithError(err).WithFields(log.Fields{
			"stNum": p.stNum,
			"sqNum": p.sqNum,
		}).Error("send goose frame failed")
		return err
	}

	atomic.AddUint64(&p.stats.framesSent, 1)
	atomic.StoreInt64(&p.stats.lastPublishNs, time.Now().UnixNano())
	return nil
}

// retransmitLoop 按重传计划重发最近一次状态
// 间隔从上一次发送时刻起算，退避走完后进入稳态心跳
func (p *Publication) retransmitLoop() {
	defer p.wg.Done()

	// 等待首次状态发布，避免重传从未发送过的帧
	select {
	case <-p.stopCh:
		return
	case <-p.resetCh:
	}

	for {
		p.mu.Lock()
		d := p.schedule.Next()
		steady := p.schedule.InSteadyState()
		p.mu.Unlock()

		if steady && p.State() == StateBursting {
			p.setState(StateSteady)
		}

		timer := time.NewTimer(d)
		select {
		case <-p.stopCh:
			timer.Stop()
			return
		case <-p.resetCh:
			timer.Stop()
			continue
		case <-timer.C:
			p.mu.Lock()
			p.sqNum++
			if err := p.sendLocked(); err != nil {
				p.logger.WithError(err).Warn("retransmission send failed, schedule continues")
			}
			p.mu.Unlock()
		}
	}
}

// Stop 终止重传并关闭发送通道，幂等
func (p *Publication) Stop() {
	p.stopped.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
		p.setState(StateStopped)
		if err := p.sender.Close(); err != nil {
			p.logger.WithError(err).Warn("close frame sender failed")
		}
		p.logger.Info("goose publication stopped")
	})
}
