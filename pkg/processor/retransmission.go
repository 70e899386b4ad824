package processor

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/metrics"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

type seqState struct {
	stNum uint32
	sqNum uint32
}

// RetransmissionDetector 标记GOOSE重传报文
// 按goID跟踪(stNum, sqNum)：stNum不变且sqNum大于0视为重传
// 无论判定结果如何都更新跟踪表，保证乱序到达后能回到正确基线
type RetransmissionDetector struct {
	mu       sync.Mutex
	lastSeen map[string]seqState
	suppress bool
	stats    *metrics.ProcessorMetrics
}

// NewRetransmissionDetector 创建重传检测器
// suppress为真时重传报文直接丢弃，不再下发给后续阶段
func NewRetransmissionDetector(suppress bool) *RetransmissionDetector {
	return &RetransmissionDetector{
		lastSeen: make(map[string]seqState),
		suppress: suppress,
		stats:    &metrics.ProcessorMetrics{},
	}
}

func (d *RetransmissionDetector) Process(ctx context.Context, in <-chan *types.Packet, wg *sync.WaitGroup) (<-chan *types.Packet, error) {
	out := make(chan *types.Packet)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(out)

		for packet := range in {
			if packet.Message != nil {
				d.mark(packet.Message)
			}
			d.stats.IncrementProcessed()

			if d.suppress && packet.Message != nil && packet.Message.IsRetransmission {
				d.stats.IncrementDropped()
				continue
			}

			select {
			case out <- packet:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// mark 判定并登记一条报文
func (d *RetransmissionDetector) mark(msg *types.GooseMessage) {
	key := msg.GoID
	if key == "" {
		// goID缺失时退化到控制块引用，保证畸形报文也有跟踪键
		key = msg.GoCbRef
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.lastSeen[key]; ok {
		if msg.StNum == last.stNum && msg.SqNum > 0 {
			msg.IsRetransmission = true
			d.stats.IncrementRetransmissions()
		}
	}
	d.lastSeen[key] = seqState{stNum: msg.StNum, sqNum: msg.SqNum}

	if msg.IsRetransmission {
		logrus.WithFields(logrus.Fields{
			"goID":  msg.GoID,
			"stNum": msg.StNum,
			"sqNum": msg.SqNum,
		}).Debug("goose retransmission detected")
	}
}

// SequenceEntry 是单个goID最近一次观察到的序号
type SequenceEntry struct {
	StNum uint32 `json:"st_num"`
	SqNum uint32 `json:"sq_num"`
}

// Sequences 返回每个goID最近一次的(stNum, sqNum)快照
func (d *RetransmissionDetector) Sequences() map[string]SequenceEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[string]SequenceEntry, len(d.lastSeen))
	for key, last := range d.lastSeen {
		out[key] = SequenceEntry{StNum: last.stNum, SqNum: last.sqNum}
	}
	return out
}

// Reset 清空跟踪表
func (d *RetransmissionDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSeen = make(map[string]seqState)
}

func (d *RetransmissionDetector) Stage() types.Stage {
	return types.StageRetransmissionDetection
}

func (d *RetransmissionDetector) Name() string {
	return "RetransmissionDetector"
}

func (d *RetransmissionDetector) CheckReady() error {
	return nil
}

func (d *RetransmissionDetector) GetStats() *metrics.ProcessorMetrics {
	return d.stats
}
