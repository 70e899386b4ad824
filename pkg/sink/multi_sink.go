package sink

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// MultiSink 将报文流复制给多个下游sink
// 任何一个子sink退出不影响其他子sink
// 子sink缓冲占满时对该子sink丢包，整体消费不被拖慢
type MultiSink struct {
	sinks []SubSink
	ready chan struct{}
}

type SubSink interface {
	Consume(ctx context.Context, in <-chan *types.Packet) error
	Ready() <-chan struct{}
}

func NewMultiSink(sinks ...SubSink) *MultiSink {
	return &MultiSink{
		sinks: sinks,
		ready: make(chan struct{}),
	}
}

func (s *MultiSink) Consume(ctx context.Context, in <-chan *types.Packet) error {
	channels := make([]chan *types.Packet, len(s.sinks))
	var wg sync.WaitGroup

	for i, child := range s.sinks {
		channels[i] = make(chan *types.Packet, 64)
		wg.Add(1)
		go func(child SubSink, ch <-chan *types.Packet) {
			defer wg.Done()
			if err := child.Consume(ctx, ch); err != nil {
				logrus.Errorf("Sub sink error: %v", err)
			}
		}(child, channels[i])
	}

	// 等待全部子sink就绪后再声明自身就绪
	for _, child := range s.sinks {
		<-child.Ready()
	}
	close(s.ready)

	dropped := make([]uint64, len(channels))
	for packet := range in {
		for i, ch := range channels {
			// 子sink缓冲占满时丢弃该子sink的报文，慢速写入端不阻塞捕获
			select {
			case ch <- packet:
			default:
				dropped[i]++
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	for i, ch := range channels {
		close(ch)
		if dropped[i] > 0 {
			logrus.Warnf("Sub sink %d dropped %d packets due to full buffer", i, dropped[i])
		}
	}
	wg.Wait()
	return nil
}

func (s *MultiSink) Ready() <-chan struct{} {
	return s.ready
}
