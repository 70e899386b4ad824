package e2e

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// MemorySource 是一个用于测试的内存数据源，按序发出预置的原始帧
type MemorySource struct {
	frames [][]byte
	output chan *types.Packet
}

// NewMemorySource 创建内存数据源
func NewMemorySource(frames [][]byte) *MemorySource {
	return &MemorySource{
		frames: frames,
		output: make(chan *types.Packet, len(frames)),
	}
}

// Start 发出全部预置帧后关闭输出channel
func (s *MemorySource) Start(ctx context.Context, wg *sync.WaitGroup) error {
	go func() {
		defer wg.Done()
		defer close(s.output)

		for i, frame := range s.frames {
			packet := &types.Packet{
				ID:        fmt.Sprintf("memory-%d", i),
				Timestamp: time.Now().UnixNano(),
				RawData:   frame,
				Device:    "memory",
			}
			select {
			case s.output <- packet:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Output 返回数据输出channel
func (s *MemorySource) Output() <-chan *types.Packet {
	return s.output
}
