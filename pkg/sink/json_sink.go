package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/metrics"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// JSONSink 将解码后的GOOSE报文按行写入JSON文件
// hideRetransmissions为真时只导出状态变化报文
type JSONSink struct {
	mu                  sync.Mutex
	file                *os.File
	writer              *bufio.Writer
	ready               chan struct{}
	hideRetransmissions bool
	stats               *metrics.SinkMetrics
}

func NewJSONSink(filename string, hideRetransmissions bool) (*JSONSink, error) {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, types.NewTransportError(filename, err)
	}

	return &JSONSink{
		file:                f,
		writer:              bufio.NewWriter(f),
		ready:               make(chan struct{}),
		hideRetransmissions: hideRetransmissions,
		stats:               &metrics.SinkMetrics{},
	}, nil
}

func (s *JSONSink) Consume(ctx context.Context, in <-chan *types.Packet) error {
	logrus.Info("Starting json sink consumer")
	defer func() {
		s.mu.Lock()
		if err := s.writer.Flush(); err != nil {
			logrus.Errorf("Failed to flush json sink: %v", err)
		}
		if err := s.file.Close(); err != nil {
			logrus.Errorf("Failed to close json sink file: %v", err)
		}
		s.mu.Unlock()
		logrus.Info("Json sink consumer stopped")
	}()

	close(s.ready)

	for {
		select {
		case <-ctx.Done():
			return nil
		case packet, ok := <-in:
			if !ok {
				return nil
			}
			s.write(packet)
		}
	}
}

func (s *JSONSink) write(packet *types.Packet) {
	if packet.RuleResult != nil && packet.RuleResult.Action == types.ActionDrop {
		return
	}
	if s.hideRetransmissions && packet.Message != nil && packet.Message.IsRetransmission {
		return
	}

	view := NewMessageView(packet)
	if view == nil {
		return
	}

	line, err := json.Marshal(view)
	if err != nil {
		s.stats.IncrementWriteErrors()
		logrus.Errorf("Failed to marshal goose message: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(append(line, '\n')); err != nil {
		s.stats.IncrementWriteErrors()
		logrus.Errorf("Failed to write goose message: %v", err)
		return
	}
	s.stats.IncrementPacketsWritten()
	s.stats.AddBytesWritten(uint64(len(line) + 1))
}

func (s *JSONSink) Ready() <-chan struct{} {
	return s.ready
}

func (s *JSONSink) GetStats() *metrics.SinkMetrics {
	return s.stats
}
