package source

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/metrics"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// PcapFileSource 从离线pcap文件回放GOOSE流量
// 用于对历史抓包做规则检测与重传分析
type PcapFileSource struct {
	handle   *pcap.Handle
	output   chan *types.Packet
	done     chan struct{}
	stats    *metrics.SourceMetrics
	filename string
}

func NewPcapFileSource(filename string, bufferSize int) (*PcapFileSource, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, types.NewTransportError(filename, err)
	}

	if err := handle.SetBPFFilter(gooseBPFFilter); err != nil {
		handle.Close()
		return nil, types.NewTransportError(filename, err)
	}

	return &PcapFileSource{
		handle:   handle,
		output:   make(chan *types.Packet, bufferSize),
		done:     make(chan struct{}),
		stats:    &metrics.SourceMetrics{},
		filename: filename,
	}, nil
}

func (s *PcapFileSource) Start(ctx context.Context, wg *sync.WaitGroup) error {
	packetSource := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	logrus.Infof("Started reading goose frames from file: %s", s.filename)

	go func() {
		defer wg.Done()
		defer close(s.output)
		defer close(s.done)
		defer s.handle.Close()

		var packetCount int64
		for {
			select {
			case <-ctx.Done():
				logrus.Info("Stopping pcap file replay due to context cancellation")
				return
			default:
				packet, err := packetSource.NextPacket()
				if err != nil {
					// 离线句柄读尽后NextPacket返回io.EOF
					if err == io.EOF {
						logrus.Infof("Reached end of pcap file: %s", s.filename)
						return
					}
					logrus.Warnf("Error reading packet: %v", err)
					s.stats.IncrementErrorCount()
					continue
				}

				packetCount++
				s.stats.IncrementPacketsCaptured()
				s.stats.AddBytesProcessed(uint64(len(packet.Data())))

				select {
				case s.output <- &types.Packet{
					ID:          fmt.Sprintf("file-%d", packetCount),
					Timestamp:   packet.Metadata().Timestamp.UnixNano(),
					CaptureInfo: packet.Metadata().CaptureInfo,
					RawData:     packet.Data(),
					Device:      s.filename,
				}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return nil
}

func (s *PcapFileSource) Output() <-chan *types.Packet {
	return s.output
}

func (s *PcapFileSource) GetStats() *metrics.SourceMetrics {
	return s.stats
}

// WaitForCompletion 返回文件读取完成信号
func (s *PcapFileSource) WaitForCompletion() <-chan struct{} {
	return s.done
}
