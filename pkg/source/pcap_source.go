package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/config"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/metrics"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// goose帧的BPF过滤表达式，内核层丢弃无关流量
const gooseBPFFilter = "ether proto 0x88b8"

// 轮询超时，保证取消信号能及时被观察到
const pollTimeout = 100 * time.Millisecond

// PcapSource 在一组网卡上以混杂模式捕获GOOSE帧
// 配置"any"时展开为全部启用的非回环网卡，每块网卡一个捕获协程
type PcapSource struct {
	devices []string
	handles map[string]*pcap.Handle
	promisc *PromiscManager
	output  chan *types.Packet
	stats   *metrics.SourceMetrics
	snaplen int32
}

func NewPcapSource(cfg *config.Config) (*PcapSource, error) {
	if cfg.Capture.Device == "" {
		return nil, types.NewConfigurationError("capture.device")
	}

	devices, err := ExpandDevices(cfg.Capture.Device)
	if err != nil {
		return nil, err
	}

	snaplen := cfg.Capture.Snaplen
	if snaplen <= 0 {
		snaplen = 65536
	}

	s := &PcapSource{
		devices: devices,
		handles: make(map[string]*pcap.Handle),
		promisc: NewPromiscManager(),
		output:  make(chan *types.Packet, cfg.Pipeline.BufferSize),
		stats:   &metrics.SourceMetrics{},
		snaplen: snaplen,
	}

	for _, device := range devices {
		if err := s.openDevice(device); err != nil {
			s.closeAll()
			return nil, err
		}
	}
	return s, nil
}

// openDevice 打开单块网卡：先记录并启用混杂模式，再绑定BPF过滤器
func (s *PcapSource) openDevice(device string) error {
	if err := s.promisc.Enable(device); err != nil {
		logrus.Warnf("Enable promiscuous mode on %s failed: %v, capture continues", device, err)
	}

	handle, err := pcap.OpenLive(device, s.snaplen, false, pollTimeout)
	if err != nil {
		return types.NewTransportError(device, err)
	}

	if err := handle.SetBPFFilter(gooseBPFFilter); err != nil {
		handle.Close()
		return types.NewTransportError(device, err)
	}

	s.handles[device] = handle
	logrus.Infof("Opened capture on %s with link type: %v", device, handle.LinkType())
	return nil
}

// Start 为每块网卡启动捕获协程，全部退出后关闭输出通道
func (s *PcapSource) Start(ctx context.Context, wg *sync.WaitGroup) error {
	var captureWg sync.WaitGroup
	captureWg.Add(len(s.handles))

	for device, handle := range s.handles {
		go s.captureLoop(ctx, device, handle, &captureWg)
	}

	go func() {
		defer wg.Done()
		captureWg.Wait()
		s.closeAll()
		close(s.output)
	}()

	logrus.Infof("Started goose capture on %d interface(s)", len(s.handles))
	return nil
}

func (s *PcapSource) captureLoop(ctx context.Context, device string, handle *pcap.Handle, wg *sync.WaitGroup) {
	defer wg.Done()

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	var packetCount int64

	for {
		select {
		case <-ctx.Done():
			logrus.Infof("Stopping capture on %s due to context cancellation", device)
			return
		default:
			packet, err := packetSource.NextPacket()
			if err != nil {
				// 轮询超时返回继续循环，以便检查取消信号
				if err == pcap.NextErrorTimeoutExpired {
					continue
				}
				logrus.Warnf("Error capturing packet on %s: %v", device, err)
				s.stats.IncrementErrorCount()
				continue
			}

			packetCount++
			s.stats.IncrementPacketsCaptured()
			s.stats.AddBytesProcessed(uint64(len(packet.Data())))

			select {
			case s.output <- &types.Packet{
				ID:          fmt.Sprintf("%s-%d", device, packetCount),
				Timestamp:   packet.Metadata().Timestamp.UnixNano(),
				CaptureInfo: packet.Metadata().CaptureInfo,
				RawData:     packet.Data(),
				Device:      device,
			}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *PcapSource) Output() <-chan *types.Packet {
	return s.output
}

// GetStats 返回捕获统计
func (s *PcapSource) GetStats() *metrics.SourceMetrics {
	return s.stats
}

func (s *PcapSource) closeAll() {
	for device, handle := range s.handles {
		handle.Close()
		delete(s.handles, device)
	}
	s.promisc.ReleaseAll()
}
