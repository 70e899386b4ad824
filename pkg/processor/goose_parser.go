package processor

import (
	"bytes"
	"context"
	"encoding/binary"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/goose"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/metrics"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

const (
	// 以太网头部长度
	ethernetHeaderLen = 14
	// GOOSE以太网类型
	etherTypeGoose = 0x88B8
)

// gooseDstMACPrefix 是IEC 61850-8-1为GOOSE保留的多播地址前缀
// 完整范围为01:0C:CD:01:00:00到01:0C:CD:01:01:FF
var gooseDstMACPrefix = []byte{0x01, 0x0C, 0xCD, 0x01}

// GooseParser 从原始以太网帧中解析GOOSE APDU
// 非GOOSE帧直接丢弃，畸形APDU保留部分解析结果继续下发
type GooseParser struct {
	stats *metrics.ProcessorMetrics
}

func NewGooseParser() *GooseParser {
	return &GooseParser{stats: &metrics.ProcessorMetrics{}}
}

func (p *GooseParser) Process(ctx context.Context, in <-chan *types.Packet, wg *sync.WaitGroup) (<-chan *types.Packet, error) {
	out := make(chan *types.Packet)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(out)

		for packet := range in {
			if !p.parse(packet) {
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

// parse 校验以太网头并解码APDU，返回报文是否继续流转
func (p *GooseParser) parse(packet *types.Packet) bool {
	raw := packet.RawData
	if len(raw) < ethernetHeaderLen {
		return false
	}

	dstMAC := net.HardwareAddr(raw[0:6])
	srcMAC := net.HardwareAddr(raw[6:12])
	etherType := binary.BigEndian.Uint16(raw[12:14])

	// BPF过滤器已按以太网类型筛选，这里兜底校验
	if etherType != etherTypeGoose {
		return false
	}
	if !bytes.HasPrefix(dstMAC, gooseDstMACPrefix) {
		logrus.WithFields(logrus.Fields{
			"dstMAC": dstMAC.String(),
			"device": packet.Device,
		}).Debug("frame outside goose multicast range, discarded")
		return false
	}

	packet.SrcMAC = srcMAC
	packet.DstMAC = dstMAC
	packet.EthernetType = etherType

	msg, err := goose.Decode(raw[ethernetHeaderLen:], srcMAC, dstMAC)
	if err != nil {
		p.stats.IncrementMalformed()
		packet.LastError = err
		logrus.WithFields(logrus.Fields{
			"device": packet.Device,
			"error":  err.Error(),
		}).Warn("malformed goose apdu, keeping partial result")
	}
	packet.Message = msg
	return true
}

func (p *GooseParser) Stage() types.Stage {
	return types.StageGooseParsing
}

func (p *GooseParser) Name() string {
	return "GooseParser"
}

func (p *GooseParser) CheckReady() error {
	return nil
}

// GetStats 返回解析统计
func (p *GooseParser) GetStats() *metrics.ProcessorMetrics {
	return p.stats
}
