package publisher

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// goose以太网类型
const etherTypeGoose = 0x88B8

// FrameSender 向二层网络写出完整以太网帧
type FrameSender interface {
	Send(frame []byte) error
	Close() error
}

// PcapSender 通过pcap句柄注入以太网帧
type PcapSender struct {
	device string
	handle *pcap.Handle
}

// NewPcapSender 打开指定网卡用于发送
func NewPcapSender(device string) (*PcapSender, error) {
	handle, err := pcap.OpenLive(device, 65536, false, pcap.BlockForever)
	if err != nil {
		return nil, types.NewTransportError(device, err)
	}

	log.WithField("device", device).Info("pcap sender opened")
	return &PcapSender{device: device, handle: handle}, nil
}

func (s *PcapSender) Send(frame []byte) error {
	if err := s.handle.WritePacketData(frame); err != nil {
		return types.NewTransportError(s.device, err)
	}
	return nil
}

func (s *PcapSender) Close() error {
	s.handle.Close()
	return nil
}

// buildFrame 将APDU封装进以太网帧
func buildFrame(srcMAC, dstMAC net.HardwareAddr, apdu []byte) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetType(etherTypeGoose),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}
	if err := gopacket.SerializeLayers(buf, opts, &eth, gopacket.Payload(apdu)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// interfaceMAC 查询网卡硬件地址作为源MAC
func interfaceMAC(device string) (net.HardwareAddr, error) {
	iface, err := net.InterfaceByName(device)
	if err != nil {
		return nil, types.NewTransportError(device, err)
	}
	return iface.HardwareAddr, nil
}
