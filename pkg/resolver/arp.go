package resolver

import (
	"bufio"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

const (
	arpTablePath = "/proc/net/arp"
	probeTimeout = 2 * time.Second
)

// ArpResolver 将站控层IP解析为链路层MAC地址
// 解析顺序：缓存、内核ARP表、ICMP探测后重查ARP表
// 探测的目的是诱导内核完成ARP交换，应答本身可以忽略
type ArpResolver struct {
	mu      sync.Mutex
	cache   map[string]net.HardwareAddr
	arpPath string
	timeout time.Duration
}

func NewArpResolver() *ArpResolver {
	return &ArpResolver{
		cache:   make(map[string]net.HardwareAddr),
		arpPath: arpTablePath,
		timeout: probeTimeout,
	}
}

// Resolve 解析IP地址，结果缓存直到Invalidate
func (r *ArpResolver) Resolve(ip string) (net.HardwareAddr, error) {
	if net.ParseIP(ip) == nil {
		return nil, types.NewResolutionError(ip)
	}

	r.mu.Lock()
	if mac, ok := r.cache[ip]; ok {
		r.mu.Unlock()
		return mac, nil
	}
	r.mu.Unlock()

	// 先查内核ARP表
	if mac, ok := r.lookupArpTable(ip); ok {
		r.store(ip, mac)
		return mac, nil
	}

	// ARP表没有记录，发ICMP探测促使内核解析后重查
	if err := r.probe(ip); err != nil {
		log.WithFields(log.Fields{
			"ip":    ip,
			"error": err.Error(),
		}).Debug("icmp probe failed")
	}

	if mac, ok := r.lookupArpTable(ip); ok {
		r.store(ip, mac)
		return mac, nil
	}
	return nil, types.NewResolutionError(ip)
}

// Invalidate 清除缓存记录，目标网卡更换后调用
func (r *ArpResolver) Invalidate(ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, ip)
}

func (r *ArpResolver) store(ip string, mac net.HardwareAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[ip] = mac
}

// lookupArpTable 读取内核ARP表查找IP对应的MAC
func (r *ArpResolver) lookupArpTable(ip string) (net.HardwareAddr, bool) {
	f, err := os.Open(r.arpPath)
	if err != nil {
		log.WithError(err).Warn("open kernel arp table failed")
		return nil, false
	}
	defer f.Close()

	return parseArpTable(f, ip)
}

// parseArpTable 在/proc/net/arp格式的文本中查找表项
// 列布局：IP address, HW type, Flags, HW address, Mask, Device
// 全零MAC表示表项未完成解析
func parseArpTable(reader io.Reader, ip string) (net.HardwareAddr, bool) {
	scanner := bufio.NewScanner(reader)

	// 跳过表头
	if !scanner.Scan() {
		return nil, false
	}

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] != ip {
			continue
		}
		if fields[3] == "00:00:00:00:00:00" {
			return nil, false
		}
		mac, err := net.ParseMAC(fields[3])
		if err != nil {
			return nil, false
		}
		return mac, true
	}
	return nil, false
}

// probe 发送一个ICMP echo请求
// 需要raw socket权限，失败只影响本次解析
func (r *ArpResolver) probe(ip string) error {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return err
	}
	defer conn.Close()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("goose-resolver-probe"),
		},
	}

	payload, err := msg.Marshal(nil)
	if err != nil {
		return err
	}

	if _, err := conn.WriteTo(payload, &net.IPAddr{IP: net.ParseIP(ip)}); err != nil {
		return err
	}

	// 等待应答，超时不视为失败，ARP交换此时可能已完成
	if err := conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return err
	}
	reply := make([]byte, 1500)
	if _, _, err := conn.ReadFrom(reply); err != nil {
		return nil
	}
	return nil
}
