package source

import (
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// PromiscManager 通过ioctl管理网卡混杂模式
// 记录每块网卡启用前的原始状态，引用计数归零时恢复，
// 保证进程退出后不改变宿主机网卡配置
type PromiscManager struct {
	mu     sync.Mutex
	states map[string]*promiscState
}

type promiscState struct {
	refCount    int
	wasPromisc  bool
	enabledByUs bool
}

func NewPromiscManager() *PromiscManager {
	return &PromiscManager{states: make(map[string]*promiscState)}
}

// Enable 为网卡开启混杂模式，重复启用只增加引用计数
func (m *PromiscManager) Enable(device string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.states[device]; ok {
		st.refCount++
		return nil
	}

	flags, err := getInterfaceFlags(device)
	if err != nil {
		return err
	}

	st := &promiscState{
		refCount:   1,
		wasPromisc: flags&unix.IFF_PROMISC != 0,
	}

	if !st.wasPromisc {
		if err := setInterfaceFlags(device, flags|unix.IFF_PROMISC); err != nil {
			return err
		}
		st.enabledByUs = true
		log.WithField("device", device).Info("promiscuous mode enabled")
	}

	m.states[device] = st
	return nil
}

// Release 减少引用计数，归零时恢复网卡原始状态
func (m *PromiscManager) Release(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[device]
	if !ok {
		return
	}
	st.refCount--
	if st.refCount > 0 {
		return
	}
	delete(m.states, device)

	if !st.enabledByUs {
		return
	}

	flags, err := getInterfaceFlags(device)
	if err != nil {
		log.WithField("device", device).WithError(err).Warn("restore promiscuous state failed")
		return
	}
	if err := setInterfaceFlags(device, flags&^unix.IFF_PROMISC); err != nil {
		log.WithField("device", device).WithError(err).Warn("restore promiscuous state failed")
		return
	}
	log.WithField("device", device).Info("promiscuous mode restored")
}

// ReleaseAll 恢复全部网卡，停止捕获时调用
func (m *PromiscManager) ReleaseAll() {
	m.mu.Lock()
	devices := make([]string, 0, len(m.states))
	for d, st := range m.states {
		st.refCount = 1
		devices = append(devices, d)
	}
	m.mu.Unlock()

	for _, d := range devices {
		m.Release(d)
	}
}

func getInterfaceFlags(device string) (uint16, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, types.NewTransportError(device, err)
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(device)
	if err != nil {
		return 0, types.NewTransportError(device, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return 0, types.NewTransportError(device, err)
	}
	return ifr.Uint16(), nil
}

func setInterfaceFlags(device string, flags uint16) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return types.NewTransportError(device, err)
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(device)
	if err != nil {
		return types.NewTransportError(device, err)
	}
	ifr.SetUint16(flags)
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return types.NewTransportError(device, err)
	}
	return nil
}

// ExpandDevices 展开网卡名："any"返回全部启用的非回环网卡
func ExpandDevices(device string) ([]string, error) {
	if device != "any" {
		return []string{device}, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, types.NewTransportError(device, err)
	}

	devices := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		devices = append(devices, iface.Name)
	}
	if len(devices) == 0 {
		return nil, types.NewConfigurationError("no capture interface available")
	}
	return devices, nil
}
