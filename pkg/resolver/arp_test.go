package resolver

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arpFixture = `IP address       HW type     Flags       HW address            Mask     Device
192.168.1.10     0x1         0x2         00:50:56:aa:bb:cc     *        eth0
192.168.1.20     0x1         0x0         00:00:00:00:00:00     *        eth0
192.168.1.30     0x1         0x2         de:ad:be:ef:00:01     *        eth1
`

func TestParseArpTable(t *testing.T) {
	testCases := []struct {
		name    string
		ip      string
		wantMAC string
		wantOK  bool
	}{
		{"已解析的表项", "192.168.1.10", "00:50:56:aa:bb:cc", true},
		{"全零MAC视为未解析", "192.168.1.20", "", false},
		{"第二块网卡的表项", "192.168.1.30", "de:ad:be:ef:00:01", true},
		{"不存在的IP", "10.0.0.1", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mac, ok := parseArpTable(strings.NewReader(arpFixture), tc.ip)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantMAC, mac.String())
			}
		})
	}
}

func TestParseArpTableEmpty(t *testing.T) {
	_, ok := parseArpTable(strings.NewReader(""), "192.168.1.10")
	assert.False(t, ok)
}

func TestResolveFromArpFile(t *testing.T) {
	dir := t.TempDir()
	arpPath := filepath.Join(dir, "arp")
	require.NoError(t, os.WriteFile(arpPath, []byte(arpFixture), 0644))

	r := NewArpResolver()
	r.arpPath = arpPath
	r.timeout = 10 * time.Millisecond

	mac, err := r.Resolve("192.168.1.10")
	require.NoError(t, err)
	assert.Equal(t, "00:50:56:aa:bb:cc", mac.String())

	// 第二次解析命中缓存，即使表项消失也能解析
	require.NoError(t, os.WriteFile(arpPath, []byte("IP address HW type Flags HW address Mask Device\n"), 0644))
	mac, err = r.Resolve("192.168.1.10")
	require.NoError(t, err)
	assert.Equal(t, "00:50:56:aa:bb:cc", mac.String())

	// Invalidate后重新走ARP表查询
	r.Invalidate("192.168.1.10")
	_, err = r.Resolve("192.168.1.10")
	assert.Error(t, err)
}

func TestResolveRejectsInvalidIP(t *testing.T) {
	r := NewArpResolver()
	_, err := r.Resolve("not-an-ip")
	assert.Error(t, err)
}
