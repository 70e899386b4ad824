package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/processor"
)

const sampleConfig = `capture:
  device: eth0
  snaplen: 65536
  suppress_retransmissions: false

pipeline:
  buffer_size: 1024

rule_engine:
  enabled: true
  rule_directory: rules/

publications:
  - device: eth0
    ied_name: TestIED
    ld_inst: LD0
    cb_name: gcb01
    app_id: 4096
    dst_mac: "01:0C:CD:01:00:01"
    data_set: TestIEDLD0/LLN0$DataSet1
    heartbeat_interval_ms: 1000

filters:
  - id: f1
    type: mac
    mac: "00:11:22:33:44:55"
  - id: f2
    type: app_id
    app_id: 4096

output:
  base_filename: goose
  max_file_size: 52428800
  json_file: goose.ndjson
  hide_retransmissions: true

api:
  enabled: true
  listen_addr: ":8080"

log:
  level: debug
  dir: logs
  filename: goose_engine
  max_age: 7
  rotate_time: 24
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "eth0", cfg.Capture.Device)
	assert.Equal(t, int32(65536), cfg.Capture.Snaplen)
	assert.Equal(t, 1024, cfg.Pipeline.BufferSize)
	assert.True(t, cfg.RuleEngine.Enabled)
	assert.Equal(t, "rules/", cfg.RuleEngine.RuleDirectory)

	require.Len(t, cfg.Publications, 1)
	pub := cfg.Publications[0]
	assert.Equal(t, "TestIED", pub.IEDName)
	assert.Equal(t, uint16(4096), pub.AppID)
	assert.Equal(t, uint32(1000), pub.HeartbeatIntervalMs)

	require.Len(t, cfg.Filters, 2)
	assert.Equal(t, processor.FilterTypeMAC, cfg.Filters[0].Type)
	assert.Equal(t, uint16(4096), cfg.Filters[1].AppID)

	assert.Equal(t, int64(52428800), cfg.Output.MaxFileSize)
	assert.True(t, cfg.Output.HideRetransmissions)
	assert.Equal(t, ":8080", cfg.API.ListenAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"缺少捕获来源", func(c *Config) { c.Capture.Device = ""; c.Capture.OfflineFile = "" }},
		{"缓冲区大小非法", func(c *Config) { c.Pipeline.BufferSize = 0 }},
		{"规则引擎缺少目录", func(c *Config) { c.RuleEngine.Enabled = true; c.RuleEngine.RuleDirectory = "" }},
		{"API缺少监听地址", func(c *Config) { c.API.Enabled = true; c.API.ListenAddr = "" }},
		{"发布配置不完整", func(c *Config) { c.Publications[0].DataSet = "" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadConfig(writeConfig(t, sampleConfig))
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestOfflineFileReplacesDevice(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	cfg.Capture.Device = ""
	cfg.Capture.OfflineFile = "traffic.pcap"
	assert.NoError(t, cfg.Validate())
}
