package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/processor"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/publisher"
)

type Config struct {
	Capture struct {
		Device  string `yaml:"device"` // 网卡名，"any"表示全部非回环网卡
		Snaplen int32  `yaml:"snaplen"`
		// 离线pcap文件路径，非空时代替实时捕获
		OfflineFile string `yaml:"offline_file"`
		// 重传报文是否直接丢弃
		SuppressRetransmissions bool `yaml:"suppress_retransmissions"`
	} `yaml:"capture"`

	Pipeline struct {
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"pipeline"`

	RuleEngine struct {
		Enabled       bool   `yaml:"enabled"`
		RuleDirectory string `yaml:"rule_directory"`
	} `yaml:"rule_engine"`

	Publications []publisher.Config        `yaml:"publications"`
	Filters      []processor.CaptureFilter `yaml:"filters"`

	Output struct {
		BaseFilename string `yaml:"base_filename"` // pcap归档文件前缀
		MaxFileSize  int64  `yaml:"max_file_size"` // pcap单文件大小上限
		JSONFile     string `yaml:"json_file"`     // 解码结果JSON文件，空表示关闭
		// 实时推送与JSON导出是否隐藏重传报文
		HideRetransmissions bool `yaml:"hide_retransmissions"`
	} `yaml:"output"`

	API struct {
		Enabled    bool   `yaml:"enabled"`
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"api"`

	Log struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		Filename   string `yaml:"filename"`
		MaxAge     int    `yaml:"max_age"`
		RotateTime int    `yaml:"rotate_time"`
	} `yaml:"log"`
}

func (c *Config) Validate() error {
	if c.Capture.Device == "" && c.Capture.OfflineFile == "" {
		return fmt.Errorf("either capture device or offline file is required")
	}
	if c.Pipeline.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	if c.RuleEngine.Enabled && c.RuleEngine.RuleDirectory == "" {
		return fmt.Errorf("rule directory is required when rule engine is enabled")
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api listen address is required when api is enabled")
	}
	for i := range c.Publications {
		if err := c.Publications[i].Validate(); err != nil {
			return fmt.Errorf("publication %d: %w", i, err)
		}
	}
	return nil
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
