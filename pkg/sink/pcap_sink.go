package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/config"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/metrics"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// AlertEndpoint 告警上报的HTTP地址，空字符串表示不上报
var AlertEndpoint = ""

// PcapSink 将GOOSE帧原样归档为pcap文件，按大小滚动
type PcapSink struct {
	baseFilename string // 基础文件名（如 "goose"）
	maxFileSize  int64  // 单文件大小上限
	currentSize  int64  // 当前文件大小
	fileIndex    int    // 当前文件索引
	pcapWriter   *pcapgo.Writer
	curFileName  string // 当前文件名
	file         *os.File
	mu           sync.Mutex
	ready        chan struct{}
	stats        *metrics.SinkMetrics
}

func NewPcapSink(cfg *config.Config) (*PcapSink, error) {
	// 未配置时默认50MB滚动
	maxFileSize := int64(50 * 1024 * 1024)
	if cfg.Output.MaxFileSize > 0 {
		maxFileSize = cfg.Output.MaxFileSize
	}

	sink := &PcapSink{
		baseFilename: cfg.Output.BaseFilename,
		maxFileSize:  maxFileSize,
		fileIndex:    1,
		ready:        make(chan struct{}),
		stats:        &metrics.SinkMetrics{},
	}

	if err := sink.createNewPcapFile(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *PcapSink) createNewPcapFile() error {
	// 生成文件名：goose_20260830_153000_1.pcap
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s_%d.pcap", s.baseFilename, timestamp, s.fileIndex)

	f, err := os.Create(filename)
	if err != nil {
		logrus.Errorf("Failed to create pcap file: %v", err)
		return err
	}

	// 如果已有打开的文件，先关闭
	if s.file != nil {
		if err := s.file.Close(); err != nil {
			logrus.Errorf("Failed to close previous pcap file: %v", err)
		}
	}

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		f.Close()
		logrus.Errorf("Failed to write pcap header: %v", err)
		return err
	}

	s.curFileName = filename
	s.file = f
	s.pcapWriter = w
	s.currentSize = 0
	s.fileIndex++

	logrus.Infof("Created new pcap file: %s", filename)
	return nil
}

func (s *PcapSink) writePacketToPcap(packet *types.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if packet.RawData == nil {
		logrus.Error("No raw packet data available")
		return nil
	}

	// 超过大小限制时滚动到新文件
	if s.currentSize >= s.maxFileSize {
		if err := s.createNewPcapFile(); err != nil {
			return err
		}
	}

	ci := packet.CaptureInfo
	if ci.CaptureLength == 0 {
		ci.CaptureLength = len(packet.RawData)
		ci.Length = len(packet.RawData)
		ci.Timestamp = time.Unix(0, packet.Timestamp)
	}

	if err := s.pcapWriter.WritePacket(ci, packet.RawData); err != nil {
		s.stats.IncrementWriteErrors()
		logrus.Errorf("Failed to write packet to pcap: %v", err)
		return err
	}

	s.currentSize += int64(len(packet.RawData))
	s.stats.IncrementPacketsWritten()
	s.stats.AddBytesWritten(uint64(len(packet.RawData)))

	// 告警报文上报
	if packet.RuleResult != nil && packet.RuleResult.Action == types.ActionAlert {
		generateAlert(packet, s.curFileName)
	}
	return nil
}

func (s *PcapSink) Consume(ctx context.Context, in <-chan *types.Packet) error {
	logrus.Info("Starting pcap sink consumer")
	// 在程序结束时统一关闭文件
	defer func() {
		s.mu.Lock()
		if s.file != nil {
			if err := s.file.Close(); err != nil {
				logrus.Errorf("Failed to close pcap file: %v", err)
			}
			s.file = nil
		}
		s.mu.Unlock()
		logrus.Info("Pcap sink consumer stopped")
	}()

	close(s.ready)

	for {
		select {
		case <-ctx.Done():
			logrus.Debug("Pcap sink received context cancellation")
			return nil
		case packet, ok := <-in:
			if !ok {
				logrus.Debug("Pcap sink input channel closed")
				return nil
			}

			if packet.RuleResult != nil && packet.RuleResult.Action == types.ActionDrop {
				continue
			}

			if err := s.writePacketToPcap(packet); err != nil {
				logrus.Errorf("Failed to write packet: %v", err)
				continue
			}
		}
	}
}

func (s *PcapSink) Ready() <-chan struct{} {
	return s.ready
}

// GetStats 返回写入统计
func (s *PcapSink) GetStats() *metrics.SinkMetrics {
	return s.stats
}

// generateAlert 组装告警并上报
func generateAlert(packet *types.Packet, curFileName string) {
	msg := packet.Message
	if msg == nil {
		return
	}

	ruleID := packet.RuleResult.BlackRuleID
	if ruleID == "" {
		ruleID = packet.RuleResult.WhiteRuleID
	}

	// 生成告警ID：goID_规则ID_数据包ID_时间戳
	alertID := fmt.Sprintf("%s_%s_%s_%d",
		msg.GoID,
		ruleID,
		packet.ID,
		time.Now().UnixNano(),
	)

	alertInfo := map[string]interface{}{
		"alert_id":       alertID,
		"alert_time":     time.Now(),
		"src_mac":        msg.SrcMAC.String(),
		"dst_mac":        msg.DstMAC.String(),
		"app_id":         msg.AppID,
		"go_id":          msg.GoID,
		"gocb_ref":       msg.GoCbRef,
		"st_num":         msg.StNum,
		"sq_num":         msg.SqNum,
		"rule_id":        ruleID,
		"alert_type":     "GOOSE Anomaly Detection",
		"description":    packet.RuleResult.Description,
		"action":         "alert",
		"packet_id":      packet.ID,
		"device":         packet.Device,
		"pcap_file_path": curFileName,
	}

	// 记录本地日志
	logrus.WithFields(logrus.Fields(alertInfo)).Warn("告警信息")

	if AlertEndpoint == "" {
		return
	}

	jsonData, err := json.Marshal(alertInfo)
	if err != nil {
		logrus.Errorf("Failed to marshal alert info: %v", err)
		return
	}

	req, err := http.NewRequest("POST", AlertEndpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		logrus.Errorf("Failed to create HTTP request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		Timeout: time.Second * 5,
	}

	resp, err := client.Do(req)
	if err != nil {
		logrus.Errorf("Failed to send alert: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logrus.Errorf("Alert server returned non-200 status code: %d", resp.StatusCode)
		return
	}

	logrus.Debugf("Alert successfully sent to %s", AlertEndpoint)
}
