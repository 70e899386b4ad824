package e2e

import (
	"context"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/config"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/goose"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/pipeline"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/processor"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// buildFrame 构造完整的GOOSE以太网帧
func buildFrame(t *testing.T, stNum, sqNum uint32, testFlag bool) []byte {
	t.Helper()

	apdu, err := goose.Encode(&goose.EncodeParams{
		AppID:             0x1000,
		GoCbRef:           "E2EDeviceLD0/LLN0$GO$gcb01",
		TimeAllowedToLive: 2000,
		DatSet:            "E2EDeviceLD0/LLN0$DataSet01",
		GoID:              "E2EDevice_gcb01",
		TimestampMs:       uint64(time.Now().UnixMilli()),
		StNum:             stNum,
		SqNum:             sqNum,
		Test:              testFlag,
		ConfRev:           1,
		Values: []types.TypedValue{
			types.NewBoolean(true),
			types.NewBitString(16, 0),
		},
	})
	require.NoError(t, err)

	dst, _ := net.ParseMAC("01:0c:cd:01:00:01")
	src, _ := net.ParseMAC("00:30:a7:11:22:33")

	frame := make([]byte, 0, 14+len(apdu))
	frame = append(frame, dst...)
	frame = append(frame, src...)
	frame = binary.BigEndian.AppendUint16(frame, 0x88b8)
	return append(frame, apdu...)
}

// writeRuleFile 将规则YAML写入规则目录
func writeRuleFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

// 测试完整流水线：解析、重传检测与规则检测
func TestGoosePipelineEndToEnd(t *testing.T) {
	ruleDir := t.TempDir()
	writeRuleFile(t, ruleDir, "whitelist.yaml", `state: enable
rule_id: e2e_whitelist
rule_name: 已知发布者
rule_mode: whitelist
expression: goose.go_id == "E2EDevice_gcb01" && !goose.test
description: 已知发布者的正常报文
`)
	writeRuleFile(t, ruleDir, "blacklist.yaml", `state: enable
rule_id: e2e_blacklist
rule_name: 测试标志告警
rule_mode: blacklist
expression: goose.test == true
description: 检测到置位的test标志
`)

	cfg := &config.Config{}
	cfg.Capture.Device = "memory"
	cfg.Pipeline.BufferSize = 100
	cfg.RuleEngine.Enabled = true
	cfg.RuleEngine.RuleDirectory = ruleDir

	p := pipeline.NewPipeline()
	require.NoError(t, p.SetConfig(cfg))

	// 发送序列：状态帧、该状态的重传帧、test标志置位的状态帧
	frames := [][]byte{
		buildFrame(t, 1, 0, false),
		buildFrame(t, 1, 1, false),
		buildFrame(t, 2, 0, true),
	}
	p.SetSource(NewMemorySource(frames))

	require.NoError(t, p.AddProcessor(processor.NewGooseParser()))
	require.NoError(t, p.AddProcessor(processor.NewRetransmissionDetector(false)))
	require.NoError(t, p.AddProcessor(processor.NewCaptureFilterProcessor(processor.NewFilterSet(nil))))

	ruleEngine, err := processor.NewRuleEngineProcessor(ruleDir)
	require.NoError(t, err)
	require.NoError(t, p.AddProcessor(ruleEngine))

	memorySink, err := NewMemorySink()
	require.NoError(t, err)
	p.SetSink(memorySink)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, p.Start(ctx))

	// 等待全部帧流经流水线
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(memorySink.GetResults()) == len(frames) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	require.NoError(t, p.Stop())

	results := memorySink.GetResults()
	require.Len(t, results, len(frames))

	// 第一帧：正常状态，白名单放行
	first := results[0]
	require.NotNil(t, first.Message)
	assert.Equal(t, uint32(1), first.Message.StNum)
	assert.Equal(t, "E2EDevice_gcb01", first.Message.GoID)
	assert.False(t, first.Message.IsRetransmission)
	require.NotNil(t, first.RuleResult)
	assert.Equal(t, types.ActionDeliver, first.RuleResult.Action)
	assert.Equal(t, "e2e_whitelist", first.RuleResult.WhiteRuleID)

	// 第二帧：同stNum且sqNum大于零，判定为重传
	second := results[1]
	require.NotNil(t, second.Message)
	assert.True(t, second.Message.IsRetransmission)

	// 第三帧：test标志置位，黑名单告警
	third := results[2]
	require.NotNil(t, third.Message)
	assert.True(t, third.Message.Test)
	require.NotNil(t, third.RuleResult)
	assert.True(t, third.RuleResult.BlackRuleMatched)
	assert.Equal(t, "e2e_blacklist", third.RuleResult.BlackRuleID)
	assert.Equal(t, types.ActionAlert, third.RuleResult.Action)
}

// 测试流水线统计在运行后反映处理计数
func TestGoosePipelineStats(t *testing.T) {
	cfg := &config.Config{}
	cfg.Capture.Device = "memory"
	cfg.Pipeline.BufferSize = 10

	p := pipeline.NewPipeline()
	require.NoError(t, p.SetConfig(cfg))

	frames := [][]byte{
		buildFrame(t, 1, 0, false),
		buildFrame(t, 1, 1, false),
	}
	p.SetSource(NewMemorySource(frames))
	require.NoError(t, p.AddProcessor(processor.NewGooseParser()))
	require.NoError(t, p.AddProcessor(processor.NewRetransmissionDetector(false)))

	memorySink, err := NewMemorySink()
	require.NoError(t, err)
	p.SetSink(memorySink)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, p.Start(ctx))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(memorySink.GetResults()) == len(frames) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	metrics := p.GetMetrics()
	parserStats, ok := metrics["GooseParser"]
	require.True(t, ok)
	assert.Equal(t, uint64(len(frames)), parserStats.GetStats()["processed_packets"])

	cancel()
	require.NoError(t, p.Stop())
}
