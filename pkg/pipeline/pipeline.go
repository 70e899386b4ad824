package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/config"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/metrics"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// statsProvider 由持有自身计数器的处理器实现
type statsProvider interface {
	GetStats() *metrics.ProcessorMetrics
}

type pipeline struct {
	source     Source
	processors []Processor
	sink       Sink
	running    bool
	mu         sync.Mutex
	errChan    chan error
	status     string
	config     *config.Config
	startTime  time.Time
	wg         sync.WaitGroup // 用于跟踪所有goroutine
}

func NewPipeline() Pipeline {
	return &pipeline{
		processors: make([]Processor, 0),
		errChan:    make(chan error, 1),
		status:     "initialized",
	}
}

func (p *pipeline) AddProcessor(processor Processor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("cannot add processor while pipeline is running")
	}

	p.processors = append(p.processors, processor)
	// 按Stage排序处理器：解析 -> 重传检测 -> 捕获过滤 -> 规则检测
	sort.Slice(p.processors, func(i, j int) bool {
		return p.processors[i].Stage() < p.processors[j].Stage()
	})

	return nil
}

func (p *pipeline) SetSource(source Source) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = source
}

func (p *pipeline) SetSink(sink Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sink = sink
}

func (p *pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return types.NewPipelineError("start", fmt.Errorf("pipeline already running"))
	}
	if p.source == nil || p.sink == nil {
		p.mu.Unlock()
		return types.NewPipelineError("start", fmt.Errorf("source and sink are required"))
	}

	// 重置 WaitGroup
	p.wg = sync.WaitGroup{}

	// 设置状态为正在启动
	p.running = true
	p.startTime = time.Now()
	p.status = "starting"
	p.errChan = make(chan error, 100)
	p.mu.Unlock()

	logrus.Info("Starting goose pipeline")

	// 启动错误处理goroutine
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.handleErrors(ctx)
	}()

	var input <-chan *types.Packet = p.source.Output()
	var err error

	// 前一个stage处理器的输出直接作为下一个stage处理器的输入
	for _, proc := range p.processors {
		logrus.WithFields(logrus.Fields{
			"processor": proc.Name(),
			"stage":     proc.Stage(),
		}).Debug("Starting processor")
		input, err = proc.Process(ctx, input, &p.wg)
		if err != nil {
			logrus.Errorf("Failed to start processor %s: %v", proc.Name(), err)
			return types.NewPipelineError("start", fmt.Errorf("failed to start processor %s: %w", proc.Name(), err))
		}
	}

	// 1. 首先检查所有处理器是否就绪
	processorReady := make(chan struct{})
	go func() {
		for _, processor := range p.processors {
			// 检查处理器的内部状态
			if err := processor.CheckReady(); err != nil {
				logrus.Errorf("Processor %s not ready: %v", processor.Name(), err)
				p.errChan <- fmt.Errorf("processor not ready: %w", err)
				return
			}
		}
		close(processorReady) // 所有处理器就绪后关闭channel
	}()

	// 2. 等待处理器就绪，设置超时
	select {
	case <-processorReady:
		logrus.Debug("All processors are ready")
	case <-time.After(10 * time.Second):
		return types.NewPipelineError("start", fmt.Errorf("timeout waiting for processors to be ready"))
	}

	logrus.Info("All processors have started successfully")

	// 3. 处理器就绪后，再启动sink
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sink.Consume(ctx, input); err != nil {
			logrus.Errorf("Sink error: %v", err)
			p.errChan <- fmt.Errorf("sink error: %w", err)
		}
	}()

	// 4. 等待sink就绪
	select {
	case <-p.sink.Ready():
		logrus.Debug("Sink is ready")
	case <-time.After(5 * time.Second):
		return types.NewPipelineError("start", fmt.Errorf("timeout waiting for sink to be ready"))
	}

	logrus.Info("Sink have started successfully")

	// 5. 最后启动数据源，开始报文流转
	p.wg.Add(1)
	if err := p.source.Start(ctx, &p.wg); err != nil {
		logrus.Errorf("Failed to start capture source: %v", err)
		return types.NewPipelineError("start", fmt.Errorf("failed to start source: %w", err))
	}

	logrus.Info("Capture source have started successfully")

	p.status = "running"
	logrus.Info("Goose pipeline is now running")
	return nil
}

func (p *pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}

	p.status = "stopping"
	logrus.Info("Goose pipeline stopping...")

	// 1. 先设置状态，防止新的goroutine启动
	p.running = false

	// 2. 等待所有处理器完成
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	// 设置超时时间
	select {
	case <-done:
		logrus.Info("All pipeline goroutines completed gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Timeout waiting for pipeline goroutines to complete")
	}

	// 3. 所有发送方退出后关闭错误通道
	if p.errChan != nil {
		close(p.errChan)
		p.errChan = nil
	}

	// 4. 清理处理器资源
	for _, processor := range p.processors {
		if cleaner, ok := processor.(interface{ Cleanup() error }); ok {
			if err := cleaner.Cleanup(); err != nil {
				logrus.Errorf("Error cleaning up processor %s: %v", processor.Name(), err)
			}
		}
	}

	p.status = "stopped"
	p.startTime = time.Time{}

	logrus.Info("Goose pipeline stopped and cleaned up")
	return nil
}

func (p *pipeline) handleErrors(ctx context.Context) {
	logrus.Debug("Starting error handler")
	for {
		select {
		case err, ok := <-p.errChan:
			if !ok {
				logrus.Debug("Error channel closed, stopping error handler")
				return
			}
			logrus.Errorf("Pipeline error: %v", err)
		case <-ctx.Done():
			logrus.Debug("Context cancelled, stopping error handler")
			return
		}
	}
}

// GetStats 返回流水线整体运行统计，处理器计数实时读取
func (p *pipeline) GetStats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	uptime := ""
	if !p.startTime.IsZero() {
		uptime = time.Since(p.startTime).String()
	}

	stageStats := make(map[string]interface{}, len(p.processors))
	for _, proc := range p.processors {
		if sp, ok := proc.(statsProvider); ok {
			stageStats[proc.Name()] = sp.GetStats().GetStats()
		}
	}

	return map[string]interface{}{
		"status":     p.status,
		"uptime":     uptime,
		"processors": stageStats,
	}
}

// GetMetrics 实现Pipeline接口的GetMetrics方法
func (p *pipeline) GetMetrics() map[string]*metrics.ProcessorMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]*metrics.ProcessorMetrics, len(p.processors))
	for _, proc := range p.processors {
		if sp, ok := proc.(statsProvider); ok {
			out[proc.Name()] = sp.GetStats()
		}
	}
	return out
}

// SetConfig 实现Pipeline接口的SetConfig方法
func (p *pipeline) SetConfig(cfg *config.Config) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return types.NewPipelineError("config", fmt.Errorf("cannot set config while pipeline is running"))
	}

	if err := cfg.Validate(); err != nil {
		return types.NewPipelineError("config", err)
	}

	p.config = cfg
	return nil
}

// Status 实现Pipeline接口的Status方法
func (p *pipeline) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
