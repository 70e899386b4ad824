package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path"
	"runtime"
	"syscall"
	"time"

	rotates "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/api"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/config"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/pipeline"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/processor"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/publisher"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/resolver"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/sink"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/source"
)

func InitLogger(cfg *config.Config) error {
	// 使用配置文件中的设置
	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
	logrus.SetFormatter(formatter)

	var level logrus.Level
	var err error
	var logWriter *rotates.RotateLogs

	switch cfg.Log.Level {
	case "DEBUG":
		level = logrus.DebugLevel
	case "WARN":
		level = logrus.WarnLevel
	case "INFO":
		level = logrus.InfoLevel
	case "ERROR":
		level = logrus.ErrorLevel
	case "FATAL":
		level = logrus.FatalLevel
	case "PANIC":
		level = logrus.PanicLevel
	default:
		level = logrus.WarnLevel //默认
	}

	//1、判断文件路径和文件是否存在，不存在则创建
	if _, err := os.Stat(cfg.Log.Dir); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.Log.Dir, 0755); err != nil {
			return err
		}
	}
	logFileName := path.Join(cfg.Log.Dir, cfg.Log.Filename)

	//2、判断是否设置日志级别，默认为WARN级别
	if level < logrus.PanicLevel || level > logrus.TraceLevel {
		logrus.Errorln("init log failed,level not supported!")
		logrus.SetLevel(logrus.WarnLevel)
	} else {
		logrus.SetLevel(level)
	}

	//3、日志切割功能，按时间来切割
	maxAge := 24 * time.Hour
	if cfg.Log.MaxAge > 0 {
		maxAge = time.Duration(cfg.Log.MaxAge) * time.Hour
	}
	rotateTime := time.Hour
	if cfg.Log.RotateTime > 0 {
		rotateTime = time.Duration(cfg.Log.RotateTime) * time.Hour
	}

	if runtime.GOOS == "windows" {
		logWriter, err = rotates.New(
			logFileName+".%Y%m%d%H%M",
			rotates.WithMaxAge(maxAge),           //文件最大保存时间
			rotates.WithRotationTime(rotateTime), //文件切割间隔
		)
	} else {
		logWriter, err = rotates.New(
			logFileName+".%Y%m%d%H%M",
			rotates.WithLinkName(logFileName),    //文件软链接
			rotates.WithMaxAge(maxAge),           //文件最大保存时间
			rotates.WithRotationTime(rotateTime), //文件切割间隔
		)
	}
	if err != nil {
		return err
	}

	//创建 local file system hook
	//所有日志级别写入同一个切割文件
	lfHook := lfshook.NewHook(lfshook.WriterMap{
		logrus.DebugLevel: logWriter,
		logrus.InfoLevel:  logWriter,
		logrus.WarnLevel:  logWriter,
		logrus.ErrorLevel: logWriter,
		logrus.FatalLevel: logWriter,
		logrus.PanicLevel: logWriter,
	}, &logrus.TextFormatter{})

	logrus.AddHook(lfHook)
	return nil
}

// buildFilterSet 创建过滤器集合并登记配置文件中的过滤条件
func buildFilterSet(cfg *config.Config) *processor.FilterSet {
	filterSet := processor.NewFilterSet(resolver.NewArpResolver())
	for i := range cfg.Filters {
		f := cfg.Filters[i]
		if err := filterSet.Add(&f); err != nil {
			logrus.Errorf("Add capture filter %s failed: %v", f.ID, err)
		}
	}
	return filterSet
}

// buildSink 按输出配置组装sink，websocket hub可为nil
func buildSink(cfg *config.Config, hub *sink.Hub) (pipeline.Sink, error) {
	var sinks []sink.SubSink

	if cfg.Output.BaseFilename != "" {
		pcapSink, err := sink.NewPcapSink(cfg)
		if err != nil {
			return nil, fmt.Errorf("create pcap sink failed: %w", err)
		}
		sinks = append(sinks, pcapSink)
	}

	if cfg.Output.JSONFile != "" {
		jsonSink, err := sink.NewJSONSink(cfg.Output.JSONFile, cfg.Output.HideRetransmissions)
		if err != nil {
			return nil, fmt.Errorf("create json sink failed: %w", err)
		}
		sinks = append(sinks, jsonSink)
	}

	if hub != nil {
		sinks = append(sinks, sink.NewWebsocketSink(hub, cfg.Output.HideRetransmissions))
	}

	if len(sinks) == 0 {
		return nil, fmt.Errorf("no output configured")
	}
	if len(sinks) == 1 {
		if single, ok := sinks[0].(pipeline.Sink); ok {
			return single, nil
		}
	}
	return sink.NewMultiSink(sinks...), nil
}

// registerPublications 打开配置文件声明的发布控制块
// 数据集内容通过API下发后才能启动发布
func registerPublications(cfg *config.Config, registry *publisher.Registry) {
	for i := range cfg.Publications {
		pub, err := publisher.OpenPublication(cfg.Publications[i])
		if err != nil {
			logrus.Errorf("Open publication %s failed: %v", cfg.Publications[i].GoCbRef(), err)
			continue
		}
		if err := registry.Add(pub); err != nil {
			logrus.Errorf("Register publication failed: %v", err)
			pub.Stop()
		}
	}
}

func main() {
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := InitLogger(cfg); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logrus.Info("Starting goose traffic engine...")

	// 创建context用于控制生命周期
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建pipeline
	p := pipeline.NewPipeline()

	// 设置pipeline配置
	if err := p.SetConfig(cfg); err != nil {
		logrus.Fatalf("Failed to set pipeline config: %v", err)
	}

	// 创建数据源：离线pcap文件或实时捕获
	var src pipeline.Source
	if cfg.Capture.OfflineFile != "" {
		fileSource, err := source.NewPcapFileSource(cfg.Capture.OfflineFile, cfg.Pipeline.BufferSize)
		if err != nil {
			logrus.Fatalf("Failed to create file source: %v", err)
		}
		src = fileSource
	} else {
		liveSource, err := source.NewPcapSource(cfg)
		if err != nil {
			logrus.Fatalf("Failed to create live source: %v", err)
		}
		src = liveSource
	}
	p.SetSource(src)

	// 添加GOOSE解析处理器
	if err := p.AddProcessor(processor.NewGooseParser()); err != nil {
		logrus.Fatalf("Add goose parser failed: %v", err)
	}

	// 添加重传检测处理器
	detector := processor.NewRetransmissionDetector(cfg.Capture.SuppressRetransmissions)
	if err := p.AddProcessor(detector); err != nil {
		logrus.Fatalf("Add retransmission detector failed: %v", err)
	}

	// 添加捕获过滤处理器
	filterSet := buildFilterSet(cfg)
	if err := p.AddProcessor(processor.NewCaptureFilterProcessor(filterSet)); err != nil {
		logrus.Fatalf("Add capture filter failed: %v", err)
	}

	// 添加规则检测处理器
	var ruleProc *processor.RuleEngine
	if cfg.RuleEngine.Enabled {
		ruleProc, err = processor.NewRuleEngineProcessor(cfg.RuleEngine.RuleDirectory)
		if err != nil {
			logrus.Fatalf("Create rule engine failed: %v", err)
		}
		if err := p.AddProcessor(ruleProc); err != nil {
			logrus.Fatalf("Add rule engine failed: %v", err)
		}
	}

	// 实时推送hub，API开启时同时提供WebSocket端点
	var hub *sink.Hub
	if cfg.API.Enabled {
		hub = sink.NewHub()
	}

	// 设置输出
	out, err := buildSink(cfg, hub)
	if err != nil {
		logrus.Fatalf("Failed to create sink: %v", err)
	}
	p.SetSink(out)

	// 注册配置文件声明的发布控制块
	registry := publisher.NewRegistry()
	registerPublications(cfg, registry)

	// 启动pipeline
	if err := p.Start(ctx); err != nil {
		logrus.Fatalf("Failed to start pipeline: %v", err)
	}

	logrus.Info("Pipeline started successfully")

	// 启动HTTP API服务
	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(cfg.API.ListenAddr)
		if cfg.RuleEngine.Enabled {
			server.RegisterRuleService(api.NewRuleService(cfg.RuleEngine.RuleDirectory, ruleProc))
		}
		server.RegisterFilterService(api.NewFilterService(filterSet))
		server.RegisterPublisherService(api.NewPublisherService(registry))
		server.RegisterStatsService(api.NewStatsService(p, registry, hub, detector))
		server.RegisterWebsocket(hub)

		go func() {
			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				logrus.Errorf("API server error: %v", err)
			}
		}()
		logrus.Infof("API server listening on %s", cfg.API.ListenAddr)
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logrus.Infof("Received signal %v, shutting down...", sig)

	// 优雅退出
	cancel()
	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Stop(shutdownCtx); err != nil {
			logrus.Errorf("Error stopping API server: %v", err)
		}
		shutdownCancel()
	}
	registry.StopAll()
	if err := p.Stop(); err != nil {
		logrus.Errorf("Error stopping pipeline: %v", err)
	}

	logrus.Info("Shutdown complete")
}
