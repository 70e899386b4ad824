package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/pipeline"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/processor"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/publisher"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/sink"
)

// StatsService 统计信息服务
type StatsService struct {
	pipeline pipeline.Pipeline
	registry *publisher.Registry
	hub      *sink.Hub
	detector *processor.RetransmissionDetector
}

// NewStatsService 创建统计信息服务，registry、hub和detector可为nil
func NewStatsService(p pipeline.Pipeline, registry *publisher.Registry, hub *sink.Hub, detector *processor.RetransmissionDetector) *StatsService {
	return &StatsService{
		pipeline: p,
		registry: registry,
		hub:      hub,
		detector: detector,
	}
}

// GetStats 获取流水线与发布统计
func (ss *StatsService) GetStats(c echo.Context) error {
	stats := make(map[string]interface{})

	if ss.pipeline != nil {
		stats["pipeline"] = ss.pipeline.GetStats()
	}

	if ss.registry != nil {
		pubs := ss.registry.List()
		pubStats := make(map[string]interface{}, len(pubs))
		for _, p := range pubs {
			cfg := p.Config()
			pubStats[cfg.GoCbRef()] = p.Stats()
		}
		stats["publications"] = pubStats
	}

	if ss.hub != nil {
		stats["websocket_clients"] = ss.hub.ClientCount()
	}

	if ss.detector != nil {
		stats["sequences"] = ss.detector.Sequences()
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "获取统计信息成功",
		Data:    stats,
	})
}
