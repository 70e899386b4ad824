package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/sink"
)

// Server HTTP 服务器
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer 创建一个新的 HTTP 服务器
func NewServer(listenAddr string) *Server {
	e := echo.New()
	e.HideBanner = true

	return &Server{
		echo: e,
		addr: listenAddr,
	}
}

// Start 启动 HTTP 服务器
func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

// Stop 停止 HTTP 服务器
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// GetEcho 获取Echo实例
func (s *Server) GetEcho() *echo.Echo {
	return s.echo
}

// RegisterRuleService 注册规则服务
func (s *Server) RegisterRuleService(rs *RuleService) {
	// 注册路由
	s.echo.GET("/ruleEngine/configs", rs.GetRuleConfigs)              // 获取所有规则配置
	s.echo.GET("/ruleEngine/configs/:rule_id", rs.GetRuleConfig)      // 获取指定规则配置
	s.echo.POST("/ruleEngine/configs/:rule_id", rs.CreateRule)        // 创建规则
	s.echo.POST("/ruleEngine/configs/:rule_id/start", rs.StartRule)   // 启动规则
	s.echo.POST("/ruleEngine/configs/:rule_id/stop", rs.StopRule)     // 停止规则
	s.echo.PUT("/ruleEngine/configs/:rule_id", rs.UpdateRule)         // 更新规则
	s.echo.POST("/ruleEngine/configs/:rule_id/delete", rs.DeleteRule) // 删除规则
	s.echo.POST("/ruleEngine/validate", rs.ValidateRule)              // 验证规则有效性
}

// RegisterFilterService 注册捕获过滤器服务
func (s *Server) RegisterFilterService(fs *FilterService) {
	s.echo.GET("/filters", fs.ListFilters)                       // 获取所有过滤器
	s.echo.POST("/filters/:filter_id", fs.CreateFilter)          // 创建过滤器
	s.echo.POST("/filters/:filter_id/resolve", fs.ResolveFilter) // 重新解析IP过滤器
	s.echo.POST("/filters/:filter_id/delete", fs.DeleteFilter)   // 删除过滤器
}

// RegisterPublisherService 注册发布控制块服务
func (s *Server) RegisterPublisherService(ps *PublisherService) {
	s.echo.GET("/publications", ps.ListPublications)                               // 获取所有发布控制块
	s.echo.POST("/publications", ps.CreatePublication)                             // 创建发布控制块
	s.echo.GET("/publications/:ied/:ld_inst/:cb_name", ps.GetPublication)          // 获取发布控制块状态
	s.echo.POST("/publications/:ied/:ld_inst/:cb_name/values", ps.SetValues)       // 更新数据集内容
	s.echo.POST("/publications/:ied/:ld_inst/:cb_name/start", ps.StartPublication) // 启动发布
	s.echo.POST("/publications/:ied/:ld_inst/:cb_name/publish", ps.Publish)        // 触发发送
	s.echo.POST("/publications/:ied/:ld_inst/:cb_name/stop", ps.StopPublication)   // 停止并注销发布
}

// RegisterStatsService 注册统计信息服务
func (s *Server) RegisterStatsService(ss *StatsService) {
	s.echo.GET("/stats", ss.GetStats) // 获取流水线与发布统计
}

// RegisterWebsocket 注册实时推送WebSocket端点
func (s *Server) RegisterWebsocket(hub *sink.Hub) {
	s.echo.GET("/ws", func(c echo.Context) error {
		return hub.ServeWS(c.Response(), c.Request())
	})
}
