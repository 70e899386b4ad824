package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/processor"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/ruleEngine"
)

// 响应结构体
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// RuleService 规则服务
type RuleService struct {
	ruleLoader    *ruleEngine.RuleLoader
	ruleProcessor *processor.RuleEngine
	ruleDir       string
}

// NewRuleService 创建一个新的规则服务
func NewRuleService(ruleDir string, ruleProcessor *processor.RuleEngine) *RuleService {
	// 创建规则加载器
	loader := ruleEngine.NewRuleLoader()

	// 从本地规则目录加载规则
	if err := loader.LoadRulesFromDirectory(ruleDir); err != nil {
		logrus.Errorf("加载规则目录失败: %v", err)
	}

	return &RuleService{
		ruleLoader:    loader,
		ruleProcessor: ruleProcessor,
		ruleDir:       ruleDir,
	}
}

// GetRuleConfigs 获取所有规则配置
func (rs *RuleService) GetRuleConfigs(c echo.Context) error {
	// 使用查询参数过滤规则
	mode := c.QueryParam("mode")   //指定模式
	state := c.QueryParam("state") //指定状态

	// 获取所有规则
	allRules := rs.ruleLoader.GetAllRules()

	// 如果没有过滤条件，直接返回所有规则
	if mode == "" && state == "" {
		logrus.WithFields(logrus.Fields{
			"rule_count": len(allRules),
			"operation":  "get_all_rules",
		}).Debug("获取所有规则")

		return c.JSON(http.StatusOK, Response{
			Code:    http.StatusOK,
			Message: "获取规则配置成功",
			Data:    allRules,
		})
	}

	// 应用过滤
	filteredRules := make(map[string]*ruleEngine.Rule)
	for id, rule := range allRules {
		// 过滤模式
		if mode != "" && rule.RuleMode != mode {
			continue
		}

		// 过滤状态
		if state != "" && rule.State != state {
			continue
		}

		filteredRules[id] = rule
	}

	logrus.WithFields(logrus.Fields{
		"total_rules":    len(allRules),
		"filtered_rules": len(filteredRules),
		"mode":           mode,
		"state":          state,
		"operation":      "filter_rules",
	}).Debug("过滤规则")

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "获取规则配置成功",
		Data:    filteredRules,
	})
}

// GetRuleConfig 获取特定规则配置
func (rs *RuleService) GetRuleConfig(c echo.Context) error {
	ruleID := c.Param("rule_id")
	if ruleID == "" {
		return HandleError(c, NewRuleIDEmptyError())
	}

	//检查规则是否存在
	rule, exists := rs.ruleLoader.GetRule(ruleID)
	if !exists {
		return HandleError(c, NewRuleNotFoundError(ruleID))
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "获取规则配置成功",
		Data:    rule,
	})
}

// CreateRule 创建规则
func (rs *RuleService) CreateRule(c echo.Context) error {
	ruleID := c.Param("rule_id")
	if ruleID == "" {
		return HandleError(c, NewRuleIDEmptyError())
	}

	// 检查规则是否已存在
	if _, exists := rs.ruleLoader.GetRule(ruleID); exists {
		return HandleError(c, NewRuleAlreadyExistsError(ruleID))
	}

	// 解析请求体
	var rule ruleEngine.Rule
	if err := c.Bind(&rule); err != nil {
		return HandleError(c, NewInvalidRuleFormatError(err))
	}

	// 设置规则ID
	rule.RuleID = ruleID

	// 验证规则
	if err := rs.validateRule(&rule); err != nil {
		return HandleError(c, NewRuleValidationError(err))
	}

	// 持久化并热更新规则引擎
	if err := rs.persistAndReload(&rule); err != nil {
		return HandleError(c, err)
	}

	return c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "创建规则成功",
		Data:    rule,
	})
}

// UpdateRule 更新规则
func (rs *RuleService) UpdateRule(c echo.Context) error {
	ruleID := c.Param("rule_id")
	if ruleID == "" {
		return HandleError(c, NewRuleIDEmptyError())
	}

	// 第一步：解析请求体中的规则，并验证规则
	var rule ruleEngine.Rule
	if err := c.Bind(&rule); err != nil {
		return HandleError(c, NewInvalidRuleFormatError(err))
	}

	// 保持规则ID一致
	rule.RuleID = ruleID

	// 验证规则有效性
	if err := rs.validateRule(&rule); err != nil {
		return HandleError(c, NewRuleValidationError(err))
	}

	// 第二步：在内存映射表中查找规则是否存在
	if _, exists := rs.ruleLoader.GetRule(ruleID); !exists {
		return HandleError(c, NewRuleNotFoundError(ruleID))
	}

	// 第三步：持久化并更新规则引擎中的匹配规则
	if err := rs.persistAndReload(&rule); err != nil {
		return HandleError(c, err)
	}

	logrus.WithFields(logrus.Fields{
		"rule_id":   ruleID,
		"operation": "update",
	}).Info("规则更新成功")

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "更新规则成功",
		Data:    rule,
	})
}

// persistAndReload 将规则写入规则目录并通知规则引擎热更新
func (rs *RuleService) persistAndReload(rule *ruleEngine.Rule) error {
	data, err := yaml.Marshal(rule)
	if err != nil {
		return NewInternalServerError(fmt.Errorf("序列化规则失败: %w", err))
	}

	filePath := filepath.Join(rs.ruleDir, rule.RuleID+".yaml")
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return NewInternalServerError(fmt.Errorf("保存规则文件失败: %w", err))
	}

	// 重新加载规则到内存映射表
	if err := rs.ruleLoader.LoadRuleFromFile(filePath); err != nil {
		return NewInternalServerError(fmt.Errorf("加载规则失败: %w", err))
	}

	// 通知规则处理器增量更新规则
	if rs.ruleProcessor != nil {
		if err := rs.ruleProcessor.ReloadRules(); err != nil {
			logrus.WithFields(logrus.Fields{
				"rule_id": rule.RuleID,
				"error":   err.Error(),
			}).Warn("重新加载规则引擎失败")
			return NewInternalServerError(fmt.Errorf("重新加载规则引擎失败: %w", err))
		}
	}
	return nil
}

// DeleteRule 删除规则
func (rs *RuleService) DeleteRule(c echo.Context) error {
	ruleID := c.Param("rule_id")

	// 检查规则是否存在
	if _, exists := rs.ruleLoader.GetRule(ruleID); !exists {
		return HandleError(c, NewRuleNotFoundError(ruleID))
	}

	// 尝试删除YAML格式的规则文件
	yamlFilePath := filepath.Join(rs.ruleDir, ruleID+".yaml")
	ymlFilePath := filepath.Join(rs.ruleDir, ruleID+".yml")

	removed := false
	for _, path := range []string{yamlFilePath, ymlFilePath} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			logrus.WithFields(logrus.Fields{
				"rule_id": ruleID,
				"path":    path,
				"error":   err.Error(),
			}).Error("删除规则文件失败")
			continue
		}
		removed = true
	}

	if !removed {
		return HandleError(c, NewInternalServerError(fmt.Errorf("删除规则文件失败，未找到任何匹配的文件")))
	}

	rs.ruleLoader.RemoveRule(ruleID)

	// 通知规则处理器更新规则
	if rs.ruleProcessor != nil {
		if err := rs.ruleProcessor.ReloadRules(); err != nil {
			logrus.WithFields(logrus.Fields{
				"rule_id": ruleID,
				"error":   err.Error(),
			}).Warn("重新加载规则引擎失败")
		}
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "删除规则成功",
	})
}

// StartRule 启动规则
func (rs *RuleService) StartRule(c echo.Context) error {
	return rs.switchRuleState(c, "enable", "规则已处于启用状态", "start")
}

// StopRule 停止规则
func (rs *RuleService) StopRule(c echo.Context) error {
	return rs.switchRuleState(c, "disable", "规则已处于禁用状态", "stop")
}

// switchRuleState 切换规则启停状态并持久化
func (rs *RuleService) switchRuleState(c echo.Context, state, alreadyMsg, operation string) error {
	ruleID := c.Param("rule_id")

	// 检查规则是否存在
	rule, exists := rs.ruleLoader.GetRule(ruleID)
	if !exists {
		return HandleError(c, NewRuleNotFoundError(ruleID))
	}

	// 如果规则已经处于目标状态，直接返回成功
	if rule.State == state {
		return c.JSON(http.StatusOK, Response{
			Code:    http.StatusOK,
			Message: alreadyMsg,
			Data:    rule,
		})
	}

	updated := *rule
	updated.State = state
	if err := rs.persistAndReload(&updated); err != nil {
		return HandleError(c, err)
	}

	logrus.WithFields(logrus.Fields{
		"rule_id":   ruleID,
		"operation": operation,
	}).Info("规则状态已切换")

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "更新规则成功",
		Data:    updated,
	})
}

// ValidateRule 验证规则表达式有效性，不落盘
func (rs *RuleService) ValidateRule(c echo.Context) error {
	var rule ruleEngine.Rule
	if err := c.Bind(&rule); err != nil {
		return HandleError(c, NewInvalidRuleFormatError(err))
	}

	if err := rs.validateRule(&rule); err != nil {
		return HandleError(c, NewRuleValidationError(err))
	}

	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "规则验证通过",
	})
}

// validateRule 验证规则的有效性
func (rs *RuleService) validateRule(rule *ruleEngine.Rule) error {
	// 验证规则模式
	if rule.RuleMode != "whitelist" && rule.RuleMode != "blacklist" {
		return fmt.Errorf("规则模式必须是 whitelist 或 blacklist")
	}

	// 验证规则状态
	if rule.State != "enable" && rule.State != "disable" {
		return fmt.Errorf("规则状态必须是 enable 或 disable")
	}

	// 验证表达式
	if rule.Expression == "" {
		return fmt.Errorf("规则表达式不能为空")
	}
	if rs.ruleProcessor != nil {
		if err := rs.ruleProcessor.ValidateGooseExpression(rule.Expression); err != nil {
			return err
		}
	}

	return nil
}
