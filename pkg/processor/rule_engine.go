package processor

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"github.com/sirupsen/logrus"

	"github.com/zhanghaoyu/goose_traffic_engine/pkg/metrics"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/ruleEngine"
	"github.com/zhanghaoyu/goose_traffic_engine/pkg/types"
)

// gooseDeclarations 声明规则表达式可见的全部GOOSE字段
func gooseDeclarations() cel.EnvOption {
	return cel.Declarations(
		// 报文标识字段
		decls.NewVar("goose.app_id", decls.Int),
		decls.NewVar("goose.go_id", decls.String),
		decls.NewVar("goose.gocb_ref", decls.String),
		decls.NewVar("goose.data_set", decls.String),
		decls.NewVar("goose.conf_rev", decls.Int),

		// 序列与时序字段
		decls.NewVar("goose.st_num", decls.Int),
		decls.NewVar("goose.sq_num", decls.Int),
		decls.NewVar("goose.timestamp", decls.Int),
		decls.NewVar("goose.time_allowed_to_live", decls.Int),

		// 状态标志
		decls.NewVar("goose.test", decls.Bool),
		decls.NewVar("goose.nds_com", decls.Bool),
		decls.NewVar("goose.is_retransmission", decls.Bool),
		decls.NewVar("goose.parse_incomplete", decls.Bool),
		decls.NewVar("goose.num_entries", decls.Int),

		// 链路层字段
		decls.NewVar("goose.src_mac", decls.String),
		decls.NewVar("goose.dst_mac", decls.String),
		decls.NewVar("goose.device", decls.String),
	)
}

type compiledRule struct {
	rule    *ruleEngine.Rule
	program cel.Program
}

// RuleEngine 对解码后的GOOSE报文执行CEL表达式规则检测
// 黑名单规则优先于白名单，规则可在运行期热更新
type RuleEngine struct {
	mu             sync.RWMutex // 互斥锁，保护共享资源
	Env            *cel.Env
	whitelistRules map[string]*compiledRule // key为规则ID
	blacklistRules map[string]*compiledRule // key为规则ID
	// 规则表达式哈希表，用于热更新时跟踪规则变化
	expressionHashes map[string]string
	ruleDirectory    string
	stats            *metrics.ProcessorMetrics
}

func NewRuleEngine(rules map[string]*ruleEngine.Rule) (*RuleEngine, error) {
	env, err := cel.NewEnv(gooseDeclarations())
	if err != nil {
		return nil, fmt.Errorf("create cel env failed: %v", err)
	}

	r := &RuleEngine{
		Env:              env,
		whitelistRules:   make(map[string]*compiledRule),
		blacklistRules:   make(map[string]*compiledRule),
		expressionHashes: make(map[string]string),
		stats:            &metrics.ProcessorMetrics{},
	}

	for ruleID, rule := range rules {
		if err := r.compileAndStore(env, rule, ruleID); err != nil {
			return nil, err
		}
		r.expressionHashes[ruleID] = calculateExpressionHash(rule.Expression)
	}
	return r, nil
}

// NewRuleEngineProcessor 从规则目录创建规则引擎处理器
func NewRuleEngineProcessor(ruleDirectory string) (*RuleEngine, error) {
	loader := ruleEngine.NewRuleLoader()

	// 从文件夹加载全部黑名单和白名单规则
	if err := loader.LoadRulesFromDirectory(ruleDirectory); err != nil {
		return nil, fmt.Errorf("load rules failed: %v", err)
	}

	r, err := NewRuleEngine(loader.GetAllRules())
	if err != nil {
		return nil, err
	}
	r.ruleDirectory = ruleDirectory
	return r, nil
}

// compileAndStore 编译规则并按模式归档，调用方负责持锁
func (r *RuleEngine) compileAndStore(env *cel.Env, rule *ruleEngine.Rule, ruleID string) error {
	program, err := compileRuleToProgram(env, rule)
	if err != nil {
		return fmt.Errorf("compile rule %s failed: %v", ruleID, err)
	}

	entry := &compiledRule{rule: rule, program: program}
	switch rule.RuleMode {
	case "blacklist":
		r.blacklistRules[ruleID] = entry
	case "whitelist":
		r.whitelistRules[ruleID] = entry
	default:
		return fmt.Errorf("不支持的规则模式: %s", rule.RuleMode)
	}
	return nil
}

// Process 是规则引擎的主要处理函数
// 处理流程：
// 1. 首先检查黑名单规则
// 2. 如果黑名单未匹配，则检查白名单规则
// 3. 根据规则匹配结果决定报文的处理动作（交付或告警）
func (r *RuleEngine) Process(ctx context.Context, in <-chan *types.Packet, wg *sync.WaitGroup) (<-chan *types.Packet, error) {
	out := make(chan *types.Packet)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(out)

		for packet := range in {
			r.evaluate(packet)
			r.stats.IncrementProcessed()

			select {
			case out <- packet:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// evaluate 对单条报文执行规则匹配并填充RuleResult
func (r *RuleEngine) evaluate(packet *types.Packet) {
	if packet.Message == nil {
		packet.RuleResult = &types.RuleMatchResult{Action: types.ActionDeliver}
		return
	}

	vars := buildEvalVars(packet)

	// 使用读锁保护规则访问，规则可能被热更新
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := &types.RuleMatchResult{}

	// 第一步：黑名单规则优先，用于拦截可疑流量
	for ruleID, entry := range r.blacklistRules {
		if entry.rule.State != "enable" {
			continue
		}
		matched, err := evaluateProgram(entry.program, vars)
		if err != nil {
			packet.LastError = err
			continue
		}
		if matched {
			result.BlackRuleMatched = true
			result.BlackRuleID = ruleID
			result.Description = entry.rule.Description
			break
		}
	}

	// 第二步：黑名单未命中时检查白名单规则
	whitelistEvaluated := false
	if !result.BlackRuleMatched {
		for ruleID, entry := range r.whitelistRules {
			if entry.rule.State != "enable" {
				continue
			}
			whitelistEvaluated = true
			matched, err := evaluateProgram(entry.program, vars)
			if err != nil {
				packet.LastError = err
				continue
			}
			if matched {
				result.WhiteRuleMatched = true
				result.WhiteRuleID = ruleID
				result.Description = entry.rule.Description
				break
			}
		}
	}

	// 第三步：根据匹配结果决定处理动作
	switch {
	case result.BlackRuleMatched:
		// 黑名单匹配成功：发现可疑流量，交付并触发告警
		result.Action = types.ActionAlert
		r.stats.IncrementBlacklistMatched()
	case result.WhiteRuleMatched:
		// 白名单匹配成功：报文可信，正常交付
		result.Action = types.ActionDeliver
		r.stats.IncrementWhitelistMatched()
	case whitelistEvaluated:
		// 配置了白名单但未命中：不在允许列表中，触发告警
		result.Action = types.ActionAlert
	default:
		// 未配置任何可用规则：默认交付，防止误拦截关键报文
		result.Action = types.ActionDeliver
	}

	packet.RuleResult = result
}

// buildEvalVars 根据报文构建CEL评估变量
func buildEvalVars(packet *types.Packet) map[string]interface{} {
	msg := packet.Message

	return map[string]interface{}{
		"goose.app_id":   int64(msg.AppID),
		"goose.go_id":    msg.GoID,
		"goose.gocb_ref": msg.GoCbRef,
		"goose.data_set": msg.DataSet,
		"goose.conf_rev": int64(msg.ConfRev),

		"goose.st_num":               int64(msg.StNum),
		"goose.sq_num":               int64(msg.SqNum),
		"goose.timestamp":            int64(msg.Timestamp),
		"goose.time_allowed_to_live": int64(msg.TimeAllowedToLive),

		"goose.test":              msg.Test,
		"goose.nds_com":           msg.NdsCom,
		"goose.is_retransmission": msg.IsRetransmission,
		"goose.parse_incomplete":  msg.ParseIncomplete,
		"goose.num_entries":       int64(msg.NumDatSetEntries),

		"goose.src_mac": msg.SrcMAC.String(),
		"goose.dst_mac": msg.DstMAC.String(),
		"goose.device":  packet.Device,
	}
}

// compileRuleToProgram 编译CEL规则
func compileRuleToProgram(env *cel.Env, rule *ruleEngine.Rule) (cel.Program, error) {
	if rule == nil {
		return nil, fmt.Errorf("rule is nil")
	}
	if rule.Expression == "" {
		return nil, fmt.Errorf("rule %s has empty expression", rule.RuleID)
	}

	// 1.编译表达式，生成AST
	ast, iss := env.Compile(rule.Expression)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile expression failed: %v", iss.Err())
	}

	// 2.检查表达式是否正确
	checked, iss := env.Check(ast)
	if iss.Err() != nil {
		return nil, fmt.Errorf("check expression failed: %v", iss.Err())
	}

	// 3.表达式必须返回布尔值
	if !checked.OutputType().IsAssignableType(cel.BoolType) {
		return nil, fmt.Errorf("expression must return bool, got: %s", checked.OutputType().String())
	}

	// 4.将AST转换为程序Program
	program, err := env.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("create program failed: %v", err)
	}

	return program, nil
}

// evaluateProgram 评估规则程序
func evaluateProgram(program cel.Program, vars map[string]interface{}) (bool, error) {
	if program == nil {
		return false, fmt.Errorf("program is nil")
	}

	result, _, err := program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("evaluate rule failed: %v", err)
	}

	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule result is not boolean: %v", result.Value())
	}

	return matched, nil
}

func (r *RuleEngine) Stage() types.Stage {
	return types.StageRuleEngineDetection
}

func (r *RuleEngine) Name() string {
	return "RuleEngine"
}

func (r *RuleEngine) CheckReady() error {
	if r.Env == nil {
		return types.ErrProcessorNotReady
	}
	return nil
}

func (r *RuleEngine) GetStats() *metrics.ProcessorMetrics {
	return r.stats
}

// ReloadRules 重新加载规则目录并热更新规则引擎
// 只重新编译表达式发生变化的规则，已删除的规则同步移除
func (r *RuleEngine) ReloadRules() error {
	if r.ruleDirectory == "" {
		return fmt.Errorf("规则目录未配置")
	}

	loader := ruleEngine.NewRuleLoader()
	if err := loader.LoadRulesFromDirectory(r.ruleDirectory); err != nil {
		return fmt.Errorf("加载规则目录失败: %v", err)
	}
	rules := loader.GetAllRules()

	// 创建新环境（不需要锁，只是创建对象）
	env, err := cel.NewEnv(gooseDeclarations())
	if err != nil {
		return fmt.Errorf("创建CEL环境失败: %v", err)
	}

	// 修改共享资源前获取写锁
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Env = env

	processedRuleIDs := make(map[string]bool)
	for ruleID, rule := range rules {
		processedRuleIDs[ruleID] = true

		newHash := calculateExpressionHash(rule.Expression)
		oldHash, exists := r.expressionHashes[ruleID]
		if exists && oldHash == newHash {
			// 表达式未变化时仍需更新状态等元数据
			if entry, ok := r.blacklistRules[ruleID]; ok {
				entry.rule = rule
			}
			if entry, ok := r.whitelistRules[ruleID]; ok {
				entry.rule = rule
			}
			continue
		}

		// 新规则或表达式已变化，重新编译
		delete(r.blacklistRules, ruleID)
		delete(r.whitelistRules, ruleID)
		if err := r.compileAndStore(env, rule, ruleID); err != nil {
			logrus.WithFields(logrus.Fields{
				"rule_id": ruleID,
				"error":   err.Error(),
			}).Error("热更新规则失败")
			return err
		}
		r.expressionHashes[ruleID] = newHash
	}

	// 移除已删除的规则
	for ruleID := range r.expressionHashes {
		if !processedRuleIDs[ruleID] {
			delete(r.expressionHashes, ruleID)
			delete(r.blacklistRules, ruleID)
			delete(r.whitelistRules, ruleID)
			logrus.WithField("rule_id", ruleID).Info("规则已从引擎中移除")
		}
	}

	return nil
}

// calculateExpressionHash 计算表达式的哈希值
func calculateExpressionHash(expression string) string {
	h := sha256.New()
	h.Write([]byte(expression))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ValidateGooseExpression 验证GOOSE规则表达式是否有效，返回详细错误信息
func (r *RuleEngine) ValidateGooseExpression(expression string) error {
	if expression == "" {
		return fmt.Errorf("表达式不能为空")
	}

	env, err := cel.NewEnv(gooseDeclarations())
	if err != nil {
		return fmt.Errorf("创建CEL环境失败: %v", err)
	}

	ast, iss := env.Compile(expression)
	if iss.Err() != nil {
		return fmt.Errorf("表达式编译错误: %v", iss.Err())
	}

	checked, iss := env.Check(ast)
	if iss.Err() != nil {
		return fmt.Errorf("表达式类型检查错误: %v", iss.Err())
	}

	if !checked.OutputType().IsAssignableType(cel.BoolType) {
		return fmt.Errorf("表达式必须返回布尔值，当前返回: %s", checked.OutputType().String())
	}

	return nil
}
