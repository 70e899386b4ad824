package types

// RuleMatchResult 表示表达式规则引擎的匹配结果
type RuleMatchResult struct {
	WhiteRuleMatched bool   // 白名单规则是否匹配
	BlackRuleMatched bool   // 黑名单规则是否匹配
	WhiteRuleID      string // 匹配的白名单规则ID
	BlackRuleID      string // 匹配的黑名单规则ID
	Description      string // 匹配规则的描述
	Action           RuleAction
}

// RuleAction 表示规则匹配后的动作
// 可能的动作：
// 1. ActionDeliver: 报文可信，正常交付给sink
// 2. ActionAlert: 命中黑名单或不在白名单内，交付并触发告警
// 3. ActionDrop: 丢弃报文，仅计数
type RuleAction uint8

const (
	ActionDeliver RuleAction = iota + 1 // 正常交付给sink
	ActionAlert                         // 交付并触发告警
	ActionDrop                          // 丢弃并计数
)
