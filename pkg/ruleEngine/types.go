package ruleEngine

// Rule 表示一条GOOSE检测规则配置
type Rule struct {
	State       string `yaml:"state" json:"state"`             // 规则状态 enable/disable
	RuleID      string `yaml:"rule_id" json:"rule_id"`         // 规则ID
	RuleName    string `yaml:"rule_name" json:"rule_name"`     // 规则名称
	RuleMode    string `yaml:"rule_mode" json:"rule_mode"`     // 规则模式 (whitelist/blacklist)
	Expression  string `yaml:"expression" json:"expression"`   // CEL规则表达式
	Description string `yaml:"description" json:"description"` // 规则描述
}
