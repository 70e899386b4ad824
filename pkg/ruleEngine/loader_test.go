package ruleEngine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadRuleFromFile 测试从文件加载规则
func TestLoadRuleFromFile(t *testing.T) {
	testCases := []struct {
		name           string
		filePath       string
		wantErr        bool
		expectedRuleID string
		expectedMode   string
		expectedState  string
		expectedExpr   string
	}{
		{
			name:           "加载白名单规则",
			filePath:       "../../rules/goose_rules_whitelist.yaml",
			wantErr:        false,
			expectedRuleID: "goose_whitelist_001",
			expectedMode:   "whitelist",
			expectedState:  "enable",
			expectedExpr:   "goose.go_id.startsWith(\"TestIED\")",
		},
		{
			name:           "加载黑名单规则",
			filePath:       "../../rules/goose_rules_blacklist.yaml",
			wantErr:        false,
			expectedRuleID: "goose_blacklist_001",
			expectedMode:   "blacklist",
			expectedState:  "enable",
			expectedExpr:   "goose.test == true",
		},
		{
			name:     "加载不存在的文件",
			filePath: "../../rules/not_exist_file.yaml",
			wantErr:  true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			loader := NewRuleLoader()
			err := loader.LoadRuleFromFile(tc.filePath)

			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			rule, exists := loader.GetRule(tc.expectedRuleID)
			require.True(t, exists, "未找到预期的规则")

			assert.Equal(t, tc.expectedMode, rule.RuleMode, "规则模式不匹配")
			assert.Equal(t, tc.expectedState, rule.State, "规则状态不匹配")
			assert.NotEmpty(t, rule.RuleName, "规则名称为空")
			assert.NotEmpty(t, rule.Description, "规则描述为空")
			assert.Contains(t, rule.Expression, tc.expectedExpr, "规则表达式不匹配")
		})
	}
}

// TestLoadRuleValidation 测试规则文件的合法性校验
func TestLoadRuleValidation(t *testing.T) {
	dir := t.TempDir()

	// 缺少rule_id的规则
	noID := filepath.Join(dir, "no_id.yaml")
	require.NoError(t, os.WriteFile(noID, []byte("state: enable\nrule_mode: whitelist\nexpression: 'true'\n"), 0644))

	loader := NewRuleLoader()
	assert.Error(t, loader.LoadRuleFromFile(noID))

	// rule_mode非法的规则
	badMode := filepath.Join(dir, "bad_mode.yaml")
	require.NoError(t, os.WriteFile(badMode, []byte("state: enable\nrule_id: goose_x\nrule_mode: graylist\nexpression: 'true'\n"), 0644))
	assert.Error(t, loader.LoadRuleFromFile(badMode))
}

// TestLoadRulesFromDirectory 测试从目录加载所有规则
func TestLoadRulesFromDirectory(t *testing.T) {
	loader := NewRuleLoader()

	err := loader.LoadRulesFromDirectory("../../rules")
	assert.NoError(t, err)

	rules := loader.GetAllRules()
	assert.NotEmpty(t, rules)

	blacklistRule, exists := loader.GetRule("goose_blacklist_001")
	assert.True(t, exists)
	assert.Equal(t, "blacklist", blacklistRule.RuleMode)
	assert.Contains(t, blacklistRule.Expression, "goose.nds_com")

	whitelistRule, exists := loader.GetRule("goose_whitelist_001")
	assert.True(t, exists)
	assert.Equal(t, "whitelist", whitelistRule.RuleMode)
	assert.Contains(t, whitelistRule.Expression, "startsWith")
}
