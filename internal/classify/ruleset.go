package classify

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v2"

	"quern/pkg/types"
)

// ruleFile is the on-disk shape of a classifier rule file: an ordered list
// of pattern rules, evaluated top to bottom exactly like Classifier.rules.
type ruleFile struct {
	Rules []struct {
		Sources  []string `yaml:"sources"`
		Process  string   `yaml:"process"`
		Message  string   `yaml:"message"`
		Level    string   `yaml:"level"`
		Category string   `yaml:"category"`
	} `yaml:"rules"`
}

// LoadRuleFile reads and compiles an ordered rule set from a YAML file. An
// empty Process/Message pattern matches anything, same as a nil regexp in a
// hand-built Rule.
func LoadRuleFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rule file: %w", err)
	}
	rules := make([]Rule, 0, len(doc.Rules))
	for i, raw := range doc.Rules {
		rule := Rule{Level: types.Level(raw.Level), Category: raw.Category}
		for _, s := range raw.Sources {
			rule.Sources = append(rule.Sources, types.Source(s))
		}
		if raw.Process != "" {
			re, err := regexp.Compile(raw.Process)
			if err != nil {
				return nil, fmt.Errorf("rule %d: process pattern: %w", i, err)
			}
			rule.Process = re
		}
		if raw.Message != "" {
			re, err := regexp.Compile(raw.Message)
			if err != nil {
				return nil, fmt.Errorf("rule %d: message pattern: %w", i, err)
			}
			rule.Message = re
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
