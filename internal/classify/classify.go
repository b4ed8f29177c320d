// Package classify assigns a category to uncategorized memory content using
// an ordered keyword rule table.
package classify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/felixgeelhaar/mnemo/internal/memory"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Classifier picks a category for content.
type Classifier interface {
	Classify(content string) memory.Category
}

// Rule maps a category to the keywords that select it. A keyword holding
// glob metacharacters is matched against each word of the content.
type Rule struct {
	Category memory.Category
	Keywords []string
}

// DefaultRules checks Work, Family, Friendship then Happiness.
var DefaultRules = []Rule{
	{Category: memory.Work, Keywords: []string{"工作", "项目", "work", "project"}},
	{Category: memory.Family, Keywords: []string{"家庭", "父母", "family", "parents"}},
	{Category: memory.Friendship, Keywords: []string{"朋友", "聚会", "friend", "party"}},
	{Category: memory.Happiness, Keywords: []string{"开心", "高兴", "happy", "glad"}},
}

type matcher struct {
	keyword string
	glob    bool
}

type compiledRule struct {
	category memory.Category
	matchers []matcher
}

// Rules is a Classifier over an ordered rule table. The first rule with a
// matching keyword wins; content matching none is Other. Matching is case
// insensitive.
type Rules struct {
	rules []compiledRule
}

// New compiles rules. Invalid glob patterns are rejected.
func New(rules []Rule) (*Rules, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if !r.Category.Valid() {
			return nil, goerr.Wrap(memory.ErrInvalidInput, "invalid rule category", goerr.V("category", int(r.Category)))
		}
		cr := compiledRule{category: r.Category}
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			glob := strings.ContainsAny(kw, "*?[{")
			if glob && !doublestar.ValidatePattern(kw) {
				return nil, goerr.Wrap(memory.ErrInvalidInput, "invalid keyword pattern", goerr.V("pattern", kw))
			}
			cr.matchers = append(cr.matchers, matcher{keyword: kw, glob: glob})
		}
		compiled = append(compiled, cr)
	}
	return &Rules{rules: compiled}, nil
}

// Default returns the built-in rule table.
func Default() *Rules {
	r, err := New(DefaultRules)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Rules) Classify(content string) memory.Category {
	lower := strings.ToLower(content)
	var words []string

	for _, rule := range r.rules {
		for _, m := range rule.matchers {
			if !m.glob {
				if strings.Contains(lower, m.keyword) {
					return rule.category
				}
				continue
			}
			if words == nil {
				words = strings.Fields(lower)
			}
			for _, w := range words {
				if ok, _ := doublestar.Match(m.keyword, w); ok {
					return rule.category
				}
			}
		}
	}
	return memory.Other
}

type ruleFile struct {
	Rules []struct {
		Category string   `json:"category" yaml:"category"`
		Keywords []string `json:"keywords" yaml:"keywords"`
	} `json:"rules" yaml:"rules"`
}

// LoadRules reads a rule table from a JSON or YAML file. Categories are given
// by name or ordinal.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read rules file", goerr.V("path", path))
	}

	var rf ruleFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, &rf); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal JSON rules", goerr.V("path", path))
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal YAML rules", goerr.V("path", path))
		}
	default:
		return nil, goerr.Wrap(memory.ErrInvalidInput, "unsupported rules format (use .json or .yaml)", goerr.V("ext", ext))
	}

	rules := make([]Rule, 0, len(rf.Rules))
	for _, r := range rf.Rules {
		cat, err := memory.ParseCategory(r.Category)
		if err != nil {
			return nil, err
		}
		rules = append(rules, Rule{Category: cat, Keywords: r.Keywords})
	}
	return rules, nil
}

// ValidationResult is the outcome of linting a rule table.
type ValidationResult struct {
	Valid    bool
	Warnings []string
	Errors   []string
}

// Validate lints rules. Shadowed keywords are warnings since the earlier rule
// always wins.
func Validate(rules []Rule) ValidationResult {
	res := ValidationResult{
		Valid:    true,
		Warnings: []string{},
		Errors:   []string{},
	}

	if len(rules) == 0 {
		res.Warnings = append(res.Warnings, "No rules; every memory is classified as other")
	}

	seen := map[string]memory.Category{}
	for i, r := range rules {
		if !r.Category.Valid() {
			res.Valid = false
			res.Errors = append(res.Errors, "rule "+strconv.Itoa(i)+": invalid category")
			continue
		}
		if len(r.Keywords) == 0 {
			res.Valid = false
			res.Errors = append(res.Errors, "rule "+strconv.Itoa(i)+" ("+r.Category.String()+"): no keywords")
		}
		for _, kw := range r.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				res.Warnings = append(res.Warnings, "rule "+strconv.Itoa(i)+" ("+r.Category.String()+"): empty keyword ignored")
				continue
			}
			if prev, ok := seen[kw]; ok && prev != r.Category {
				res.Warnings = append(res.Warnings, "keyword "+kw+" of "+r.Category.String()+" is shadowed by "+prev.String())
				continue
			}
			seen[kw] = r.Category
		}
	}
	return res
}
