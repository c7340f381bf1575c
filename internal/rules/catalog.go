// Package rules loads the declarative rule catalog and selects the actions
// for a classified event.
//
// A catalog is an ordered list of rules. Each rule has a name, a set of
// predicates under "when" and an ordered list of actions under "then":
//
//	- name: delivery_overdue_followup
//	  when:
//	    from_role: [system]
//	    delivery_date_past: true
//	  then:
//	    - action: send_email
//	      to: supplier
//	      scenario: delivery_delay_followup
//
// The first rule whose predicates all hold wins.
package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/daviddao/poflow/internal/types"
	"gopkg.in/yaml.v3"
)

// Predicate keys accepted under "when".
const (
	keyFromRole            = "from_role"
	keyEntity              = "entity"
	keyStatusIn            = "status_in"
	keyStatusNotIn         = "status_not_in"
	keyStatusIs            = "status_is"
	keyDeliveryDatePast    = "delivery_date_past"
	keyDeliveryDateMissing = "delivery_date_missing"
	keySLAHoursOver        = "sla_hours_over"
	keySilentOver          = "supplier_silent_over_seconds_over"
	keyNoResponseFollowup  = "last_outbound_to_supplier_is_no_response_followup"
	keyKeywordsAny         = "keywords_any"
	keyIntentIn            = "intent_in"
)

// When is the predicate set of a rule. A nil slice or pointer means the
// dimension is unconstrained; a non-nil empty slice matches nothing.
type When struct {
	FromRole            []string `json:"from_role,omitempty"`
	Entity              []string `json:"entity,omitempty"`
	StatusIn            []string `json:"status_in,omitempty"`
	StatusNotIn         []string `json:"status_not_in,omitempty"`
	StatusIs            *string  `json:"status_is,omitempty"`
	DeliveryDatePast    *bool    `json:"delivery_date_past,omitempty"`
	DeliveryDateMissing *bool    `json:"delivery_date_missing,omitempty"`
	SLAHoursOver        *float64 `json:"sla_hours_over,omitempty"`
	SilentOverSeconds   *float64 `json:"supplier_silent_over_seconds_over,omitempty"`
	NoResponseFollowup  *bool    `json:"last_outbound_to_supplier_is_no_response_followup,omitempty"`
	KeywordsAny         []string `json:"keywords_any,omitempty"`
	IntentIn            []string `json:"intent_in,omitempty"`
}

// Rule is one validated catalog entry.
type Rule struct {
	Name string   `json:"name"`
	When When     `json:"when"`
	Then []Action `json:"then"`
	Line int      `json:"line,omitempty"`
}

// Catalog is an immutable, ordered rule set.
type Catalog struct {
	Path   string
	Rules  []Rule
	Issues []Issue
}

// Len returns the number of usable rules.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Rules)
}

// HasErrors reports whether any diagnostic has error severity.
func (c *Catalog) HasErrors() bool {
	for _, i := range c.Issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Load reads a catalog file. It never fails: a missing or malformed file
// yields an empty catalog whose Issues explain why.
func Load(path string) *Catalog {
	data, err := os.ReadFile(path)
	if err != nil {
		msg := fmt.Sprintf("read catalog: %v", err)
		if errors.Is(err, os.ErrNotExist) {
			msg = "catalog file not found"
		}
		return &Catalog{
			Path:   path,
			Issues: []Issue{{Severity: SeverityError, Message: msg}},
		}
	}
	c := Parse(data)
	c.Path = path
	return c
}

// Parse decodes a catalog from YAML (or JSON). The document is either a
// list of rules or a mapping with a "rules" list. Invalid rules are dropped
// and reported.
func Parse(data []byte) *Catalog {
	c := &Catalog{}
	var issues issueList

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		issues.errorf("", 0, "", "parse catalog: %v", err)
		c.Issues = issues
		return c
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		c.Issues = issues
		return c
	}

	list := root.Content[0]
	if list.Kind == yaml.MappingNode {
		list = mappingValue(list, "rules")
		if list == nil {
			issues.errorf("", root.Content[0].Line, "", `expected a list of rules or a "rules" key`)
			c.Issues = issues
			return c
		}
	}
	if list.Kind != yaml.SequenceNode {
		issues.errorf("", list.Line, "", "expected a list of rules")
		c.Issues = issues
		return c
	}

	seen := make(map[string]bool)
	for i, item := range list.Content {
		rule, ok := parseRule(item, i, &issues)
		if !ok {
			continue
		}
		if seen[rule.Name] {
			issues.warnf(rule.Name, rule.Line, "name", "duplicate rule name")
		}
		seen[rule.Name] = true
		lintRule(&rule, &issues)
		c.Rules = append(c.Rules, rule)
	}

	c.Issues = issues
	return c
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

type rawRule struct {
	Name string               `yaml:"name"`
	When map[string]yaml.Node `yaml:"when"`
	Then []yaml.Node          `yaml:"then"`
}

func parseRule(node *yaml.Node, index int, issues *issueList) (Rule, bool) {
	var raw rawRule
	if err := node.Decode(&raw); err != nil {
		issues.errorf("", node.Line, "", "rule #%d: %v", index+1, err)
		return Rule{}, false
	}

	name := strings.TrimSpace(raw.Name)
	rule := Rule{Name: name, Line: node.Line}
	if name == "" {
		issues.errorf("", node.Line, "name", "rule #%d has no name", index+1)
		return rule, false
	}
	if raw.When == nil {
		issues.errorf(name, node.Line, "when", "missing when")
		return rule, false
	}
	if len(raw.Then) == 0 {
		issues.errorf(name, node.Line, "then", "missing or empty then")
		return rule, false
	}

	ok := true
	// Walk the when mapping in file order so diagnostics are stable.
	when := mappingValue(node, "when")
	for i := 0; when != nil && i+1 < len(when.Content); i += 2 {
		key, value := when.Content[i].Value, when.Content[i+1]
		if err := rule.When.set(key, value); err != nil {
			issues.errorf(name, value.Line, "when."+key, "%v", err)
			ok = false
		}
	}
	for i := range raw.Then {
		action, err := parseAction(&raw.Then[i])
		if err != nil {
			issues.errorf(name, raw.Then[i].Line, fmt.Sprintf("then[%d]", i), "%v", err)
			ok = false
			continue
		}
		rule.Then = append(rule.Then, action)
	}
	return rule, ok
}

func (w *When) set(key string, node *yaml.Node) error {
	var err error
	switch key {
	case keyFromRole:
		w.FromRole, err = decodeList(node)
	case keyEntity:
		w.Entity, err = decodeList(node)
	case keyStatusIn:
		w.StatusIn, err = decodeList(node)
	case keyStatusNotIn:
		w.StatusNotIn, err = decodeList(node)
	case keyStatusIs:
		w.StatusIs, err = decodePtr[string](node)
	case keyDeliveryDatePast:
		w.DeliveryDatePast, err = decodePtr[bool](node)
	case keyDeliveryDateMissing:
		w.DeliveryDateMissing, err = decodePtr[bool](node)
	case keySLAHoursOver:
		w.SLAHoursOver, err = decodePtr[float64](node)
	case keySilentOver:
		w.SilentOverSeconds, err = decodePtr[float64](node)
	case keyNoResponseFollowup:
		w.NoResponseFollowup, err = decodePtr[bool](node)
	case keyKeywordsAny:
		w.KeywordsAny, err = decodeList(node)
	case keyIntentIn:
		w.IntentIn, err = decodeList(node)
	default:
		return fmt.Errorf("unknown predicate %q", key)
	}
	return err
}

// decodeList accepts a sequence or a single scalar and never returns nil
// on success.
func decodeList(node *yaml.Node) ([]string, error) {
	if node.Kind == yaml.ScalarNode {
		if node.Tag == "!!null" {
			return nil, fmt.Errorf("expected a list, got null")
		}
		return []string{node.Value}, nil
	}
	var out []string
	if err := node.Decode(&out); err != nil {
		return nil, fmt.Errorf("expected a list of strings: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func decodePtr[T any](node *yaml.Node) (*T, error) {
	if node.Kind != yaml.ScalarNode || node.Tag == "!!null" {
		return nil, fmt.Errorf("expected a scalar value")
	}
	var v T
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

type rawAction struct {
	Action   string `yaml:"action"`
	Value    any    `yaml:"value"`
	Flag     string `yaml:"flag"`
	Name     string `yaml:"name"`
	To       string `yaml:"to"`
	Scenario string `yaml:"scenario"`
}

func parseAction(node *yaml.Node) (Action, error) {
	var raw rawAction
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}

	switch raw.Action {
	case KindUpdateStatus:
		value, ok := raw.Value.(string)
		if !ok || strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("update_status needs a string value")
		}
		return UpdateStatus{Value: strings.TrimSpace(value)}, nil

	case KindSetFlag:
		name := raw.Flag
		if name == "" {
			name = raw.Name
		}
		if name == "" {
			return nil, fmt.Errorf("set_flag needs a flag name")
		}
		value := true
		if raw.Value != nil {
			b, ok := raw.Value.(bool)
			if !ok {
				return nil, fmt.Errorf("set_flag value must be a boolean")
			}
			value = b
		}
		return SetFlag{Name: name, Value: value}, nil

	case KindSendEmail:
		if raw.To == "" || raw.Scenario == "" {
			return nil, fmt.Errorf("send_email needs to and scenario")
		}
		return SendEmail{To: strings.ToLower(raw.To), Scenario: raw.Scenario}, nil

	case "":
		return nil, fmt.Errorf("action kind missing")
	default:
		return nil, fmt.Errorf("unknown action %q", raw.Action)
	}
}

// lintRule reports values that parse but reference unknown vocabulary.
func lintRule(r *Rule, issues *issueList) {
	w := &r.When
	statuses := append(append([]string{}, w.StatusIn...), w.StatusNotIn...)
	if w.StatusIs != nil {
		statuses = append(statuses, *w.StatusIs)
	}
	for _, s := range statuses {
		if !types.IsValidStatus(s) {
			issues.warnf(r.Name, r.Line, "when", "unknown status %q", s)
		}
	}
	for _, role := range w.FromRole {
		switch types.Role(role) {
		case types.RoleInternal, types.RoleSupplier, types.RoleSystem:
		default:
			issues.warnf(r.Name, r.Line, "when.from_role", "unknown role %q", role)
		}
	}
	for _, intent := range w.IntentIn {
		if !types.IsValidIntent(strings.ToLower(intent)) {
			issues.warnf(r.Name, r.Line, "when.intent_in", "unknown intent %q", intent)
		}
	}
	if w.FromRole == nil && (w.SLAHoursOver != nil || w.SilentOverSeconds != nil) {
		issues.warnf(r.Name, r.Line, "when", "time-based rule without from_role never fires on scheduled checks")
	}

	for _, a := range r.Then {
		switch a := a.(type) {
		case UpdateStatus:
			if !types.IsValidStatus(a.Value) {
				issues.warnf(r.Name, r.Line, "then", "unknown status %q", a.Value)
			}
		case SetFlag:
			if !types.IsValidFlag(a.Name) {
				issues.warnf(r.Name, r.Line, "then", "unknown flag %q", a.Name)
			}
		case SendEmail:
			if !types.IsValidAlias(a.To) {
				issues.warnf(r.Name, r.Line, "then", "unknown recipient %q", a.To)
			}
			if !types.IsValidScenario(a.Scenario) {
				issues.warnf(r.Name, r.Line, "then", "unknown scenario %q", a.Scenario)
			}
		}
	}
}
