package rules

import "fmt"

// Action kinds as written in the catalog.
const (
	KindUpdateStatus = "update_status"
	KindSetFlag      = "set_flag"
	KindSendEmail    = "send_email"
)

// Action is one effect a rule asks for. The set of implementations is
// closed: UpdateStatus, SetFlag and SendEmail.
type Action interface {
	Kind() string
	String() string
	isAction()
}

// UpdateStatus moves the PO to a new lifecycle status.
type UpdateStatus struct {
	Value string `json:"value"`
}

func (UpdateStatus) Kind() string { return KindUpdateStatus }
func (a UpdateStatus) String() string {
	return fmt.Sprintf("update_status(%s)", a.Value)
}
func (UpdateStatus) isAction() {}

// SetFlag writes one stored boolean flag.
type SetFlag struct {
	Name  string `json:"name"`
	Value bool   `json:"value"`
}

func (SetFlag) Kind() string { return KindSetFlag }
func (a SetFlag) String() string {
	return fmt.Sprintf("set_flag(%s=%t)", a.Name, a.Value)
}
func (SetFlag) isAction() {}

// SendEmail notifies a party, identified by alias, with generated content
// for a scenario.
type SendEmail struct {
	To       string `json:"to"`
	Scenario string `json:"scenario"`
}

func (SendEmail) Kind() string { return KindSendEmail }
func (a SendEmail) String() string {
	return fmt.Sprintf("send_email(%s, %s)", a.To, a.Scenario)
}
func (SendEmail) isAction() {}

// Step is an action tagged with the rule that produced it. Actions forced
// by the engine carry an empty Rule.
type Step struct {
	Rule   string `json:"rule,omitempty"`
	Action Action `json:"action"`
}
