package model

// ActionType is the kind of user interaction that was observed.
type ActionType string

const (
	ActionClick  ActionType = "click"
	ActionSubmit ActionType = "submit"
	ActionKey    ActionType = "key"
)

// ActionRecord is one user interaction preceding a fault.
type ActionRecord struct {
	Type     ActionType `json:"type" validate:"oneof=click submit key"`
	Label    string     `json:"label"`
	Selector string     `json:"selector,omitempty"`
	Time     int64      `json:"time"`
}

// Known reports whether the action type is one the observer produces.
func (a ActionRecord) Known() bool {
	switch a.Type {
	case ActionClick, ActionSubmit, ActionKey:
		return true
	}
	return false
}
