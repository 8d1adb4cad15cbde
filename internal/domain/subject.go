package domain

// Subject — участник гильдии, за статусом которого следит бот.
type Subject struct {
	ID    string `json:"id"`
	Label string `json:"label"` // display name, только для логов
}

// Action — корректирующее действие над ролью.
type Action int

const (
	ActionNoOp Action = iota
	ActionGrant
	ActionRevoke
)

func (a Action) String() string {
	switch a {
	case ActionGrant:
		return "grant"
	case ActionRevoke:
		return "revoke"
	default:
		return "noop"
	}
}
