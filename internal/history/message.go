package history

import "fmt"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// StatusFailed marks a turn recorded in place of a reply that never arrived.
const StatusFailed = "failed"

// TimestampLayout is the hour:minute layout used when a caller omits the timestamp.
const TimestampLayout = "15:04"

// Message is a single conversation turn.
type Message struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status,omitempty"`
}

// Failed reports whether the message is a failure marker.
func (m Message) Failed() bool { return m.Status == StatusFailed }

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleAssistant, RoleSystem:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}
