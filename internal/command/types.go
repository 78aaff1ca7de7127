package command

import "time"

// Status represents the lifecycle state of a command record.
type Status string

const (
	// StatusPending means the command was dispatched and no terminal
	// outcome has been recorded yet.
	StatusPending Status = "pending"

	// StatusCompleted means the device reported success.
	StatusCompleted Status = "completed"

	// StatusFailed means the device reported failure.
	StatusFailed Status = "failed"

	// StatusTimeout means no response arrived within the command window.
	StatusTimeout Status = "timeout"

	// StatusUnknown marks records left pending across a restart. The
	// true outcome can no longer be determined — the in-memory timer
	// that would have finalized the record died with the process.
	StatusUnknown Status = "unknown"
)

// IsValid returns true if the status is a recognised value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed, StatusTimeout, StatusUnknown:
		return true
	}
	return false
}

// Terminal returns true if the status is a final outcome.
func (s Status) Terminal() bool {
	return s != StatusPending && s.IsValid()
}

// Record is the durable mirror of a dispatched command. The in-memory
// pending map in the gateway is authoritative for live correlation; the
// record exists for history and for reconciliation after a restart.
type Record struct {
	CorrelationID string     `json:"correlationId"`
	DeviceID      string     `json:"deviceId"`
	TenantID      string     `json:"tenantId"`
	Command       string     `json:"command"`
	Parameters    string     `json:"parameters,omitempty"` // JSON-encoded
	IssuerID      string     `json:"issuerId,omitempty"`
	Status        Status     `json:"status"`
	Result        string     `json:"result,omitempty"` // JSON-encoded
	Error         string     `json:"error,omitempty"`
	SentAt        time.Time  `json:"sentAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}
