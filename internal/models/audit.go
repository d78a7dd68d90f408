package models

import "time"

// Audit actions recorded by the session flows.
const (
	AuditActionLogin    = "LOGIN"
	AuditActionRefresh  = "TOKEN_REFRESH"
	AuditActionLogout   = "LOGOUT"
	AuditActionRegister = "USER_REGISTER"
)

// AuditLog represents an audit trail record. UserID is nullable: logout is
// unauthenticated and records no subject.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	Detail     []byte    `db:"detail" json:"detail,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
