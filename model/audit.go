package model

import "time"

// AuditLog is one append-only record of a state transition anywhere in the
// engine, keyed by the entity it concerns. There is no update or delete for
// these rows anywhere in the codebase; immutability is enforced by omission.
type AuditLog struct {
	ID         int64                  `json:"-"`
	AuditID    string                 `json:"audit_id"`
	TenantID   string                 `json:"tenant_id"`
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Action     string                 `json:"action"`
	Actor      string                 `json:"actor"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

// AuditFilter narrows audit listings.
type AuditFilter struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Actor      string    `json:"actor"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	Limit      int       `json:"limit"`
	Offset     int       `json:"offset"`
}
