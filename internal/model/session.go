package model

import "time"

// Session holds the reusable authentication artifacts for one (tenant,
// portal) pair: the serialized cookie jar and the browser profile directory
// the portal was logged in with. Cookies is an opaque JSON blob owned by
// the browser layer.
type Session struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Portal      Portal    `json:"portal"`
	Account     string    `json:"account"`
	Cookies     []byte    `json:"cookies,omitempty"`
	UserDataDir string    `json:"user_data_dir,omitempty"`
	IsValid     bool      `json:"is_valid"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
}
