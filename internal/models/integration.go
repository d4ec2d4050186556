package models

import "time"

// Integration is a registered third-party system ("app") that owns endpoints.
// Removal is a soft delete: RemovedAt is set and the record stays around so
// delivery history keeps resolving.
type Integration struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	Active      bool       `json:"active"`
	RemovedAt   *time.Time `json:"removed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Deliverable reports whether endpoints owned by this integration may
// receive any deliveries at all.
func (i *Integration) Deliverable() bool {
	return i.Active && i.RemovedAt == nil
}

func (i *Integration) HasPermission(permission string) bool {
	if permission == "" {
		return true
	}
	for _, p := range i.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}
