package model

import "time"

// ProjectRole assigns one epistemic lens role to a project. A project holds
// at most one role at a time; assigning again replaces it.
type ProjectRole struct {
	Project     string    `json:"project"`
	Role        string    `json:"role"`
	GravityType string    `json:"gravity_type"`
	Description string    `json:"description,omitempty"`
	Weight      float64   `json:"weight"`
	UpdatedAt   time.Time `json:"updated_at"`
}
