// Package authz holds the platform's canonical permission matrix: the single
// source of truth mapping a role to the (resource, action) capabilities it is
// granted. The matrix is a static configuration artifact loaded once at
// process start; changing it requires a redeployment so that permission drift
// always shows up as a reviewable diff.
package authz

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Wildcard matches any value in the field it appears in. Resource and action
// wildcard independently; "bookings"/"*" grants every action on bookings but
// nothing on any other resource.
const Wildcard = "*"

// Grant is a single (resource, action) capability.
type Grant struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// Matches reports whether the grant covers the requested pair. Matching is
// conjunctive per field: each side matches exactly or is the wildcard. There
// is no prefix or concatenated-string form.
func (g Grant) Matches(resource, action string) bool {
	if g.Resource != Wildcard && g.Resource != resource {
		return false
	}
	if g.Action != Wildcard && g.Action != action {
		return false
	}
	return true
}

// Matrix answers coarse authorization questions for the closed role catalog.
// It is immutable after construction and safe for concurrent use without
// locking.
type Matrix struct {
	grants map[string][]Grant
}

// NewMatrix copies the grant table. Role keys are normalized to lower case so
// casing differences in stored roles cannot fork the catalog.
func NewMatrix(grants map[string][]Grant) *Matrix {
	m := &Matrix{grants: make(map[string][]Grant, len(grants))}
	for role, list := range grants {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		m.grants[role] = append([]Grant(nil), list...)
	}
	return m
}

// HasPermission reports whether the role may perform action on resource.
// A role absent from the matrix has no grants: the answer is false.
func (m *Matrix) HasPermission(role, resource, action string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	for _, g := range m.grants[role] {
		if g.Matches(resource, action) {
			return true
		}
	}
	return false
}

// HasRole reports whether the role exists in the catalog at all.
func (m *Matrix) HasRole(role string) bool {
	_, ok := m.grants[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

// Roles returns the sorted role catalog.
func (m *Matrix) Roles() []string {
	roles := make([]string, 0, len(m.grants))
	for role := range m.grants {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// Parse loads a matrix from its JSON configuration form:
//
//	{"admin": [{"resource": "bookings", "action": "*"}], ...}
//
// Empty resource or action fields are rejected; use the explicit "*" wildcard.
func Parse(data []byte) (*Matrix, error) {
	var raw map[string][]Grant
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("authz: parse matrix: %w", err)
	}
	for role, list := range raw {
		if strings.TrimSpace(role) == "" {
			return nil, fmt.Errorf("authz: empty role key")
		}
		for _, g := range list {
			if strings.TrimSpace(g.Resource) == "" || strings.TrimSpace(g.Action) == "" {
				return nil, fmt.Errorf("authz: role %q has a grant with an empty field", role)
			}
		}
	}
	return NewMatrix(raw), nil
}

// Default is the compiled-in matrix for the platform's role catalog.
func Default() *Matrix {
	return NewMatrix(map[string][]Grant{
		"owner":  {{Wildcard, Wildcard}},
		"system": {{Wildcard, Wildcard}},
		"admin": {
			{"bookings", Wildcard},
			{"staff", Wildcard},
			{"clients", Wildcard},
			{"analytics", Wildcard},
			{"compliance", Wildcard},
			{"reports", Wildcard},
			{"flags", Wildcard},
			{"audit", "read"},
		},
		"manager": {
			{"bookings", Wildcard},
			{"staff", "read"},
			{"clients", "read"},
			{"analytics", "read"},
			{"reports", "read"},
		},
		"staff": {
			{"bookings", "read"},
			{"bookings", "update"},
			{"schedule", "read"},
		},
		"readonly": {
			{Wildcard, "read"},
		},
		"client": {
			{"bookings", "read"},
			{"bookings", "create"},
			{"profile", Wildcard},
		},
	})
}
