// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package hatrac

// Client is the authenticated request principal supplied by the
// authentication adapter. An anonymous client has an empty ID and no roles.
type Client struct {
	ID    string
	Roles []string
}

// Anonymous reports whether the client carries no identity at all.
func (c Client) Anonymous() bool {
	return c.ID == "" && len(c.Roles) == 0
}

// AllRoles returns the effective role set: one role per identity plus the
// attribute roles.
func (c Client) AllRoles() []string {
	if c.ID == "" {
		return c.Roles
	}
	return append([]string{c.ID}, c.Roles...)
}
