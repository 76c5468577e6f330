// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

// Package authz decides requests against resource ACL chains and the
// service-wide firewall lists. It is pure policy: callers supply the
// chain of ACLs from the root namespace down to the target resource.
package authz

import (
	"github.com/hatrac/hatrac/pkg/hatrac"
)

// Action enumerates the privileged intents checked against ACLs.
type Action int

const (
	// ActionRead retrieves a resource or its listing.
	ActionRead Action = iota
	// ActionCreate binds a new child name under a namespace.
	ActionCreate
	// ActionUpdate adds a version to an existing object.
	ActionUpdate
	// ActionDelete removes a name or version binding.
	ActionDelete
	// ActionManageACLs edits a resource's access lists.
	ActionManageACLs
	// ActionManageMetadata edits a version's metadata fields.
	ActionManageMetadata
)

// String returns the action name used in error messages.
func (a Action) String() string {
	switch a {
	case ActionRead:
		return "read"
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	case ActionManageACLs:
		return "manage access control lists on"
	case ActionManageMetadata:
		return "manage metadata on"
	}
	return "access"
}

// Engine evaluates authorization decisions.
type Engine struct {
	firewall hatrac.FirewallACLs
}

// New returns an engine enforcing the given firewall lists.
func New(firewall hatrac.FirewallACLs) *Engine {
	return &Engine{firewall: firewall}
}

// localAccess returns the ACL names that grant action directly on the
// target resource.
func localAccess(action Action) []string {
	switch action {
	case ActionRead:
		return []string{hatrac.AccessOwner, hatrac.AccessRead}
	case ActionCreate:
		return []string{hatrac.AccessOwner, hatrac.AccessCreate}
	case ActionUpdate, ActionManageMetadata:
		return []string{hatrac.AccessOwner, hatrac.AccessUpdate}
	default:
		return []string{hatrac.AccessOwner}
	}
}

// subtreeAccess returns the ACL names that grant action from any ancestor
// namespace.
func subtreeAccess(action Action) []string {
	switch action {
	case ActionRead:
		return []string{hatrac.AccessSubtreeOwner, hatrac.AccessSubtreeRead}
	case ActionCreate:
		return []string{hatrac.AccessSubtreeOwner, hatrac.AccessSubtreeCreate}
	case ActionUpdate, ActionManageMetadata:
		return []string{hatrac.AccessSubtreeOwner, hatrac.AccessSubtreeUpdate}
	default:
		return []string{hatrac.AccessSubtreeOwner}
	}
}

// firewallFor returns the service-wide list guarding action, or nil when
// the action is not firewalled.
func (e *Engine) firewallFor(action Action) (hatrac.ACL, bool) {
	switch action {
	case ActionCreate, ActionUpdate:
		return e.firewall.Create, true
	case ActionDelete:
		return e.firewall.Delete, true
	case ActionManageACLs:
		return e.firewall.ManageACLs, true
	case ActionManageMetadata:
		return e.firewall.ManageMetadata, true
	}
	return nil, false
}

// deny maps a failed decision to 401 for anonymous clients and 403 for
// authenticated ones.
func deny(client hatrac.Client, action Action, name string) error {
	if client.ID == "" {
		return hatrac.NewUnauthorized("authentication required to %s %s", action, name)
	}
	return hatrac.NewForbidden("client %q is forbidden to %s %s", client.ID, action, name)
}

// Authorize decides action for client against a chain of ACL sets ordered
// root first, ending at the target resource. Subtree grants on any entry
// above the target suffice; otherwise the target's own lists must grant
// the action. The action's firewall list, when present, must also match.
func (e *Engine) Authorize(client hatrac.Client, action Action, name string, chain []hatrac.ACLs) error {
	roles := client.AllRoles()

	if firewall, guarded := e.firewallFor(action); guarded {
		if !firewall.Matches(roles) {
			return deny(client, action, name)
		}
	}

	if len(chain) == 0 {
		return deny(client, action, name)
	}
	target := chain[len(chain)-1]
	for _, access := range localAccess(action) {
		if target.Get(access).Matches(roles) {
			return nil
		}
	}
	for _, acls := range chain[:len(chain)-1] {
		for _, access := range subtreeAccess(action) {
			if acls.Get(access).Matches(roles) {
				return nil
			}
		}
	}
	// Subtree grants carried by the target itself cover it too.
	if target.Get(hatrac.AccessSubtreeOwner).Matches(roles) {
		return nil
	}
	return deny(client, action, name)
}

// ChainACLs builds an Authorize chain from node ACL sets plus optional
// trailing sets such as a version's own lists.
func ChainACLs(chain []hatrac.ACLs, extra ...hatrac.ACLs) []hatrac.ACLs {
	return append(append([]hatrac.ACLs{}, chain...), extra...)
}
