// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package hatrac

import "sort"

// Access names recognized on resources. Which names are valid depends on
// the resource kind; see AccessNames.
const (
	AccessOwner         = "owner"
	AccessCreate        = "create"
	AccessUpdate        = "update"
	AccessRead          = "read"
	AccessSubtreeOwner  = "subtree-owner"
	AccessSubtreeCreate = "subtree-create"
	AccessSubtreeUpdate = "subtree-update"
	AccessSubtreeRead   = "subtree-read"
)

// Kind enumerates the name binding kinds.
type Kind int

const (
	// KindNamespace is an internal node of the naming hierarchy.
	KindNamespace Kind = iota
	// KindObject is a leaf node holding versions.
	KindObject
	// KindVersion is an immutable content binding of an object.
	KindVersion
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindNamespace:
		return "namespace"
	case KindObject:
		return "object"
	case KindVersion:
		return "version"
	}
	return "unknown"
}

// AccessNames returns the valid ACL names for a resource kind.
func AccessNames(kind Kind) []string {
	switch kind {
	case KindNamespace:
		return []string{
			AccessOwner, AccessCreate,
			AccessSubtreeOwner, AccessSubtreeCreate,
			AccessSubtreeUpdate, AccessSubtreeRead,
		}
	case KindObject:
		return []string{
			AccessOwner, AccessUpdate,
			AccessSubtreeOwner, AccessSubtreeRead,
		}
	case KindVersion:
		return []string{AccessOwner, AccessRead}
	}
	return nil
}

// ValidAccess reports whether access is a recognized ACL name for kind.
func ValidAccess(kind Kind, access string) bool {
	for _, name := range AccessNames(kind) {
		if name == access {
			return true
		}
	}
	return false
}

// ACL is a list of role names. The wildcard "*" grants anonymous access.
type ACL []string

// Contains reports whether the ACL names role.
func (acl ACL) Contains(role string) bool {
	for _, r := range acl {
		if r == role {
			return true
		}
	}
	return false
}

// Matches reports whether the ACL grants access to a client holding the
// given roles: either via the wildcard or a role intersection.
func (acl ACL) Matches(roles []string) bool {
	for _, r := range acl {
		if r == "*" {
			return true
		}
		for _, role := range roles {
			if r == role {
				return true
			}
		}
	}
	return false
}

// Add returns the ACL with role appended if absent.
func (acl ACL) Add(role string) ACL {
	if acl.Contains(role) {
		return acl
	}
	return append(append(ACL{}, acl...), role)
}

// Remove returns the ACL without role.
func (acl ACL) Remove(role string) ACL {
	out := ACL{}
	for _, r := range acl {
		if r != role {
			out = append(out, r)
		}
	}
	return out
}

// Sorted returns a sorted copy, for stable JSON output and ETag hashing.
func (acl ACL) Sorted() ACL {
	out := append(ACL{}, acl...)
	sort.Strings(out)
	return out
}

// ACLs maps access names to role lists.
type ACLs map[string]ACL

// Get returns the list for access, never nil.
func (a ACLs) Get(access string) ACL {
	if acl, ok := a[access]; ok {
		return acl
	}
	return ACL{}
}

// Clone returns a deep copy.
func (a ACLs) Clone() ACLs {
	out := make(ACLs, len(a))
	for access, acl := range a {
		out[access] = append(ACL{}, acl...)
	}
	return out
}
