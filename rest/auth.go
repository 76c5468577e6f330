// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package rest

import (
	"net/http"
	"strings"

	"github.com/hatrac/hatrac/pkg/hatrac"
)

// Authenticator extracts the request principal. Deployments sit behind an
// authenticating reverse proxy or plug in their own adapter here; the
// service itself never verifies credentials.
type Authenticator interface {
	Authenticate(r *http.Request) (hatrac.Client, error)
}

// Trusted identity headers honored by HeaderAuthenticator.
const (
	ClientIDHeader    = "X-Hatrac-Client"
	ClientRolesHeader = "X-Hatrac-Roles"
)

// HeaderAuthenticator trusts identity headers injected by a fronting
// proxy. Absent headers yield the anonymous client.
type HeaderAuthenticator struct{}

// Authenticate reads the trusted headers.
func (HeaderAuthenticator) Authenticate(r *http.Request) (hatrac.Client, error) {
	client := hatrac.Client{ID: strings.TrimSpace(r.Header.Get(ClientIDHeader))}
	for _, role := range strings.Split(r.Header.Get(ClientRolesHeader), ",") {
		role = strings.TrimSpace(role)
		if role != "" {
			client.Roles = append(client.Roles, role)
		}
	}
	return client, nil
}
