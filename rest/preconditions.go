// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package rest

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/hatrac/hatrac/pkg/hatrac"
)

// makeETag derives a strong entity tag from the identifying parts of a
// resource state.
func makeETag(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return `"` + hex.EncodeToString(h.Sum(nil))[:32] + `"`
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

// checkPreconditions evaluates If-Match and If-None-Match against the
// resource's current entity tag. It returns notModified for conditional
// GET/HEAD short-circuits and an error for failed write preconditions.
func checkPreconditions(r *http.Request, etag string) (notModified bool, err error) {
	if ifMatch := r.Header.Get("If-Match"); ifMatch != "" {
		if !etagMatches(ifMatch, etag) {
			return false, hatrac.NewPreconditionFailed("entity tag %s does not match If-Match", etag)
		}
	}
	if ifNoneMatch := r.Header.Get("If-None-Match"); ifNoneMatch != "" {
		if etagMatches(ifNoneMatch, etag) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				return true, nil
			}
			return false, hatrac.NewPreconditionFailed("entity tag %s matches If-None-Match", etag)
		}
	}
	return false, nil
}
