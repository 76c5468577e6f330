// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package s3store

import (
	"crypto/rand"
	"encoding/base32"
)

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// newVersionID issues a random URL-safe version id, 26 base32 characters.
func newVersionID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", Error.Wrap(err)
	}
	return base32NoPad.EncodeToString(buf[:]), nil
}
