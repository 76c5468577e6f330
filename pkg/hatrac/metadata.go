// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package hatrac

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// Metadata field names addressable via the ;metadata sub-resource.
const (
	FieldContentType        = "content-type"
	FieldContentMD5         = "content-md5"
	FieldContentSHA256      = "content-sha256"
	FieldContentDisposition = "content-disposition"
)

// Metadata carries the declared content metadata of a version or upload.
// Hashes are stored in their base64 transfer encoding.
type Metadata struct {
	ContentType        string `json:"content-type,omitempty"`
	ContentMD5         string `json:"content-md5,omitempty"`
	ContentSHA256      string `json:"content-sha256,omitempty"`
	ContentDisposition string `json:"content-disposition,omitempty"`
}

// Get returns the named field value.
func (m Metadata) Get(field string) (value string, ok bool) {
	switch field {
	case FieldContentType:
		return m.ContentType, true
	case FieldContentMD5:
		return m.ContentMD5, true
	case FieldContentSHA256:
		return m.ContentSHA256, true
	case FieldContentDisposition:
		return m.ContentDisposition, true
	}
	return "", false
}

// Set updates the named field. Content hashes are immutable once set:
// rewriting with a different value is a conflict.
func (m *Metadata) Set(field, value string) error {
	switch field {
	case FieldContentType:
		m.ContentType = value
	case FieldContentMD5:
		if err := ValidateMD5(value); err != nil {
			return err
		}
		if m.ContentMD5 != "" && m.ContentMD5 != value {
			return NewConflict("metadata field %s is immutable once set", field)
		}
		m.ContentMD5 = value
	case FieldContentSHA256:
		if err := ValidateSHA256(value); err != nil {
			return err
		}
		if m.ContentSHA256 != "" && m.ContentSHA256 != value {
			return NewConflict("metadata field %s is immutable once set", field)
		}
		m.ContentSHA256 = value
	case FieldContentDisposition:
		if err := ValidateContentDisposition(value); err != nil {
			return err
		}
		m.ContentDisposition = value
	default:
		return NewBadRequest("unknown metadata field %q", field)
	}
	return nil
}

// Delete clears the named field. Content hashes cannot be cleared.
func (m *Metadata) Delete(field string) error {
	switch field {
	case FieldContentType:
		m.ContentType = ""
	case FieldContentDisposition:
		m.ContentDisposition = ""
	case FieldContentMD5, FieldContentSHA256:
		if v, _ := m.Get(field); v != "" {
			return NewConflict("metadata field %s is immutable once set", field)
		}
	default:
		return NewBadRequest("unknown metadata field %q", field)
	}
	return nil
}

// Map returns the populated fields keyed by field name.
func (m Metadata) Map() map[string]string {
	out := map[string]string{}
	for _, field := range []string{
		FieldContentType, FieldContentMD5,
		FieldContentSHA256, FieldContentDisposition,
	} {
		if v, _ := m.Get(field); v != "" {
			out[field] = v
		}
	}
	return out
}

// ValidateMD5 checks the base64 transfer encoding of an MD5 digest.
func ValidateMD5(value string) error {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil || len(raw) != 16 {
		return NewBadRequest("invalid content-md5 %q: expected base64 of 16 octets", value)
	}
	return nil
}

// ValidateSHA256 checks the base64 transfer encoding of a SHA-256 digest.
func ValidateSHA256(value string) error {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil || len(raw) != 32 {
		return NewBadRequest("invalid content-sha256 %q: expected base64 of 32 octets", value)
	}
	return nil
}

const dispositionPrefix = "filename*=UTF-8''"

// ValidateContentDisposition checks the restricted disposition syntax
// filename*=UTF-8''<percent-encoded basename>. The decoded filename must
// be a bare basename without path separators.
func ValidateContentDisposition(value string) error {
	if !strings.HasPrefix(value, dispositionPrefix) {
		return NewBadRequest("invalid content-disposition %q: expected %sfilename", value, dispositionPrefix)
	}
	encoded := value[len(dispositionPrefix):]
	if encoded == "" {
		return NewBadRequest("invalid content-disposition %q: empty filename", value)
	}
	decoded, err := url.PathUnescape(encoded)
	if err != nil {
		return NewBadRequest("invalid content-disposition %q: bad percent-encoding", value)
	}
	if strings.ContainsAny(decoded, `/\`) {
		return NewBadRequest("invalid content-disposition %q: filename must not contain path separators", value)
	}
	return nil
}
