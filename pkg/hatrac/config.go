// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package hatrac

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Default configuration values.
const (
	DefaultServicePrefix         = "/hatrac"
	DefaultMaxRequestPayloadSize = 128 << 20
	DefaultDatabaseMaxRetries    = 5
	DefaultURLCharClass          = "-._~A-Za-z0-9"
)

// FirewallACLs are the service-wide lists checked in addition to resource
// ACLs. WithDefaults fills unset lists with the open wildcard; an explicit
// empty list denies everyone.
type FirewallACLs struct {
	Create         ACL `json:"create"`
	Delete         ACL `json:"delete"`
	ManageACLs     ACL `json:"manage_acls"`
	ManageMetadata ACL `json:"manage_metadata"`
}

// SessionConfig carries S3 endpoint credentials.
type SessionConfig struct {
	Endpoint        string `json:"endpoint"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	UseSSL          bool   `json:"use_ssl"`
}

// BucketConfig routes a name prefix to one S3 bucket.
type BucketConfig struct {
	BucketName             string         `json:"bucket_name"`
	BucketPathPrefix       string         `json:"bucket_path_prefix"`
	S3Method               string         `json:"hatrac_s3_method"` // "hname" or "hname:hver"
	VersionedBucket        bool           `json:"versioned_bucket"`
	UnquoteObjectKeys      bool           `json:"unquote_object_keys"`
	PresignedURLThreshold  int64          `json:"presigned_url_threshold"`
	PresignedURLExpiration int64          `json:"presigned_url_expiration_secs"`
	SessionConfig          *SessionConfig `json:"session_config"`
}

// S3Config is the amazons3 backend configuration. LegacyMapping is
// recorded for configuration documents written against older deployments
// whose bucket mapping predated per-prefix routes; routing itself always
// uses the Buckets prefixes.
type S3Config struct {
	DefaultSession *SessionConfig           `json:"default_session"`
	Buckets        map[string]*BucketConfig `json:"buckets"`
	LegacyMapping  bool                     `json:"legacy_mapping"`
}

// OverlayBackend parameterizes one layer of the overlay composition with
// the subset of service configuration its backend kind needs.
type OverlayBackend struct {
	StorageBackend string    `json:"storage_backend"`
	StoragePath    string    `json:"storage_path"`
	S3Config       *S3Config `json:"s3_config"`
}

// ErrorTemplates maps status code to content-type to response template.
// Templates interpolate %(code)s, %(title)s and %(description)s. A legacy
// flat shorthand ("404_html", "404_plain") is also accepted.
type ErrorTemplates map[string]map[string]string

var legacyTemplateSuffixes = map[string]string{
	"html":  "text/html",
	"plain": "text/plain",
	"json":  "application/json",
}

// UnmarshalJSON accepts the nested {"404": {"text/html": t}} form and the
// legacy flat {"404_html": t} shorthand, canonicalizing to the nested form.
func (t *ErrorTemplates) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := ErrorTemplates{}
	for key, value := range raw {
		var nested map[string]string
		if err := json.Unmarshal(value, &nested); err == nil {
			out[key] = nested
			continue
		}
		var flat string
		if err := json.Unmarshal(value, &flat); err != nil {
			return fmt.Errorf("error template %q: expected object or string", key)
		}
		code, suffix, found := strings.Cut(key, "_")
		contentType, known := legacyTemplateSuffixes[suffix]
		if !found || !known {
			return fmt.Errorf("error template %q: unknown legacy key", key)
		}
		if out[code] == nil {
			out[code] = map[string]string{}
		}
		out[code][contentType] = flat
	}
	*t = out
	return nil
}

// Config is the immutable service configuration document.
type Config struct {
	ServicePrefix         string           `json:"service_prefix"`
	DatabaseDSN           string           `json:"database_dsn"`
	DatabaseMaxRetries    int              `json:"database_max_retries"`
	AllowedURLCharClass   string           `json:"allowed_url_char_class"`
	MaxRequestPayloadSize int64            `json:"max_request_payload_size"`
	FirewallACLs          FirewallACLs     `json:"firewall_acls"`
	ReadOnly              bool             `json:"read_only"`
	StorageBackend        string           `json:"storage_backend"` // filesystem | amazons3 | overlay
	StoragePath           string           `json:"storage_path"`
	S3Config              *S3Config        `json:"s3_config"`
	OverlayBackends       []OverlayBackend `json:"overlay_backends"`
	ErrorTemplates        ErrorTemplates   `json:"error_templates"`

	ListenAddress string `json:"listen_address"`
}

// WithDefaults fills unset fields with their defaults. read_only overrides
// all firewall lists to deny.
func (c Config) WithDefaults() Config {
	if c.ServicePrefix == "" {
		c.ServicePrefix = DefaultServicePrefix
	}
	if c.MaxRequestPayloadSize == 0 {
		c.MaxRequestPayloadSize = DefaultMaxRequestPayloadSize
	}
	if c.DatabaseMaxRetries == 0 {
		c.DatabaseMaxRetries = DefaultDatabaseMaxRetries
	}
	if c.AllowedURLCharClass == "" {
		c.AllowedURLCharClass = DefaultURLCharClass
	}
	if c.StorageBackend == "" {
		c.StorageBackend = "filesystem"
	}
	if c.ReadOnly {
		c.FirewallACLs = FirewallACLs{
			Create:         ACL{},
			Delete:         ACL{},
			ManageACLs:     ACL{},
			ManageMetadata: ACL{},
		}
	} else {
		open := ACL{"*"}
		if c.FirewallACLs.Create == nil {
			c.FirewallACLs.Create = open
		}
		if c.FirewallACLs.Delete == nil {
			c.FirewallACLs.Delete = open
		}
		if c.FirewallACLs.ManageACLs == nil {
			c.FirewallACLs.ManageACLs = open
		}
		if c.FirewallACLs.ManageMetadata == nil {
			c.FirewallACLs.ManageMetadata = open
		}
	}
	return c
}

// ParseConfig decodes a JSON configuration document and applies defaults.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	return c.WithDefaults(), nil
}
