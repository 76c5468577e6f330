// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package hatrac

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestACLMatches(t *testing.T) {
	acl := ACL{"alice", "group/admin"}
	require.True(t, acl.Matches([]string{"alice"}))
	require.True(t, acl.Matches([]string{"x", "group/admin"}))
	require.False(t, acl.Matches([]string{"bob"}))
	require.False(t, acl.Matches(nil))

	open := ACL{"*"}
	require.True(t, open.Matches(nil))
	require.True(t, open.Matches([]string{"anyone"}))
}

func TestACLAddRemove(t *testing.T) {
	acl := ACL{}.Add("b").Add("a").Add("b")
	require.Equal(t, ACL{"b", "a"}, acl)
	require.Equal(t, ACL{"a", "b"}, acl.Sorted())
	require.Equal(t, ACL{"a"}, acl.Remove("b"))
}

func TestAccessNamesPerKind(t *testing.T) {
	require.True(t, ValidAccess(KindNamespace, AccessSubtreeCreate))
	require.False(t, ValidAccess(KindNamespace, AccessRead))
	require.True(t, ValidAccess(KindObject, AccessUpdate))
	require.False(t, ValidAccess(KindObject, AccessRead))
	require.True(t, ValidAccess(KindVersion, AccessRead))
	require.False(t, ValidAccess(KindVersion, AccessSubtreeRead))
}

func TestMetadataHashImmutability(t *testing.T) {
	sum := md5.Sum([]byte("payload"))
	encoded := base64.StdEncoding.EncodeToString(sum[:])

	meta := Metadata{}
	require.NoError(t, meta.Set(FieldContentMD5, encoded))
	// same value is idempotent
	require.NoError(t, meta.Set(FieldContentMD5, encoded))

	other := md5.Sum([]byte("different"))
	err := meta.Set(FieldContentMD5, base64.StdEncoding.EncodeToString(other[:]))
	requireStatus(t, err, http.StatusConflict)

	err = meta.Delete(FieldContentMD5)
	requireStatus(t, err, http.StatusConflict)
}

func TestMetadataValidation(t *testing.T) {
	meta := Metadata{}
	requireStatus(t, meta.Set(FieldContentMD5, "not base64!!"), http.StatusBadRequest)
	requireStatus(t, meta.Set(FieldContentSHA256, base64.StdEncoding.EncodeToString([]byte("short"))), http.StatusBadRequest)
	requireStatus(t, meta.Set("x-custom", "v"), http.StatusBadRequest)

	sum := sha256.Sum256([]byte("payload"))
	require.NoError(t, meta.Set(FieldContentSHA256, base64.StdEncoding.EncodeToString(sum[:])))

	require.NoError(t, meta.Set(FieldContentType, "text/plain"))
	require.NoError(t, meta.Delete(FieldContentType))
	require.Empty(t, meta.ContentType)
}

func TestContentDisposition(t *testing.T) {
	require.NoError(t, ValidateContentDisposition("filename*=UTF-8''report.csv"))
	require.NoError(t, ValidateContentDisposition("filename*=UTF-8''a%20b.txt"))
	require.Error(t, ValidateContentDisposition("attachment; filename=x"))
	require.Error(t, ValidateContentDisposition("filename*=UTF-8''"))
	require.Error(t, ValidateContentDisposition("filename*=UTF-8''a%2Fb"))
	require.Error(t, ValidateContentDisposition("filename*=UTF-8''%zz"))
}

func TestAuxRenameRefEncoding(t *testing.T) {
	aux := Aux{RenameTo: &RenameRef{Name: "/ns/obj", Version: "V1"}}
	data, err := json.Marshal(&aux)
	require.NoError(t, err)
	require.JSONEq(t, `{"rename_to": ["/ns/obj", "V1"]}`, string(data))

	var decoded Aux
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, aux.RenameTo, decoded.RenameTo)
	require.False(t, decoded.IsZero())
	require.True(t, (&Aux{}).IsZero())
}

func TestConfigDefaults(t *testing.T) {
	config, err := ParseConfig([]byte(`{"database_dsn": "postgres://x"}`))
	require.NoError(t, err)
	require.Equal(t, DefaultServicePrefix, config.ServicePrefix)
	require.Equal(t, int64(DefaultMaxRequestPayloadSize), config.MaxRequestPayloadSize)
	require.Equal(t, "filesystem", config.StorageBackend)
	require.Equal(t, ACL{"*"}, config.FirewallACLs.Create)

	readonly, err := ParseConfig([]byte(`{"read_only": true}`))
	require.NoError(t, err)
	require.Empty(t, readonly.FirewallACLs.Create)
	require.False(t, readonly.FirewallACLs.Delete.Matches([]string{"anyone"}))
}

func TestConfigS3Keys(t *testing.T) {
	config, err := ParseConfig([]byte(`{
		"storage_backend": "amazons3",
		"s3_config": {
			"legacy_mapping": true,
			"buckets": {
				"/": {"bucket_name": "hatrac", "hatrac_s3_method": "hname:hver"}
			}
		}
	}`))
	require.NoError(t, err)
	require.True(t, config.S3Config.LegacyMapping)
	require.Equal(t, "hatrac", config.S3Config.Buckets["/"].BucketName)
}

func TestErrorTemplatesLegacyKeys(t *testing.T) {
	config, err := ParseConfig([]byte(`{
		"error_templates": {
			"404": {"text/plain": "nope: %(description)s"},
			"409_html": "<b>%(title)s</b>"
		}
	}`))
	require.NoError(t, err)
	require.Equal(t, "nope: %(description)s", config.ErrorTemplates["404"]["text/plain"])
	require.Equal(t, "<b>%(title)s</b>", config.ErrorTemplates["409"]["text/html"])

	_, err = ParseConfig([]byte(`{"error_templates": {"404_xml": "<x/>"}}`))
	require.Error(t, err)
}

func TestClientRoles(t *testing.T) {
	require.True(t, Client{}.Anonymous())
	require.Equal(t, []string{"id", "r1"}, Client{ID: "id", Roles: []string{"r1"}}.AllRoles())
	require.Equal(t, []string{"r1"}, Client{Roles: []string{"r1"}}.AllRoles())
}

func requireStatus(t *testing.T, err error, status int) {
	t.Helper()
	herr, ok := AsError(err)
	require.True(t, ok, "expected service error, got %v", err)
	require.Equal(t, status, herr.Status)
}
