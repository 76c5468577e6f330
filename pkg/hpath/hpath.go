// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

// Package hpath implements the hierarchical URL codec. The path grammar
// treats "/", ":" and ";" as meta-syntax: "/" separates name segments, a
// ":" in the final segment introduces a version qualifier, and ";"
// introduces a sub-resource selector (versions, metadata, acl, upload).
// Segment payload characters come from a configurable class plus
// percent-encoded UTF-8 octets.
package hpath

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/zeebo/errs"

	"github.com/hatrac/hatrac/pkg/hatrac"
)

// Error is the hpath error class.
var Error = errs.Class("hpath")

// SubKind enumerates sub-resource selectors.
type SubKind int

const (
	// SubNone addresses the named resource itself.
	SubNone SubKind = iota
	// SubVersions addresses the version listing of an object.
	SubVersions
	// SubMetadata addresses the metadata collection or a single field.
	SubMetadata
	// SubACL addresses the ACL collection, one list, or one entry.
	SubACL
	// SubUpload addresses the upload job collection, one job, or one chunk.
	SubUpload
)

// Ref is a parsed resource reference.
type Ref struct {
	Segments []string // decoded name segments; empty means the root namespace
	Version  string   // decoded version qualifier, "" if absent

	Sub    SubKind
	Field  string // metadata field selector
	Access string // acl access selector
	Entry  string // acl entry selector
	JobID  string // upload job selector

	Chunk    int64
	HasChunk bool
}

// Name returns the canonical decoded hierarchical name, "/" for the root.
func (r *Ref) Name() string {
	if len(r.Segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(r.Segments, "/")
}

// IsRoot reports whether the reference addresses the root namespace.
func (r *Ref) IsRoot() bool { return len(r.Segments) == 0 }

// Codec validates and decodes path segments against a configured
// character class.
type Codec struct {
	class     string
	classSet  [256]bool
	segmentRE *regexp.Regexp
}

// NewCodec compiles a codec for the given character class body, e.g. the
// default "-._~A-Za-z0-9".
func NewCodec(class string) (*Codec, error) {
	if class == "" {
		class = hatrac.DefaultURLCharClass
	}
	re, err := regexp.Compile(fmt.Sprintf(`^(?:[%s]|%%[0-9A-Fa-f]{2})+$`, class))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Codec{class: class, classSet: expandClass(class), segmentRE: re}, nil
}

// DecodeSegment validates the raw escaped segment and returns its decoded
// value.
func (c *Codec) DecodeSegment(raw string) (string, error) {
	if !c.segmentRE.MatchString(raw) {
		return "", hatrac.NewBadRequest("illegal characters in path segment %q", raw)
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", hatrac.NewBadRequest("bad percent-encoding in path segment %q", raw)
	}
	return decoded, nil
}

// EncodeSegment percent-encodes every byte outside the codec class.
func (c *Codec) EncodeSegment(segment string) string {
	var b strings.Builder
	for i := 0; i < len(segment); i++ {
		ch := segment[i]
		if c.classSet[ch] {
			b.WriteByte(ch)
		} else {
			fmt.Fprintf(&b, "%%%02X", ch)
		}
	}
	return b.String()
}

// EncodeName renders decoded segments back into an escaped URL path.
func (c *Codec) EncodeName(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = c.EncodeSegment(seg)
	}
	return "/" + strings.Join(escaped, "/")
}

func expandClass(class string) [256]bool {
	var set [256]bool
	for i := 0; i < len(class); i++ {
		if i+2 < len(class) && class[i+1] == '-' && class[i+2] >= class[i] {
			for ch := class[i]; ch <= class[i+2]; ch++ {
				set[ch] = true
			}
			i += 2
			continue
		}
		set[class[i]] = true
	}
	return set
}

// Parse decodes a raw escaped path (with the service prefix already
// stripped) into a Ref.
func (c *Codec) Parse(rawpath string) (*Ref, error) {
	if !strings.HasPrefix(rawpath, "/") {
		return nil, hatrac.NewBadRequest("path must begin with /")
	}

	namePart := rawpath
	subPart := ""
	if idx := strings.IndexByte(rawpath, ';'); idx >= 0 {
		namePart, subPart = rawpath[:idx], rawpath[idx+1:]
		if strings.IndexByte(subPart, ';') >= 0 {
			return nil, hatrac.NewBadRequest("multiple sub-resource selectors in path")
		}
	}

	ref := &Ref{}
	rawSegments := splitNonEmpty(namePart, '/')
	for i, raw := range rawSegments {
		if i == len(rawSegments)-1 {
			if idx := strings.IndexByte(raw, ':'); idx >= 0 {
				version := raw[idx+1:]
				raw = raw[:idx]
				if version == "" || raw == "" {
					return nil, hatrac.NewBadRequest("malformed version qualifier in path")
				}
				decoded, err := c.DecodeSegment(version)
				if err != nil {
					return nil, err
				}
				ref.Version = decoded
			}
		} else if strings.IndexByte(raw, ':') >= 0 {
			return nil, hatrac.NewBadRequest("version qualifier only allowed on final path segment")
		}
		decoded, err := c.DecodeSegment(raw)
		if err != nil {
			return nil, err
		}
		ref.Segments = append(ref.Segments, decoded)
	}

	if subPart == "" && strings.IndexByte(rawpath, ';') < 0 {
		return ref, nil
	}
	return c.parseSub(ref, subPart)
}

func (c *Codec) parseSub(ref *Ref, subPart string) (*Ref, error) {
	parts := splitNonEmpty(subPart, '/')
	if len(parts) == 0 {
		return nil, hatrac.NewBadRequest("empty sub-resource selector")
	}
	selectors := parts[1:]

	switch parts[0] {
	case "versions":
		ref.Sub = SubVersions
		if len(selectors) > 0 {
			return nil, hatrac.NewBadRequest("versions sub-resource takes no selector")
		}
	case "metadata":
		ref.Sub = SubMetadata
		switch len(selectors) {
		case 0:
		case 1:
			field, err := unescape(selectors[0])
			if err != nil {
				return nil, err
			}
			ref.Field = field
		default:
			return nil, hatrac.NewBadRequest("metadata sub-resource takes at most one selector")
		}
	case "acl":
		ref.Sub = SubACL
		if len(selectors) > 2 {
			return nil, hatrac.NewBadRequest("acl sub-resource takes at most two selectors")
		}
		if len(selectors) >= 1 {
			access, err := unescape(selectors[0])
			if err != nil {
				return nil, err
			}
			ref.Access = access
		}
		if len(selectors) == 2 {
			entry, err := unescape(selectors[1])
			if err != nil {
				return nil, err
			}
			ref.Entry = entry
		}
	case "upload":
		ref.Sub = SubUpload
		if ref.Version != "" {
			return nil, hatrac.NewBadRequest("upload sub-resource not valid on a version reference")
		}
		if len(selectors) > 2 {
			return nil, hatrac.NewBadRequest("upload sub-resource takes at most two selectors")
		}
		if len(selectors) >= 1 {
			job, err := unescape(selectors[0])
			if err != nil {
				return nil, err
			}
			ref.JobID = job
		}
		if len(selectors) == 2 {
			chunk, err := strconv.ParseInt(selectors[1], 10, 64)
			if err != nil {
				return nil, hatrac.NewBadRequest("malformed chunk number %q", selectors[1])
			}
			if chunk < 0 {
				return nil, hatrac.NewBadRequest("negative chunk number %d", chunk)
			}
			ref.Chunk = chunk
			ref.HasChunk = true
		}
	default:
		return nil, hatrac.NewBadRequest("unknown sub-resource %q", parts[0])
	}
	return ref, nil
}

// ValidateNewName rejects segments that are unusable for name creation.
// Dot segments never traverse: they are refused outright.
func ValidateNewName(segments []string) error {
	if len(segments) == 0 {
		return hatrac.NewBadRequest("cannot create the root namespace")
	}
	for _, seg := range segments {
		if seg == "." || seg == ".." {
			return hatrac.NewBadRequest("dot segments are not allowed in names")
		}
	}
	return nil
}

// SplitName splits a decoded hierarchical name into segments. The root
// name "/" yields no segments.
func SplitName(name string) []string {
	return splitNonEmpty(name, '/')
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	for _, part := range strings.Split(s, string(sep)) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func unescape(raw string) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", hatrac.NewBadRequest("bad percent-encoding in selector %q", raw)
	}
	return decoded, nil
}
