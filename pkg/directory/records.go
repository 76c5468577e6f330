// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package directory

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/storage"
)

// Node is one bound name: a namespace or an object.
type Node struct {
	ID       int64
	Kind     hatrac.Kind
	Path     []string // decoded segments from the root
	ParentID int64    // 0 for the root namespace
	Deleted  bool

	ACLs      hatrac.ACLs
	Aux       *hatrac.Aux
	CreatedAt time.Time

	// CurrentVersionID is set on objects with a current version.
	CurrentVersionID sql.NullInt64
}

// Name returns the canonical decoded hierarchical name, "/" for the root.
func (n *Node) Name() string {
	if len(n.Path) == 0 {
		return "/"
	}
	return "/" + strings.Join(n.Path, "/")
}

// Segment returns the final path segment, "" for the root.
func (n *Node) Segment() string {
	if len(n.Path) == 0 {
		return ""
	}
	return n.Path[len(n.Path)-1]
}

// Resolved is a resolution result: the node plus its ancestor namespaces
// ordered root first. The ancestor ACLs drive inherited authorization.
type Resolved struct {
	Ancestors []*Node
	Node      *Node
}

// Chain returns ancestors plus the node itself, root first.
func (r *Resolved) Chain() []*Node {
	return append(append([]*Node{}, r.Ancestors...), r.Node)
}

// Version is one immutable content binding of an object.
type Version struct {
	ID       int64
	ObjectID int64
	Key      string // client-visible version id, "" while reserved
	Name     string // owning object name, for storage addressing
	Size     int64
	Deleted  bool

	Meta      hatrac.Metadata
	ACLs      hatrac.ACLs
	Aux       *hatrac.Aux
	CreatedAt time.Time
}

// StorageRef addresses the version's payload in the storage backend,
// applying the aux name and version overrides recorded by relocation.
// Retrieval and reclamation must both go through it so they agree on
// where the bytes live.
func (v *Version) StorageRef() storage.Ref {
	ref := storage.Ref{Name: v.Name, Version: v.Key}
	if aux := v.Aux; aux != nil {
		if aux.HName != "" {
			ref.Name = aux.HName
		}
		if aux.HVersion != "" {
			ref.Version = aux.HVersion
		}
		ref.BackendVersion = aux.Version
	}
	return ref
}

// Upload job states.
const (
	UploadOpen       = "open"
	UploadFinalizing = "finalizing"
	UploadFinalized  = "finalized"
	UploadCancelled  = "cancelled"
)

// Upload is the transient state of a chunked upload job.
type Upload struct {
	ID       int64
	ObjectID int64
	JobKey   string
	Name     string // target object name

	ChunkLength   int64
	ContentLength int64
	Meta          hatrac.Metadata
	Owner         hatrac.ACL
	Handle        string // backend-specific handle
	Chunks        map[int64]storage.ChunkAux
	State         string
	CreatedOn     time.Time
}

// NumChunks returns the expected chunk count ⌈content-length/chunk-length⌉.
func (u *Upload) NumChunks() int64 {
	if u.ChunkLength <= 0 {
		return 0
	}
	return (u.ContentLength + u.ChunkLength - 1) / u.ChunkLength
}

// ChunkSize returns the expected size of the chunk at position: the
// declared chunk length except for a shorter final chunk.
func (u *Upload) ChunkSize(position int64) int64 {
	total := u.NumChunks()
	if position < total-1 {
		return u.ChunkLength
	}
	if rem := u.ContentLength % u.ChunkLength; rem != 0 {
		return rem
	}
	return u.ChunkLength
}

// SortedChunks returns the recorded chunk aux records ordered by position.
func (u *Upload) SortedChunks() []storage.ChunkAux {
	out := make([]storage.ChunkAux, 0, len(u.Chunks))
	for position := int64(0); position < u.NumChunks(); position++ {
		if chunk, ok := u.Chunks[position]; ok {
			out = append(out, chunk)
		}
	}
	return out
}

func marshalACLs(acls hatrac.ACLs) []byte {
	if acls == nil {
		acls = hatrac.ACLs{}
	}
	data, _ := json.Marshal(acls)
	return data
}

func unmarshalACLs(data []byte) hatrac.ACLs {
	acls := hatrac.ACLs{}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &acls)
	}
	return acls
}

func marshalAux(aux *hatrac.Aux) interface{} {
	if aux.IsZero() {
		return nil
	}
	data, _ := json.Marshal(aux)
	return data
}

func unmarshalAux(data []byte) *hatrac.Aux {
	if len(data) == 0 {
		return nil
	}
	aux := &hatrac.Aux{}
	if err := json.Unmarshal(data, aux); err != nil {
		return nil
	}
	if aux.IsZero() {
		return nil
	}
	return aux
}
