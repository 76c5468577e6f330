// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

package rest

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"

	"github.com/hatrac/hatrac/pkg/directory"
	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/storage"
)

// memDir is an in-memory Directory used to exercise the HTTP surface
// without a database. Its semantics mirror the PostgreSQL implementation:
// tombstoned names resolve as not-found but block cross-kind reuse, and
// reserved versions stay invisible until completed.
type memDir struct {
	mu       sync.Mutex
	nextID   int64
	rootID   int64
	nodes    map[int64]*directory.Node
	children map[int64]map[string]int64
	versions map[int64]*directory.Version
	uploads  map[int64]*directory.Upload
}

var _ Directory = (*memDir)(nil)

func newMemDir(admin string) *memDir {
	m := &memDir{
		nodes:    map[int64]*directory.Node{},
		children: map[int64]map[string]int64{},
		versions: map[int64]*directory.Version{},
		uploads:  map[int64]*directory.Upload{},
	}
	root := &directory.Node{
		ID:   m.id(),
		Kind: hatrac.KindNamespace,
		ACLs: hatrac.ACLs{hatrac.AccessOwner: {admin}},
	}
	m.rootID = root.ID
	m.nodes[root.ID] = root
	m.children[root.ID] = map[string]int64{}
	return m
}

func (m *memDir) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memDir) newNode(parent *directory.Node, segment string, kind hatrac.Kind, acls hatrac.ACLs) *directory.Node {
	node := &directory.Node{
		ID:       m.id(),
		Kind:     kind,
		Path:     append(append([]string{}, parent.Path...), segment),
		ParentID: parent.ID,
		ACLs:     acls,
	}
	m.nodes[node.ID] = node
	m.children[parent.ID][segment] = node.ID
	if kind == hatrac.KindNamespace {
		m.children[node.ID] = map[string]int64{}
	}
	return node
}

func (m *memDir) resolveLocked(segments []string) (*directory.Resolved, error) {
	current := m.nodes[m.rootID]
	var ancestors []*directory.Node
	for _, segment := range segments {
		if current.Kind != hatrac.KindNamespace {
			return nil, hatrac.NewNotFound("resource not found")
		}
		ancestors = append(ancestors, current)
		id, ok := m.children[current.ID][segment]
		if !ok {
			return nil, hatrac.NewNotFound("resource not found")
		}
		node := m.nodes[id]
		if node.Deleted {
			return nil, hatrac.NewNotFound("resource not available")
		}
		current = node
	}
	return &directory.Resolved{Ancestors: ancestors, Node: current}, nil
}

func (m *memDir) Resolve(ctx context.Context, segments []string) (*directory.Resolved, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(segments)
}

func (m *memDir) ResolvePrefix(ctx context.Context, segments []string) (*directory.Resolved, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(segments); i >= 0; i-- {
		if res, err := m.resolveLocked(segments[:i]); err == nil {
			return res, segments[i:], nil
		}
	}
	return nil, nil, hatrac.NewNotFound("resource not found")
}

func (m *memDir) CreateNamespace(ctx context.Context, segments []string, owner hatrac.ACL, makeParents bool) (*directory.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acls := hatrac.ACLs{hatrac.AccessOwner: owner.Sorted()}
	parent := m.nodes[m.rootID]
	for i, segment := range segments {
		final := i == len(segments)-1
		var child *directory.Node
		if id, ok := m.children[parent.ID][segment]; ok {
			child = m.nodes[id]
		}
		switch {
		case child == nil:
			if !final && !makeParents {
				return nil, hatrac.NewConflict("parent namespace does not exist")
			}
			child = m.newNode(parent, segment, hatrac.KindNamespace, acls)
		case child.Kind != hatrac.KindNamespace:
			return nil, hatrac.NewConflict("name is or was an object")
		case child.Deleted:
			if !final {
				return nil, hatrac.NewConflict("parent namespace has been deleted")
			}
			child.Deleted = false
			child.ACLs = acls
		case final:
			return nil, hatrac.NewConflict("namespace already exists")
		}
		parent = child
	}
	return parent, nil
}

func (m *memDir) CreateObject(ctx context.Context, segments []string, owner hatrac.ACL) (*directory.Node, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acls := hatrac.ACLs{hatrac.AccessOwner: owner.Sorted()}
	parentRes, err := m.resolveLocked(segments[:len(segments)-1])
	if err != nil {
		return nil, false, err
	}
	if parentRes.Node.Kind != hatrac.KindNamespace {
		return nil, false, hatrac.NewConflict("parent is not a namespace")
	}

	segment := segments[len(segments)-1]
	var child *directory.Node
	if id, ok := m.children[parentRes.Node.ID][segment]; ok {
		child = m.nodes[id]
	}
	switch {
	case child == nil:
		return m.newNode(parentRes.Node, segment, hatrac.KindObject, acls), true, nil
	case child.Kind != hatrac.KindObject:
		return nil, false, hatrac.NewConflict("name is or was a namespace")
	case child.Deleted:
		child.Deleted = false
		child.ACLs = acls
		child.CurrentVersionID = sql.NullInt64{}
		return child, true, nil
	}
	return child, false, nil
}

func (m *memDir) DeleteNamespace(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	node := m.nodes[id]
	if node == nil || node.Deleted || node.ParentID == 0 {
		return hatrac.NewNotFound("namespace no longer available")
	}
	for _, childID := range m.children[id] {
		if !m.nodes[childID].Deleted {
			return hatrac.NewConflict("namespace is not empty")
		}
	}
	node.Deleted = true
	return nil
}

func (m *memDir) DeleteObject(ctx context.Context, node *directory.Node) ([]storage.Ref, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.nodes[node.ID]
	if stored == nil || stored.Deleted {
		return nil, nil, hatrac.NewNotFound("object no longer available")
	}
	var refs []storage.Ref
	for _, version := range m.versions {
		if version.ObjectID == node.ID && !version.Deleted && version.Key != "" {
			refs = append(refs, version.StorageRef())
			version.Deleted = true
		}
	}
	var handles []string
	for _, upload := range m.uploads {
		if upload.ObjectID == node.ID && upload.State == directory.UploadOpen {
			handles = append(handles, upload.Handle)
			upload.State = directory.UploadCancelled
		}
	}
	stored.Deleted = true
	stored.CurrentVersionID = sql.NullInt64{}
	return refs, handles, nil
}

func (m *memDir) EnumerateChildren(ctx context.Context, node *directory.Node) ([]*directory.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var children []*directory.Node
	for _, id := range m.children[node.ID] {
		if child := m.nodes[id]; !child.Deleted {
			children = append(children, child)
		}
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].Segment() < children[j].Segment()
	})
	return children, nil
}

func (m *memDir) ReserveVersion(ctx context.Context, node *directory.Node, owner hatrac.ACL) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := &directory.Version{
		ID:       m.id(),
		ObjectID: node.ID,
		Name:     node.Name(),
		Deleted:  true,
		ACLs:     hatrac.ACLs{hatrac.AccessOwner: owner.Sorted()},
	}
	m.versions[version.ID] = version
	return version.ID, nil
}

func (m *memDir) CompleteVersion(ctx context.Context, node *directory.Node, id int64, key string, size int64, meta hatrac.Metadata, aux *hatrac.Aux) (*directory.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := m.versions[id]
	if version == nil || version.Key != "" {
		return nil, hatrac.NewConflict("version reservation is no longer pending")
	}
	version.Key = key
	version.Size = size
	version.Meta = meta
	if !aux.IsZero() {
		version.Aux = aux
	}
	version.Deleted = false
	m.nodes[node.ID].CurrentVersionID = sql.NullInt64{Int64: id, Valid: true}
	return version, nil
}

func (m *memDir) AbortVersion(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if version := m.versions[id]; version != nil && version.Key == "" {
		delete(m.versions, id)
	}
	return nil
}

func (m *memDir) GetVersion(ctx context.Context, node *directory.Node, key string) (*directory.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, version := range m.versions {
		if version.ObjectID == node.ID && version.Key == key && !version.Deleted {
			return version, nil
		}
	}
	return nil, hatrac.NewNotFound("object version not found")
}

func (m *memDir) CurrentVersion(ctx context.Context, node *directory.Node) (*directory.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.nodes[node.ID]
	if stored == nil || !stored.CurrentVersionID.Valid {
		return nil, hatrac.NewConflict("object currently has no content")
	}
	version := m.versions[stored.CurrentVersionID.Int64]
	if version == nil || version.Deleted {
		return nil, hatrac.NewConflict("object currently has no content")
	}
	return version, nil
}

func (m *memDir) DeleteVersion(ctx context.Context, node *directory.Node, version *directory.Version) (storage.Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.versions[version.ID]
	if stored == nil || stored.Deleted {
		return storage.Ref{}, hatrac.NewNotFound("object version not found")
	}
	stored.Deleted = true
	ref := stored.StorageRef()

	owner := m.nodes[node.ID]
	if owner.CurrentVersionID.Valid && owner.CurrentVersionID.Int64 == version.ID {
		owner.CurrentVersionID = sql.NullInt64{}
		for _, candidate := range m.versions {
			if candidate.ObjectID == node.ID && !candidate.Deleted && candidate.Key != "" {
				if !owner.CurrentVersionID.Valid || candidate.ID > owner.CurrentVersionID.Int64 {
					owner.CurrentVersionID = sql.NullInt64{Int64: candidate.ID, Valid: true}
				}
			}
		}
	}
	return ref, nil
}

func (m *memDir) ListVersions(ctx context.Context, node *directory.Node) ([]*directory.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var versions []*directory.Version
	for _, version := range m.versions {
		if version.ObjectID == node.ID && !version.Deleted && version.Key != "" {
			versions = append(versions, version)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].ID > versions[j].ID })
	return versions, nil
}

func (m *memDir) UpdateVersionAux(ctx context.Context, id int64, aux *hatrac.Aux) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := m.versions[id]
	if version == nil || version.Deleted {
		return hatrac.NewNotFound("object version not found")
	}
	if aux.IsZero() {
		version.Aux = nil
	} else {
		version.Aux = aux
	}
	return nil
}

func (m *memDir) aclsFor(kind hatrac.Kind, id int64) (hatrac.ACLs, func(hatrac.ACLs), error) {
	if kind == hatrac.KindVersion {
		version := m.versions[id]
		if version == nil || version.Deleted {
			return nil, nil, hatrac.NewNotFound("resource no longer available")
		}
		return version.ACLs.Clone(), func(acls hatrac.ACLs) { version.ACLs = acls }, nil
	}
	node := m.nodes[id]
	if node == nil || node.Deleted {
		return nil, nil, hatrac.NewNotFound("resource no longer available")
	}
	return node.ACLs.Clone(), func(acls hatrac.ACLs) { node.ACLs = acls }, nil
}

func (m *memDir) SetACL(ctx context.Context, kind hatrac.Kind, id int64, access string, acl hatrac.ACL) (hatrac.ACLs, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acls, commit, err := m.aclsFor(kind, id)
	if err != nil {
		return nil, err
	}
	acls[access] = acl.Sorted()
	commit(acls)
	return acls, nil
}

func (m *memDir) ClearACL(ctx context.Context, kind hatrac.Kind, id int64, access string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acls, commit, err := m.aclsFor(kind, id)
	if err != nil {
		return err
	}
	acls[access] = hatrac.ACL{}
	commit(acls)
	return nil
}

func (m *memDir) AddACLEntry(ctx context.Context, kind hatrac.Kind, id int64, access, entry string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acls, commit, err := m.aclsFor(kind, id)
	if err != nil {
		return err
	}
	acls[access] = acls.Get(access).Add(entry)
	commit(acls)
	return nil
}

func (m *memDir) DropACLEntry(ctx context.Context, kind hatrac.Kind, id int64, access, entry string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acls, commit, err := m.aclsFor(kind, id)
	if err != nil {
		return err
	}
	if !acls.Get(access).Contains(entry) {
		return hatrac.NewNotFound("entry not present")
	}
	acls[access] = acls.Get(access).Remove(entry)
	commit(acls)
	return nil
}

func (m *memDir) SetMetadataField(ctx context.Context, version *directory.Version, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.versions[version.ID]
	if stored == nil || stored.Deleted {
		return hatrac.NewNotFound("object version not found")
	}
	return stored.Meta.Set(field, value)
}

func (m *memDir) DeleteMetadataField(ctx context.Context, version *directory.Version, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.versions[version.ID]
	if stored == nil || stored.Deleted {
		return hatrac.NewNotFound("object version not found")
	}
	return stored.Meta.Delete(field)
}

func (m *memDir) CreateUpload(ctx context.Context, node *directory.Node, chunkLength, contentLength int64, meta hatrac.Metadata, owner hatrac.ACL, handle string) (*directory.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	upload := &directory.Upload{
		ID:            m.id(),
		ObjectID:      node.ID,
		JobKey:        fmt.Sprintf("JOB%d", m.nextID),
		Name:          node.Name(),
		ChunkLength:   chunkLength,
		ContentLength: contentLength,
		Meta:          meta,
		Owner:         owner.Sorted(),
		Handle:        handle,
		Chunks:        map[int64]storage.ChunkAux{},
		State:         directory.UploadOpen,
	}
	m.uploads[upload.ID] = upload
	return upload, nil
}

func (m *memDir) GetUpload(ctx context.Context, node *directory.Node, jobKey string) (*directory.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, upload := range m.uploads {
		if upload.ObjectID == node.ID && upload.JobKey == jobKey && upload.State == directory.UploadOpen {
			return upload, nil
		}
	}
	return nil, hatrac.NewNotFound("upload job not found")
}

func (m *memDir) ListUploads(ctx context.Context, node *directory.Node) ([]*directory.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var uploads []*directory.Upload
	for _, upload := range m.uploads {
		if upload.ObjectID == node.ID && upload.State == directory.UploadOpen {
			uploads = append(uploads, upload)
		}
	}
	sort.Slice(uploads, func(i, j int) bool { return uploads[i].ID < uploads[j].ID })
	return uploads, nil
}

func (m *memDir) RecordChunk(ctx context.Context, upload *directory.Upload, position int64, chunk storage.ChunkAux) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.uploads[upload.ID]
	if stored == nil || stored.State != directory.UploadOpen {
		return hatrac.NewNotFound("upload job not found")
	}
	stored.Chunks[position] = chunk
	return nil
}

func (m *memDir) BeginFinalize(ctx context.Context, upload *directory.Upload) (*directory.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.uploads[upload.ID]
	if stored == nil || stored.State != directory.UploadOpen {
		return nil, hatrac.NewConflict("upload job is already being finalized")
	}
	if missing := stored.NumChunks() - int64(len(stored.Chunks)); missing > 0 {
		return nil, hatrac.NewConflict("upload job is missing %d chunks", missing)
	}
	stored.State = directory.UploadFinalizing
	return stored, nil
}

func (m *memDir) setUploadState(id int64, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.uploads[id]
	if stored == nil || stored.State != from {
		return hatrac.NewNotFound("upload job not found")
	}
	stored.State = to
	return nil
}

func (m *memDir) CompleteFinalize(ctx context.Context, upload *directory.Upload) error {
	return m.setUploadState(upload.ID, directory.UploadFinalizing, directory.UploadFinalized)
}

func (m *memDir) FailFinalize(ctx context.Context, upload *directory.Upload) error {
	return m.setUploadState(upload.ID, directory.UploadFinalizing, directory.UploadOpen)
}

func (m *memDir) CancelUpload(ctx context.Context, upload *directory.Upload) error {
	return m.setUploadState(upload.ID, directory.UploadOpen, directory.UploadCancelled)
}
