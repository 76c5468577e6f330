// Copyright (C) 2026 Hatrac Authors.
// See LICENSE for copying information.

// Package relocate moves version payloads between deployments. Linking
// points a version at a remote URL without moving bytes; transferring
// pulls the remote content into the local backend and drops the link.
package relocate

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/hatrac/hatrac/pkg/directory"
	"github.com/hatrac/hatrac/pkg/hatrac"
	"github.com/hatrac/hatrac/pkg/hpath"
	"github.com/hatrac/hatrac/storage"
)

var (
	// Error is the relocate error class.
	Error = errs.Class("relocate")

	mon = monkit.Package()
)

// Directory is the metadata surface relocation needs.
type Directory interface {
	Resolve(ctx context.Context, segments []string) (*directory.Resolved, error)
	GetVersion(ctx context.Context, node *directory.Node, key string) (*directory.Version, error)
	UpdateVersionAux(ctx context.Context, id int64, aux *hatrac.Aux) error
}

// Relocator links and transfers version payloads.
type Relocator struct {
	log    *zap.Logger
	dir    Directory
	store  storage.Backend
	client *http.Client
}

// New builds a relocator. A nil HTTP client uses the default client.
func New(log *zap.Logger, dir Directory, store storage.Backend, client *http.Client) *Relocator {
	if client == nil {
		client = http.DefaultClient
	}
	return &Relocator{log: log, dir: dir, store: store, client: client}
}

func (r *Relocator) lookup(ctx context.Context, name, key string) (*directory.Version, error) {
	res, err := r.dir.Resolve(ctx, hpath.SplitName(name))
	if err != nil {
		return nil, err
	}
	if res.Node.Kind != hatrac.KindObject {
		return nil, Error.New("%s is not an object", res.Node.Name())
	}
	return r.dir.GetVersion(ctx, res.Node, key)
}

// Link records a remote URL for a version. Retrieval then redirects to
// the remote deployment instead of touching the local backend.
func (r *Relocator) Link(ctx context.Context, name, key, url string) (err error) {
	defer mon.Task()(&ctx)(&err)

	version, err := r.lookup(ctx, name, key)
	if err != nil {
		return err
	}
	aux := hatrac.Aux{}
	if version.Aux != nil {
		aux = *version.Aux
	}
	aux.URL = url

	if err := r.dir.UpdateVersionAux(ctx, version.ID, &aux); err != nil {
		return err
	}
	r.log.Info("version linked",
		zap.String("name", name), zap.String("version", key), zap.String("url", url))
	return nil
}

// Transfer pulls a linked version's content from its remote URL into the
// local backend, verifying the declared content hashes, and replaces the
// link with the local storage key.
func (r *Relocator) Transfer(ctx context.Context, name, key string) (err error) {
	defer mon.Task()(&ctx)(&err)

	version, err := r.lookup(ctx, name, key)
	if err != nil {
		return err
	}
	if version.Aux == nil || version.Aux.URL == "" {
		return Error.New("%s:%s carries no remote link", name, key)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, version.Aux.URL, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(resp.Body.Close())) }()

	if resp.StatusCode != http.StatusOK {
		return Error.New("remote returned %s for %s", resp.Status, version.Aux.URL)
	}
	size := resp.ContentLength
	if size < 0 {
		size = version.Size
	}
	if size != version.Size {
		return Error.New("remote content is %d bytes, expected %d", size, version.Size)
	}

	backendKey, backendAux, err := r.store.CreateFromStream(ctx, name, resp.Body, size, version.Meta)
	if err != nil {
		return fmt.Errorf("storing transferred content: %w", err)
	}

	aux := *version.Aux
	aux.URL = ""
	aux.HVersion = backendKey
	if backendAux != nil {
		aux.Version = backendAux.Version
	}
	if err := r.dir.UpdateVersionAux(ctx, version.ID, &aux); err != nil {
		return err
	}
	r.log.Info("version transferred",
		zap.String("name", name), zap.String("version", key),
		zap.String("backend-key", backendKey))
	return nil
}
