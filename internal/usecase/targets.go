package usecase

import (
	"context"
	"encoding/json"
	"errors"

	"tufserv/internal/domain"
	"tufserv/internal/infra/crypto"
	"tufserv/internal/infra/db"
)

const MaxUploadBytes = int64(3_000_000_000)

// TargetCatalog owns the per-repo target items and pushes every
// mutation through the role generation cascade.
type TargetCatalog struct {
	Items   TargetItemRepository
	Blobs   BlobStore
	RoleGen *RoleGenEngine

	PageLimitDefault int
	PageLimitMax     int
}

type AddTargetRequest struct {
	Filename     string
	Length       int64
	Checksum     domain.Checksum
	Name         string
	Version      string
	HardwareIDs  []string
	TargetFormat domain.TargetFormat
	URI          *string
	CliUploaded  *bool
	Proprietary  map[string]json.RawMessage
}

// Add upserts an item and regenerates the role chain, returning the
// new signed targets document.
func (c *TargetCatalog) Add(ctx context.Context, repoID string, req AddTargetRequest) (*domain.SignedRole, error) {
	item, err := c.buildItem(repoID, req)
	if err != nil {
		return nil, err
	}
	prior, err := c.Items.Get(ctx, repoID, req.Filename)
	if err != nil && !errors.Is(err, domain.ErrMissingEntity) {
		return nil, err
	}
	if _, err := c.Items.Upsert(ctx, item); err != nil {
		return nil, err
	}
	targets, err := c.RoleGen.Regenerate(ctx, repoID)
	if err != nil {
		return nil, c.rollbackItem(ctx, repoID, req.Filename, prior, err)
	}
	return targets, nil
}

// Upload stores the binary, then registers the item. Uploading over
// an existing path is refused; Add is the way to replace metadata.
func (c *TargetCatalog) Upload(ctx context.Context, repoID string, req AddTargetRequest, content []byte) (*domain.SignedRole, error) {
	if int64(len(content)) > MaxUploadBytes {
		return nil, domain.ErrPayloadTooLarge
	}
	if !domain.ValidTargetFilename(req.Filename) {
		return nil, domain.ErrInvalidTargetItem
	}
	if _, err := c.Items.Get(ctx, repoID, req.Filename); err == nil {
		return nil, domain.ErrEntityAlreadyExists
	} else if !errors.Is(err, domain.ErrMissingEntity) {
		return nil, err
	}
	if c.Blobs == nil {
		return nil, errors.New("blob store not configured")
	}
	if err := c.Blobs.Put(ctx, repoID, req.Filename, content); err != nil {
		return nil, err
	}
	req.Length = int64(len(content))
	req.Checksum = domain.Checksum{
		Method: domain.ChecksumSHA256,
		Hash:   crypto.SHA256Hex(content),
	}
	return c.Add(ctx, repoID, req)
}

func (c *TargetCatalog) Get(ctx context.Context, repoID, filename string) (*domain.TargetItem, error) {
	return c.Items.Get(ctx, repoID, filename)
}

// FetchContent serves a target binary: managed targets come from the
// blob store, unmanaged ones must carry a URI to redirect to.
func (c *TargetCatalog) FetchContent(ctx context.Context, repoID, filename string) ([]byte, string, error) {
	item, err := c.Items.Get(ctx, repoID, filename)
	if err != nil {
		return nil, "", err
	}
	if c.Blobs != nil {
		exists, err := c.Blobs.Exists(ctx, repoID, filename)
		if err != nil {
			return nil, "", err
		}
		if exists {
			content, err := c.Blobs.Get(ctx, repoID, filename)
			return content, "", err
		}
	}
	if item.Custom.URI == nil || *item.Custom.URI == "" {
		return nil, "", domain.ErrNoURIForUnmanagedTarget
	}
	return nil, *item.Custom.URI, nil
}

// Delete removes the item and its blob. A repo whose targets role is
// offline cannot be re-signed by the server: the item is then restored,
// the blob is kept and the delete reports ErrPreconditionFailed.
func (c *TargetCatalog) Delete(ctx context.Context, repoID, filename string) error {
	prior, err := c.Items.Get(ctx, repoID, filename)
	if err != nil {
		return err
	}
	if err := c.Items.Delete(ctx, repoID, filename); err != nil {
		return err
	}
	if _, err := c.RoleGen.Regenerate(ctx, repoID); err != nil {
		return c.rollbackItem(ctx, repoID, filename, prior, err)
	}
	if c.Blobs != nil {
		if err := c.Blobs.Delete(ctx, repoID, filename); err != nil {
			return err
		}
	}
	return nil
}

func (c *TargetCatalog) List(ctx context.Context, repoID, nameContains string, offset, limit int) (db.TargetItemPage, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = c.pageDefault()
	}
	if limit > c.pageMax() {
		limit = c.pageMax()
	}
	return c.Items.List(ctx, repoID, nameContains, offset, limit)
}

// PatchProprietary shallow-merges the patch into the proprietary
// object: top-level keys in the patch overwrite, everything else is
// untouched. Managed custom fields can never be reached this way.
func (c *TargetCatalog) PatchProprietary(ctx context.Context, repoID, filename string, patch map[string]json.RawMessage) (*domain.TargetItem, error) {
	item, err := c.Items.Get(ctx, repoID, filename)
	if err != nil {
		return nil, err
	}
	if len(patch) > 0 {
		if item.Custom.Proprietary == nil {
			item.Custom.Proprietary = make(map[string]json.RawMessage, len(patch))
		}
		for key, value := range patch {
			item.Custom.Proprietary[key] = value
		}
		if _, err := c.Items.Upsert(ctx, *item); err != nil {
			return nil, err
		}
		if _, err := c.RoleGen.Regenerate(ctx, repoID); err != nil {
			return nil, err
		}
	}
	return c.Items.Get(ctx, repoID, filename)
}

type EditTargetRequest struct {
	URI         *string
	HardwareIDs []string
	Proprietary map[string]json.RawMessage
}

// Edit updates the mutable item fields and regenerates.
func (c *TargetCatalog) Edit(ctx context.Context, repoID, filename string, req EditTargetRequest) (*domain.TargetItem, error) {
	item, err := c.Items.Get(ctx, repoID, filename)
	if err != nil {
		return nil, err
	}
	if req.URI != nil {
		item.Custom.URI = req.URI
	}
	if req.HardwareIDs != nil {
		item.Custom.HardwareIDs = req.HardwareIDs
	}
	if req.Proprietary != nil {
		item.Custom.Proprietary = req.Proprietary
	}
	if _, err := c.Items.Upsert(ctx, *item); err != nil {
		return nil, err
	}
	if _, err := c.RoleGen.Regenerate(ctx, repoID); err != nil {
		return nil, err
	}
	return c.Items.Get(ctx, repoID, filename)
}

func (c *TargetCatalog) buildItem(repoID string, req AddTargetRequest) (domain.TargetItem, error) {
	if !domain.ValidTargetFilename(req.Filename) {
		return domain.TargetItem{}, domain.ErrInvalidTargetItem
	}
	if req.Length <= 0 {
		return domain.TargetItem{}, domain.ErrInvalidTargetItem
	}
	if req.Checksum.Method != domain.ChecksumSHA256 || req.Checksum.Hash == "" {
		return domain.TargetItem{}, domain.ErrInvalidTargetItem
	}
	format := req.TargetFormat
	if format == "" {
		format = domain.TargetFormatBinary
	}
	return domain.TargetItem{
		RepoID:   repoID,
		Filename: req.Filename,
		Length:   req.Length,
		Checksum: req.Checksum,
		Custom: domain.TargetCustom{
			Name:         req.Name,
			Version:      req.Version,
			HardwareIDs:  req.HardwareIDs,
			TargetFormat: format,
			URI:          req.URI,
			CliUploaded:  req.CliUploaded,
			Proprietary:  req.Proprietary,
		},
	}, nil
}

// rollbackItem undoes a catalog mutation whose cascade could not be
// signed, then maps the signing failure onto the precondition error
// the HTTP layer reports as 412.
func (c *TargetCatalog) rollbackItem(ctx context.Context, repoID, filename string, prior *domain.TargetItem, cause error) error {
	if prior != nil {
		_, _ = c.Items.Upsert(ctx, *prior)
	} else {
		_ = c.Items.Delete(ctx, repoID, filename)
	}
	if errors.Is(cause, domain.ErrRoleKeyNotFound) || errors.Is(cause, domain.ErrKeyNotAvailable) {
		return domain.ErrPreconditionFailed
	}
	return cause
}

func (c *TargetCatalog) pageDefault() int {
	if c.PageLimitDefault > 0 {
		return c.PageLimitDefault
	}
	return 50
}

func (c *TargetCatalog) pageMax() int {
	if c.PageLimitMax > 0 {
		return c.PageLimitMax
	}
	return 1000
}
