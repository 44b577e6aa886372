package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tufserv/internal/domain"
	"tufserv/internal/infra/crypto"
)

// OfflineTargets accepts a client-signed targets.json. The checks run
// in a fixed order and the first breach wins: optimistic checksum,
// well-formedness, signature threshold, delegations consistency.
type OfflineTargets struct {
	Roles   SignedRoleRepository
	Items   TargetItemRepository
	Blobs   BlobStore
	RoleGen *RoleGenEngine
}

// Push validates and persists the payload, then rebuilds snapshot and
// timestamp around it. The targets document itself is stored exactly
// as signed.
func (o *OfflineTargets) Push(ctx context.Context, repoID string, payload domain.SignedPayload, checksum string) error {
	current, err := o.Roles.Find(ctx, repoID, domain.RoleTypeTargets)
	if err != nil && !errors.Is(err, domain.ErrMissingEntity) {
		return err
	}

	// 1. Optimistic concurrency. The first ever push may omit the
	// checksum; after that it must match the stored canonical bytes.
	if current != nil {
		if checksum == "" {
			return domain.ErrPreconditionRequired
		}
		if checksum != current.Checksum {
			return domain.ErrPreconditionFailed
		}
	}

	// 2. Well-formedness.
	doc, canonical, err := o.decode(payload)
	if err != nil {
		return err
	}
	var prior *domain.TargetsRole
	if current != nil {
		if _, priorDoc, err := parseTargetsPayload(current.CanonicalBytes); err == nil {
			prior = priorDoc
		}
	}
	if err := validateTargetsWellFormed(doc, prior); err != nil {
		return err
	}

	// 3. Signature threshold against the current root's targets keys.
	root, err := o.RoleGen.KeyServer.FetchRoot(ctx, repoID)
	if err != nil {
		return err
	}
	rootDoc, err := parseRootPayload(root.Payload)
	if err != nil {
		return err
	}
	signedCanonical, err := crypto.CanonicalizeJSON(payload.Signed)
	if err != nil {
		return fmt.Errorf("%w: signed part not canonicalizable", domain.ErrPayloadSignatureInvalid)
	}
	entry, ok := rootDoc.Roles[domain.RoleTypeTargets]
	if !ok {
		return domain.ErrRoleKeyNotFound
	}
	if err := verifyThreshold(payload.Signatures, signedCanonical, entry, rootDoc.Keys); err != nil {
		return err
	}

	// 4. Delegations consistency.
	if doc.Delegations != nil {
		if err := validateDelegationsBlock(doc.Delegations); err != nil {
			return err
		}
	}

	role := domain.SignedRole{
		RepoID:         repoID,
		RoleType:       domain.RoleTypeTargets,
		Version:        doc.Version,
		ExpiresAt:      doc.Expires,
		Checksum:       crypto.SHA256Hex(canonical),
		Length:         int64(len(canonical)),
		CanonicalBytes: canonical,
	}

	// Republishing the identical document is a no-op.
	if current != nil && doc.Version == current.Version && role.Checksum == current.Checksum {
		return nil
	}

	if err := o.RoleGen.RefreshDerived(ctx, repoID, role); err != nil {
		return err
	}
	o.collectDroppedBlobs(ctx, repoID, prior, doc)
	return nil
}

func (o *OfflineTargets) decode(payload domain.SignedPayload) (*domain.TargetsRole, []byte, error) {
	canonical, err := canonicalPayload(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: payload not canonicalizable", domain.ErrPayloadSignatureInvalid)
	}
	_, doc, err := parseTargetsPayload(canonical)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: signed part is not a targets role", domain.ErrPayloadSignatureInvalid)
	}
	return doc, canonical, nil
}

// collectDroppedBlobs deletes stored binaries for targets the new
// document no longer lists. Best effort: the metadata write already
// committed and blob deletes are idempotent.
func (o *OfflineTargets) collectDroppedBlobs(ctx context.Context, repoID string, prior, next *domain.TargetsRole) {
	if o.Blobs == nil || prior == nil {
		return
	}
	for filename := range prior.Targets {
		if _, kept := next.Targets[filename]; kept {
			continue
		}
		exists, err := o.Blobs.Exists(ctx, repoID, filename)
		if err != nil || !exists {
			continue
		}
		_ = o.Blobs.Delete(ctx, repoID, filename)
	}
}

func validateTargetsWellFormed(doc *domain.TargetsRole, prior *domain.TargetsRole) error {
	for filename, target := range doc.Targets {
		if !domain.ValidTargetFilename(filename) {
			return fmt.Errorf("%w: filename %q", domain.ErrInvalidTargetItem, filename)
		}
		if target.Length <= 0 {
			return fmt.Errorf("%w: target %q has non-positive length", domain.ErrInvalidTargetItem, filename)
		}
		if target.Hashes["sha256"] == "" {
			return fmt.Errorf("%w: target %q has no sha256 hash", domain.ErrInvalidTargetItem, filename)
		}
		isNew := prior == nil
		if prior != nil {
			_, existed := prior.Targets[filename]
			isNew = !existed
		}
		if isNew {
			if err := validateFullCustom(filename, target); err != nil {
				return err
			}
		}
	}
	return nil
}

// validateFullCustom requires complete custom metadata on targets new
// to this push.
func validateFullCustom(filename string, target domain.TargetFile) error {
	if len(target.Custom) == 0 {
		return fmt.Errorf("%w: new target %q has no custom metadata", domain.ErrInvalidTargetItem, filename)
	}
	var custom domain.TargetCustom
	if err := json.Unmarshal(target.Custom, &custom); err != nil {
		return fmt.Errorf("%w: new target %q custom metadata malformed", domain.ErrInvalidTargetItem, filename)
	}
	if custom.Name == "" || custom.Version == "" {
		return fmt.Errorf("%w: new target %q custom metadata incomplete", domain.ErrInvalidTargetItem, filename)
	}
	return nil
}

// verifyThreshold rejects unknown key IDs and duplicate signers, then
// requires at least threshold distinct valid signatures.
func verifyThreshold(signatures []domain.Signature, canonical []byte, entry domain.RoleKeys, keys map[string]domain.PublicKey) error {
	seen := make(map[string]bool)
	valid := 0
	for _, sig := range signatures {
		if !containsString(entry.KeyIDs, sig.KeyID) {
			return fmt.Errorf("%w: signature by undeclared key %s", domain.ErrPayloadSignatureInvalid, sig.KeyID)
		}
		if seen[sig.KeyID] {
			return fmt.Errorf("%w: duplicate signature by key %s", domain.ErrPayloadSignatureInvalid, sig.KeyID)
		}
		seen[sig.KeyID] = true
		pub, ok := keys[sig.KeyID]
		if !ok {
			return fmt.Errorf("%w: key %s not in root document", domain.ErrPayloadSignatureInvalid, sig.KeyID)
		}
		if crypto.Verify(pub, sig, canonical) != nil {
			return fmt.Errorf("%w: signature by key %s does not verify", domain.ErrPayloadSignatureInvalid, sig.KeyID)
		}
		valid++
	}
	if valid < entry.Threshold {
		return fmt.Errorf("%w: %d valid signatures, need %d", domain.ErrPayloadSignatureInvalid, valid, entry.Threshold)
	}
	return nil
}

func validateDelegationsBlock(delegations *domain.Delegations) error {
	for _, role := range delegations.Roles {
		if role.Name == "" {
			return fmt.Errorf("%w: delegation with empty name", domain.ErrInvalidTargetItem)
		}
		for _, keyID := range role.KeyIDs {
			if _, ok := delegations.Keys[keyID]; !ok {
				return fmt.Errorf("%w: delegation %q references undeclared key %s", domain.ErrInvalidTargetItem, role.Name, keyID)
			}
		}
		for _, path := range role.Paths {
			if !validDelegationPath(path) {
				return fmt.Errorf("%w: delegation %q has malformed path %q", domain.ErrInvalidTargetItem, role.Name, path)
			}
		}
		if role.Threshold < 1 {
			return fmt.Errorf("%w: delegation %q has threshold %d", domain.ErrInvalidTargetItem, role.Name, role.Threshold)
		}
	}
	return nil
}

func validDelegationPath(path string) bool {
	if path == "" || path[0] == '/' {
		return false
	}
	return domain.ValidTargetFilename(trimGlob(path))
}

// trimGlob drops a trailing wildcard so path patterns reuse the
// filename rules for the literal prefix.
func trimGlob(path string) string {
	for len(path) > 0 && path[len(path)-1] == '*' {
		path = path[:len(path)-1]
	}
	if path == "" {
		return "x"
	}
	return path
}
