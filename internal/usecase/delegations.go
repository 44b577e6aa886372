package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tufserv/internal/domain"
	"tufserv/internal/infra/crypto"
)

// DelegationsEngine verifies and stores delegated targets documents
// against the delegations the repo's own targets role declares.
type DelegationsEngine struct {
	Roles       SignedRoleRepository
	Delegations DelegationRepository
}

// Push validates a delegated targets document for the named
// delegation: the delegation must be declared, the signatures must
// meet its threshold with distinct declared keys, and the version
// must move strictly forward.
func (e *DelegationsEngine) Push(ctx context.Context, repoID, name string, payload domain.SignedPayload) error {
	name = strings.TrimSuffix(name, ".json")
	role, keys, err := e.lookup(ctx, repoID, name)
	if err != nil {
		return err
	}
	canonical, err := crypto.CanonicalizeJSON(payload.Signed)
	if err != nil {
		return fmt.Errorf("%w: signed part not canonicalizable", domain.ErrPayloadSignatureInvalid)
	}
	// A delegation that cannot be satisfied is never considered valid.
	if role.Threshold < 1 {
		return domain.ErrPayloadSignatureInvalid
	}
	entry := domain.RoleKeys{KeyIDs: role.KeyIDs, Threshold: role.Threshold}
	if err := verifyThreshold(payload.Signatures, canonical, entry, keys); err != nil {
		return err
	}

	var doc domain.TargetsRole
	if err := json.Unmarshal(payload.Signed, &doc); err != nil {
		return fmt.Errorf("%w: signed part is not a targets role", domain.ErrPayloadSignatureInvalid)
	}
	full, err := canonicalPayload(payload)
	if err != nil {
		return fmt.Errorf("%w: payload not canonicalizable", domain.ErrPayloadSignatureInvalid)
	}
	return e.Delegations.Persist(ctx, domain.DelegatedTargets{
		RepoID:         repoID,
		Name:           name,
		Version:        doc.Version,
		CanonicalBytes: full,
	})
}

func (e *DelegationsEngine) Find(ctx context.Context, repoID, name string) (*domain.DelegatedTargets, error) {
	return e.Delegations.Find(ctx, repoID, strings.TrimSuffix(name, ".json"))
}

// lookup resolves the named delegation and its key material from the
// current targets document.
func (e *DelegationsEngine) lookup(ctx context.Context, repoID, name string) (*domain.DelegatedRole, map[string]domain.PublicKey, error) {
	targets, err := e.Roles.Find(ctx, repoID, domain.RoleTypeTargets)
	if err != nil {
		if errors.Is(err, domain.ErrMissingEntity) {
			return nil, nil, domain.ErrDelegationNotDefined
		}
		return nil, nil, err
	}
	_, doc, err := parseTargetsPayload(targets.CanonicalBytes)
	if err != nil {
		return nil, nil, err
	}
	if doc.Delegations == nil {
		return nil, nil, domain.ErrDelegationNotDefined
	}
	for i := range doc.Delegations.Roles {
		if doc.Delegations.Roles[i].Name == name {
			return &doc.Delegations.Roles[i], doc.Delegations.Keys, nil
		}
	}
	return nil, nil, domain.ErrDelegationNotDefined
}
