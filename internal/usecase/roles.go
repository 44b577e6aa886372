package usecase

import (
	"encoding/json"
	"time"

	"tufserv/internal/domain"
	"tufserv/internal/infra/crypto"
)

// canonicalPayload renders a signed payload into the canonical bytes
// that get persisted, served, and referenced by meta entries.
func canonicalPayload(payload domain.SignedPayload) ([]byte, error) {
	return crypto.CanonicalizeAny(payload)
}

func signedRoleFromPayload(repoID string, roleType domain.RoleType, version int64, expires time.Time, payload domain.SignedPayload) (domain.SignedRole, error) {
	canonical, err := canonicalPayload(payload)
	if err != nil {
		return domain.SignedRole{}, err
	}
	return domain.SignedRole{
		RepoID:         repoID,
		RoleType:       roleType,
		Version:        version,
		ExpiresAt:      expires,
		Checksum:       crypto.SHA256Hex(canonical),
		Length:         int64(len(canonical)),
		CanonicalBytes: canonical,
	}, nil
}

// metaItemFor builds the snapshot/timestamp entry referencing a role's
// canonical bytes.
func metaItemFor(canonical []byte, version int64) domain.MetaItem {
	return domain.MetaItem{
		Hashes:  map[string]string{"sha256": crypto.SHA256Hex(canonical)},
		Length:  int64(len(canonical)),
		Version: version,
	}
}

func parseRootPayload(payload domain.SignedPayload) (*domain.RootRole, error) {
	var root domain.RootRole
	if err := json.Unmarshal(payload.Signed, &root); err != nil {
		return nil, err
	}
	return &root, nil
}

func parseTargetsPayload(canonical []byte) (*domain.SignedPayload, *domain.TargetsRole, error) {
	var payload domain.SignedPayload
	if err := json.Unmarshal(canonical, &payload); err != nil {
		return nil, nil, err
	}
	var targets domain.TargetsRole
	if err := json.Unmarshal(payload.Signed, &targets); err != nil {
		return nil, nil, err
	}
	return &payload, &targets, nil
}

func parseSnapshotPayload(canonical []byte) (*domain.SnapshotRole, error) {
	var payload domain.SignedPayload
	if err := json.Unmarshal(canonical, &payload); err != nil {
		return nil, err
	}
	var snapshot domain.SnapshotRole
	if err := json.Unmarshal(payload.Signed, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
