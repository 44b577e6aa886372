package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tufserv/internal/domain"
)

// RoleGenEngine derives targets, snapshot and timestamp from the
// target catalog and keeps them fresh. All signing goes through the
// key server; all three documents land in one transaction so readers
// never see a snapshot pointing at missing targets.
type RoleGenEngine struct {
	Roles     SignedRoleRepository
	Items     TargetItemRepository
	Expiry    RepoExpiryRepository
	KeyServer KeyServer
	Clock     Clock

	TargetsTTL   time.Duration
	SnapshotTTL  time.Duration
	TimestampTTL time.Duration
}

const timestampRefreshWindow = time.Hour

// Regenerate runs the full cascade: fetch root, rebuild targets from
// the catalog, then snapshot and timestamp, sign each and persist all
// three atomically. Returns the persisted role of the requested type.
func (e *RoleGenEngine) Regenerate(ctx context.Context, repoID string) (*domain.SignedRole, error) {
	root, err := e.KeyServer.FetchRoot(ctx, repoID)
	if err != nil {
		return nil, err
	}

	items, err := e.Items.ListAll(ctx, repoID)
	if err != nil {
		return nil, err
	}
	notBefore, err := e.expiryFloor(ctx, repoID)
	if err != nil {
		return nil, err
	}

	targetsVersion := int64(1)
	var delegations *domain.Delegations
	if current, err := e.Roles.Find(ctx, repoID, domain.RoleTypeTargets); err == nil {
		targetsVersion = current.Version + 1
		if _, doc, err := parseTargetsPayload(current.CanonicalBytes); err == nil {
			delegations = doc.Delegations
		}
	} else if !errors.Is(err, domain.ErrMissingEntity) {
		return nil, err
	}

	targetsDoc := domain.TargetsRole{
		Type:        domain.TypeTargets,
		SpecVersion: domain.SpecVersion,
		Version:     targetsVersion,
		Expires:     e.expires(e.TargetsTTL, notBefore),
		Targets:     make(map[string]domain.TargetFile, len(items)),
		Delegations: delegations,
	}
	for _, item := range items {
		custom, err := json.Marshal(item.Custom)
		if err != nil {
			return nil, err
		}
		targetsDoc.Targets[item.Filename] = domain.TargetFile{
			Length: item.Length,
			Hashes: map[string]string{string(item.Checksum.Method): item.Checksum.Hash},
			Custom: custom,
		}
	}

	targets, err := e.signRole(ctx, repoID, domain.RoleTypeTargets, targetsDoc, targetsVersion, targetsDoc.Expires)
	if err != nil {
		return nil, err
	}
	snapshot, timestamp, err := e.buildDerived(ctx, repoID, root, targets, notBefore)
	if err != nil {
		return nil, err
	}
	if err := e.Roles.PersistCascade(ctx, targets, snapshot, timestamp); err != nil {
		return nil, err
	}
	return &targets, nil
}

// RefreshDerived rebuilds snapshot and timestamp around an
// already-signed targets document, persisting all three together.
// This is the path offline-signed targets take: the server never
// re-signs them.
func (e *RoleGenEngine) RefreshDerived(ctx context.Context, repoID string, targets domain.SignedRole) error {
	root, err := e.KeyServer.FetchRoot(ctx, repoID)
	if err != nil {
		return err
	}
	notBefore, err := e.expiryFloor(ctx, repoID)
	if err != nil {
		return err
	}
	snapshot, timestamp, err := e.buildDerived(ctx, repoID, root, targets, notBefore)
	if err != nil {
		return err
	}
	return e.Roles.PersistCascade(ctx, targets, snapshot, timestamp)
}

// Find returns the current document for the role. Targets and snapshot
// are regenerated first when they are expired, expire before the
// configured expire-not-before instant, or were built against a
// superseded root; the timestamp is re-signed when it expires within
// timestampRefreshWindow or before that instant. Other roles are
// returned as stored.
func (e *RoleGenEngine) Find(ctx context.Context, repoID string, roleType domain.RoleType) (*domain.SignedRole, error) {
	switch roleType {
	case domain.RoleTypeTimestamp:
		return e.findTimestamp(ctx, repoID)
	case domain.RoleTypeTargets, domain.RoleTypeSnapshot:
		return e.findCascading(ctx, repoID, roleType)
	default:
		return e.Roles.Find(ctx, repoID, roleType)
	}
}

func (e *RoleGenEngine) findCascading(ctx context.Context, repoID string, roleType domain.RoleType) (*domain.SignedRole, error) {
	current, err := e.Roles.Find(ctx, repoID, roleType)
	if errors.Is(err, domain.ErrMissingEntity) {
		if _, err := e.Regenerate(ctx, repoID); err != nil {
			return nil, err
		}
		return e.Roles.Find(ctx, repoID, roleType)
	}
	if err != nil {
		return nil, err
	}

	stale, err := e.isStale(ctx, repoID, current)
	if err != nil {
		return nil, err
	}
	if !stale {
		return current, nil
	}
	refreshed, err := e.Regenerate(ctx, repoID)
	if err != nil {
		// A repo whose targets key is offline keeps serving the
		// stored document; only the holder of the key can refresh it.
		if errors.Is(err, domain.ErrRoleKeyNotFound) || errors.Is(err, domain.ErrKeyNotAvailable) {
			return current, nil
		}
		return nil, err
	}
	if roleType == domain.RoleTypeTargets {
		return refreshed, nil
	}
	return e.Roles.Find(ctx, repoID, roleType)
}

func (e *RoleGenEngine) findTimestamp(ctx context.Context, repoID string) (*domain.SignedRole, error) {
	current, err := e.Roles.Find(ctx, repoID, domain.RoleTypeTimestamp)
	if errors.Is(err, domain.ErrMissingEntity) {
		if _, err := e.Regenerate(ctx, repoID); err != nil {
			return nil, err
		}
		return e.Roles.Find(ctx, repoID, domain.RoleTypeTimestamp)
	}
	if err != nil {
		return nil, err
	}
	now := e.now()
	notBefore, err := e.expiryFloor(ctx, repoID)
	if err != nil {
		return nil, err
	}
	fresh := current.ExpiresAt.After(now.Add(timestampRefreshWindow))
	if notBefore != nil && current.ExpiresAt.Before(*notBefore) {
		fresh = false
	}
	if fresh {
		return current, nil
	}

	snapshot, err := e.Roles.Find(ctx, repoID, domain.RoleTypeSnapshot)
	if err != nil {
		return nil, err
	}
	expires := current.ExpiresAt.Add(24 * time.Hour)
	if floor := now.Add(e.ttl(e.TimestampTTL, 24*time.Hour)); expires.Before(floor) {
		expires = floor
	}
	if notBefore != nil && expires.Before(*notBefore) {
		expires = *notBefore
	}
	doc := domain.TimestampRole{
		Type:        domain.TypeTimestamp,
		SpecVersion: domain.SpecVersion,
		Version:     current.Version + 1,
		Expires:     expires,
		Meta: map[string]domain.MetaItem{
			domain.RoleTypeSnapshot.MetaPath(): metaItemFor(snapshot.CanonicalBytes, snapshot.Version),
		},
	}
	role, err := e.signRole(ctx, repoID, domain.RoleTypeTimestamp, doc, doc.Version, doc.Expires)
	if err != nil {
		if errors.Is(err, domain.ErrRoleKeyNotFound) || errors.Is(err, domain.ErrKeyNotAvailable) {
			return current, nil
		}
		return nil, err
	}
	if err := e.Roles.Persist(ctx, role); err != nil {
		if errors.Is(err, domain.ErrInvalidVersionBump) {
			return e.Roles.Find(ctx, repoID, domain.RoleTypeTimestamp)
		}
		return nil, err
	}
	return e.Roles.Find(ctx, repoID, domain.RoleTypeTimestamp)
}

// isStale decides whether a stored role needs regeneration: expiry
// strictly in the past, expiry before the per-repo not-before
// instant, or a snapshot built from a root that has since rotated.
func (e *RoleGenEngine) isStale(ctx context.Context, repoID string, current *domain.SignedRole) (bool, error) {
	now := e.now()
	if current.ExpiresAt.Before(now) {
		return true, nil
	}
	notBefore, err := e.expiryFloor(ctx, repoID)
	if err != nil {
		return false, err
	}
	if notBefore != nil && current.ExpiresAt.Before(*notBefore) {
		return true, nil
	}

	snapshot := current
	if current.RoleType != domain.RoleTypeSnapshot {
		snapshot, err = e.Roles.Find(ctx, repoID, domain.RoleTypeSnapshot)
		if errors.Is(err, domain.ErrMissingEntity) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
	doc, err := parseSnapshotPayload(snapshot.CanonicalBytes)
	if err != nil {
		return false, err
	}
	root, err := e.KeyServer.FetchRoot(ctx, repoID)
	if err != nil {
		return false, err
	}
	rootMeta, ok := doc.Meta[domain.RoleTypeRoot.MetaPath()]
	if !ok || rootMeta.Version != root.Version {
		return true, nil
	}
	return false, nil
}

func (e *RoleGenEngine) buildDerived(ctx context.Context, repoID string, root *domain.SignedRootRole, targets domain.SignedRole, notBefore *time.Time) (domain.SignedRole, domain.SignedRole, error) {
	snapshotVersion := int64(1)
	if current, err := e.Roles.Find(ctx, repoID, domain.RoleTypeSnapshot); err == nil {
		snapshotVersion = current.Version + 1
	} else if !errors.Is(err, domain.ErrMissingEntity) {
		return domain.SignedRole{}, domain.SignedRole{}, err
	}
	snapshotDoc := domain.SnapshotRole{
		Type:        domain.TypeSnapshot,
		SpecVersion: domain.SpecVersion,
		Version:     snapshotVersion,
		Expires:     e.expires(e.SnapshotTTL, notBefore),
		Meta: map[string]domain.MetaItem{
			domain.RoleTypeRoot.MetaPath():    metaItemFor(root.CanonicalBytes, root.Version),
			domain.RoleTypeTargets.MetaPath(): metaItemFor(targets.CanonicalBytes, targets.Version),
		},
	}
	snapshot, err := e.signRole(ctx, repoID, domain.RoleTypeSnapshot, snapshotDoc, snapshotVersion, snapshotDoc.Expires)
	if err != nil {
		return domain.SignedRole{}, domain.SignedRole{}, err
	}

	timestampVersion := int64(1)
	if current, err := e.Roles.Find(ctx, repoID, domain.RoleTypeTimestamp); err == nil {
		timestampVersion = current.Version + 1
	} else if !errors.Is(err, domain.ErrMissingEntity) {
		return domain.SignedRole{}, domain.SignedRole{}, err
	}
	timestampDoc := domain.TimestampRole{
		Type:        domain.TypeTimestamp,
		SpecVersion: domain.SpecVersion,
		Version:     timestampVersion,
		Expires:     e.expires(e.TimestampTTL, notBefore),
		Meta: map[string]domain.MetaItem{
			domain.RoleTypeSnapshot.MetaPath(): metaItemFor(snapshot.CanonicalBytes, snapshot.Version),
		},
	}
	timestamp, err := e.signRole(ctx, repoID, domain.RoleTypeTimestamp, timestampDoc, timestampVersion, timestampDoc.Expires)
	if err != nil {
		return domain.SignedRole{}, domain.SignedRole{}, err
	}
	return snapshot, timestamp, nil
}

func (e *RoleGenEngine) signRole(ctx context.Context, repoID string, roleType domain.RoleType, doc any, version int64, expires time.Time) (domain.SignedRole, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return domain.SignedRole{}, err
	}
	payload, err := e.KeyServer.SignPayload(ctx, repoID, roleType, raw)
	if err != nil {
		return domain.SignedRole{}, err
	}
	return signedRoleFromPayload(repoID, roleType, version, expires, *payload)
}

func (e *RoleGenEngine) expiryFloor(ctx context.Context, repoID string) (*time.Time, error) {
	if e.Expiry == nil {
		return nil, nil
	}
	return e.Expiry.Get(ctx, repoID)
}

// expires computes now+ttl, floored by the user-configured
// not-before instant when one is set.
func (e *RoleGenEngine) expires(ttl time.Duration, notBefore *time.Time) time.Time {
	expires := e.now().Add(e.ttl(ttl, 24*time.Hour))
	if notBefore != nil && expires.Before(*notBefore) {
		expires = *notBefore
	}
	return expires
}

func (e *RoleGenEngine) ttl(configured, fallback time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return fallback
}

func (e *RoleGenEngine) now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC().Truncate(time.Second)
	}
	return time.Now().UTC().Truncate(time.Second)
}
