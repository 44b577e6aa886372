package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tufserv/internal/domain"
	"tufserv/internal/infra/crypto"
)

// RootRoleEngine owns the authoritative root role of every repo: it
// builds the first version once keys exist, refreshes expired roots,
// rotates the root key, validates externally signed roots and acts as
// the signing oracle for every other role.
type RootRoleEngine struct {
	Requests KeyGenRequestRepository
	Keys     KeyRepository
	Roots    SignedRootRoleRepository
	Secrets  SecretStore
	KeyGen   *KeyGenEngine
	Clock    Clock
	RootTTL  time.Duration
	RSABits  int
}

// CreateRoot registers the key-gen work for a fresh repo: one request
// per top-level role. With forceSync the requests are parked in ERROR
// (invisible to the background loop), generated inline, and the first
// root is persisted before returning.
func (e *RootRoleEngine) CreateRoot(ctx context.Context, repoID string, keyType domain.KeyType, threshold int, forceSync bool) ([]string, error) {
	if threshold < 1 {
		threshold = 1
	}
	existing, err := e.Requests.ListByRepo(ctx, repoID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, domain.ErrEntityAlreadyExists
	}

	status := domain.KeyGenRequested
	if forceSync {
		status = domain.KeyGenError
	}
	ids := make([]string, 0, len(domain.TopLevelRoleTypes))
	created := make([]domain.KeyGenRequest, 0, len(domain.TopLevelRoleTypes))
	for _, roleType := range domain.TopLevelRoleTypes {
		req, err := e.Requests.Create(ctx, domain.KeyGenRequest{
			RepoID:    repoID,
			RoleType:  roleType,
			KeyType:   keyType,
			KeySize:   e.keySize(keyType),
			Threshold: threshold,
			Status:    status,
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, req.ID)
		created = append(created, req)
	}
	if !forceSync {
		return ids, nil
	}
	for _, req := range created {
		if _, err := e.KeyGen.GenerateInline(ctx, req); err != nil {
			return nil, err
		}
	}
	if _, err := e.buildInitialRoot(ctx, repoID); err != nil {
		return nil, err
	}
	return ids, nil
}

// FindFresh returns the latest root, producing the next version first
// when the stored one expires before max(now, expireNotBefore).
func (e *RootRoleEngine) FindFresh(ctx context.Context, repoID string, expireNotBefore *time.Time) (*domain.SignedRootRole, error) {
	latest, err := e.Roots.Latest(ctx, repoID)
	if errors.Is(err, domain.ErrMissingEntity) {
		return e.buildInitialRoot(ctx, repoID)
	}
	if err != nil {
		return nil, err
	}
	deadline := e.now()
	if expireNotBefore != nil && expireNotBefore.After(deadline) {
		deadline = *expireNotBefore
	}
	if latest.ExpiresAt.After(deadline) {
		return latest, nil
	}
	return e.refresh(ctx, latest, deadline)
}

func (e *RootRoleEngine) FindVersion(ctx context.Context, repoID string, version int64) (*domain.SignedRootRole, error) {
	return e.Roots.FindVersion(ctx, repoID, version)
}

// RetryKeyGen flips errored key-gen requests back to REQUESTED.
func (e *RootRoleEngine) RetryKeyGen(ctx context.Context, repoID string) error {
	_, err := e.Requests.RetryErrored(ctx, repoID)
	return err
}

// Rotate introduces a fresh root key: the new root's root-role key
// set is only the new key, the document is cross-signed by the old
// and new keys, and the old private key goes offline.
func (e *RootRoleEngine) Rotate(ctx context.Context, repoID string) error {
	latest, err := e.Roots.Latest(ctx, repoID)
	if err != nil {
		return err
	}
	doc, err := parseRootPayload(latest.Payload)
	if err != nil {
		return err
	}
	rootEntry, ok := doc.Roles[domain.RoleTypeRoot]
	if !ok || len(rootEntry.KeyIDs) == 0 {
		return domain.ErrRoleKeyNotFound
	}
	oldKeyIDs := append([]string(nil), rootEntry.KeyIDs...)
	keyType := domain.KeyTypeEd25519
	if pub, ok := doc.Keys[oldKeyIDs[0]]; ok {
		keyType = pub.Type
	}

	req, err := e.Requests.Create(ctx, domain.KeyGenRequest{
		RepoID:      repoID,
		RoleType:    domain.RoleTypeRoot,
		KeyType:     keyType,
		KeySize:     e.keySize(keyType),
		Threshold:   rootEntry.Threshold,
		Status:      domain.KeyGenError,
		Description: "root rotation",
	})
	if err != nil {
		return err
	}
	newKey, err := e.KeyGen.GenerateInline(ctx, req)
	if err != nil {
		return err
	}

	next := *doc
	next.Version = doc.Version + 1
	next.Expires = e.now().Add(e.rootTTL())
	next.Keys = make(map[string]domain.PublicKey, len(doc.Keys))
	for id, pub := range doc.Keys {
		if containsString(oldKeyIDs, id) {
			continue
		}
		next.Keys[id] = pub
	}
	next.Keys[newKey.KeyID] = newKey.Public
	next.Roles = make(map[domain.RoleType]domain.RoleKeys, len(doc.Roles))
	for roleType, entry := range doc.Roles {
		next.Roles[roleType] = entry
	}
	next.Roles[domain.RoleTypeRoot] = domain.RoleKeys{
		KeyIDs:    []string{newKey.KeyID},
		Threshold: rootEntry.Threshold,
	}

	signerIDs := append(append([]string(nil), oldKeyIDs...), newKey.KeyID)
	signed, err := e.signRoot(ctx, repoID, &next, signerIDs, doc)
	if err != nil {
		return err
	}
	if err := e.persistRoot(ctx, repoID, &next, signed); err != nil {
		return err
	}
	for _, keyID := range oldKeyIDs {
		if err := e.TakePrivateKeyOffline(ctx, repoID, keyID); err != nil && !errors.Is(err, domain.ErrMissingEntity) {
			return err
		}
	}
	return nil
}

// NextUnsigned returns the root document a client must sign offline:
// the current one with the version bumped and a fresh expiry.
func (e *RootRoleEngine) NextUnsigned(ctx context.Context, repoID string) (*domain.RootRole, error) {
	latest, err := e.Roots.Latest(ctx, repoID)
	if err != nil {
		return nil, err
	}
	doc, err := parseRootPayload(latest.Payload)
	if err != nil {
		return nil, err
	}
	doc.Version = latest.Version + 1
	doc.Expires = e.now().Add(e.rootTTL())
	return doc, nil
}

// ValidateAndPersistSigned runs the client-signed root checks in
// order and collects every breach instead of stopping at the first.
func (e *RootRoleEngine) ValidateAndPersistSigned(ctx context.Context, repoID string, payload domain.SignedPayload) error {
	prev, err := e.Roots.Latest(ctx, repoID)
	if err != nil {
		return err
	}
	prevDoc, err := parseRootPayload(prev.Payload)
	if err != nil {
		return err
	}

	var causes []string
	var next domain.RootRole
	if err := json.Unmarshal(payload.Signed, &next); err != nil {
		return &domain.RootValidationError{Causes: []string{"signed part is not a root role document"}}
	}

	if next.Version != prev.Version+1 {
		causes = append(causes, fmt.Sprintf("version must be %d, was %d", prev.Version+1, next.Version))
	}

	for _, roleType := range domain.TopLevelRoleTypes {
		if _, ok := next.Roles[roleType]; !ok {
			causes = append(causes, fmt.Sprintf("missing role entry for %s", roleType))
		}
	}
	for roleType, entry := range next.Roles {
		if entry.Threshold < 1 {
			causes = append(causes, fmt.Sprintf("role %s has threshold %d", roleType, entry.Threshold))
		}
		if len(entry.KeyIDs) == 0 {
			causes = append(causes, fmt.Sprintf("role %s declares no keys", roleType))
		}
		for _, keyID := range entry.KeyIDs {
			if _, ok := next.Keys[keyID]; !ok {
				causes = append(causes, fmt.Sprintf("role %s references undeclared key %s", roleType, keyID))
			}
		}
	}
	for keyID, pub := range next.Keys {
		computed, err := crypto.KeyID(pub)
		if err != nil || computed != keyID {
			causes = append(causes, fmt.Sprintf("key %s does not match its public material", keyID))
		}
	}

	canonical, err := crypto.CanonicalizeJSON(payload.Signed)
	if err != nil {
		causes = append(causes, "signed part is not canonicalizable")
	} else {
		oldEntry := prevDoc.Roles[domain.RoleTypeRoot]
		newEntry := next.Roles[domain.RoleTypeRoot]
		oldValid := countValidSignatures(payload.Signatures, canonical, oldEntry, prevDoc.Keys)
		if oldValid < oldEntry.Threshold {
			causes = append(causes, fmt.Sprintf("%d valid signatures under previous root keys, need %d", oldValid, oldEntry.Threshold))
		}
		newValid := countValidSignatures(payload.Signatures, canonical, newEntry, next.Keys)
		if newValid < newEntry.Threshold {
			causes = append(causes, fmt.Sprintf("%d valid signatures under new root keys, need %d", newValid, newEntry.Threshold))
		}
	}

	if len(causes) > 0 {
		return &domain.RootValidationError{Causes: causes}
	}
	return e.persistRoot(ctx, repoID, &next, payload)
}

// AddRoles appends role slots to the root, generating their keys
// synchronously. Role types already present are skipped, so the call
// is idempotent.
func (e *RootRoleEngine) AddRoles(ctx context.Context, repoID string, roleTypes ...domain.RoleType) error {
	latest, err := e.Roots.Latest(ctx, repoID)
	if err != nil {
		return err
	}
	doc, err := parseRootPayload(latest.Payload)
	if err != nil {
		return err
	}
	var missing []domain.RoleType
	for _, roleType := range roleTypes {
		if _, ok := doc.Roles[roleType]; !ok {
			missing = append(missing, roleType)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	keyType := domain.KeyTypeEd25519
	if rootEntry, ok := doc.Roles[domain.RoleTypeRoot]; ok && len(rootEntry.KeyIDs) > 0 {
		if pub, ok := doc.Keys[rootEntry.KeyIDs[0]]; ok {
			keyType = pub.Type
		}
	}
	for _, roleType := range missing {
		req, err := e.Requests.Create(ctx, domain.KeyGenRequest{
			RepoID:    repoID,
			RoleType:  roleType,
			KeyType:   keyType,
			KeySize:   e.keySize(keyType),
			Threshold: 1,
			Status:    domain.KeyGenError,
		})
		if err != nil {
			return err
		}
		key, err := e.KeyGen.GenerateInline(ctx, req)
		if err != nil {
			return err
		}
		doc.Keys[key.KeyID] = key.Public
		doc.Roles[roleType] = domain.RoleKeys{KeyIDs: []string{key.KeyID}, Threshold: 1}
	}
	doc.Version = latest.Version + 1
	doc.Expires = e.now().Add(e.rootTTL())
	rootEntry := doc.Roles[domain.RoleTypeRoot]
	signed, err := e.signRoot(ctx, repoID, doc, rootEntry.KeyIDs, doc)
	if err != nil {
		return err
	}
	return e.persistRoot(ctx, repoID, doc, signed)
}

// SignPayload is the signing oracle: it signs arbitrary JSON with
// every currently-online key of the role.
func (e *RootRoleEngine) SignPayload(ctx context.Context, repoID string, roleType domain.RoleType, signed json.RawMessage) (*domain.SignedPayload, error) {
	canonical, err := crypto.CanonicalizeJSON(signed)
	if err != nil {
		return nil, err
	}
	latest, err := e.Roots.Latest(ctx, repoID)
	if err != nil {
		return nil, err
	}
	doc, err := parseRootPayload(latest.Payload)
	if err != nil {
		return nil, err
	}
	entry, ok := doc.Roles[roleType]
	if !ok {
		return nil, domain.ErrRoleKeyNotFound
	}
	signatures, err := e.signWithKeys(ctx, repoID, entry.KeyIDs, doc, canonical)
	if err != nil {
		return nil, err
	}
	return &domain.SignedPayload{Signatures: signatures, Signed: canonical}, nil
}

// TakePrivateKeyOffline deletes the private half from the secret
// store and clears the ref. Calling it twice is fine.
func (e *RootRoleEngine) TakePrivateKeyOffline(ctx context.Context, repoID, keyID string) error {
	key, err := e.Keys.Get(ctx, repoID, keyID)
	if err != nil {
		return err
	}
	if key.PrivateRef != nil {
		if err := e.Secrets.Delete(ctx, *key.PrivateRef); err != nil {
			return err
		}
	}
	return e.Keys.ClearPrivateRef(ctx, repoID, keyID)
}

func (e *RootRoleEngine) buildInitialRoot(ctx context.Context, repoID string) (*domain.SignedRootRole, error) {
	requests, err := e.Requests.ListByRepo(ctx, repoID)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, domain.ErrMissingEntity
	}
	thresholds := make(map[domain.RoleType]int)
	for _, req := range requests {
		if req.Status == domain.KeyGenRequested || req.Status == domain.KeyGenError {
			return nil, domain.ErrKeysNotReady
		}
		if req.Threshold > thresholds[req.RoleType] {
			thresholds[req.RoleType] = req.Threshold
		}
	}

	doc := domain.RootRole{
		Type:        domain.TypeRoot,
		SpecVersion: domain.SpecVersion,
		Version:     1,
		Expires:     e.now().Add(e.rootTTL()),
		Keys:        make(map[string]domain.PublicKey),
		Roles:       make(map[domain.RoleType]domain.RoleKeys),
	}
	for _, roleType := range domain.TopLevelRoleTypes {
		keys, err := e.Keys.ListForRole(ctx, repoID, roleType)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, domain.ErrKeysNotReady
		}
		keyIDs := make([]string, 0, len(keys))
		for _, key := range keys {
			doc.Keys[key.KeyID] = key.Public
			keyIDs = append(keyIDs, key.KeyID)
		}
		threshold := thresholds[roleType]
		if threshold < 1 {
			threshold = 1
		}
		doc.Roles[roleType] = domain.RoleKeys{KeyIDs: keyIDs, Threshold: threshold}
	}

	signed, err := e.signRoot(ctx, repoID, &doc, doc.Roles[domain.RoleTypeRoot].KeyIDs, &doc)
	if err != nil {
		return nil, err
	}
	if err := e.persistRoot(ctx, repoID, &doc, signed); err != nil {
		// Lost the build race; serve whatever won.
		if errors.Is(err, domain.ErrInvalidVersionBump) || errors.Is(err, domain.ErrEntityAlreadyExists) {
			return e.Roots.Latest(ctx, repoID)
		}
		return nil, err
	}
	return e.Roots.Latest(ctx, repoID)
}

// refresh produces the next root version reusing the current key set.
func (e *RootRoleEngine) refresh(ctx context.Context, latest *domain.SignedRootRole, deadline time.Time) (*domain.SignedRootRole, error) {
	doc, err := parseRootPayload(latest.Payload)
	if err != nil {
		return nil, err
	}
	doc.Version = latest.Version + 1
	expires := e.now().Add(e.rootTTL())
	if expires.Before(deadline) {
		expires = deadline.Add(e.rootTTL())
	}
	doc.Expires = expires
	signed, err := e.signRoot(ctx, latest.RepoID, doc, doc.Roles[domain.RoleTypeRoot].KeyIDs, doc)
	if err != nil {
		return nil, err
	}
	if err := e.persistRoot(ctx, latest.RepoID, doc, signed); err != nil {
		if errors.Is(err, domain.ErrInvalidVersionBump) || errors.Is(err, domain.ErrEntityAlreadyExists) {
			return e.Roots.Latest(ctx, latest.RepoID)
		}
		return nil, err
	}
	return e.Roots.Latest(ctx, latest.RepoID)
}

// signRoot signs the marshaled document with the given key IDs,
// resolving public material from keyDoc (which may be the document
// being signed or its predecessor during cross-signing).
func (e *RootRoleEngine) signRoot(ctx context.Context, repoID string, doc *domain.RootRole, signerIDs []string, keyDoc *domain.RootRole) (domain.SignedPayload, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return domain.SignedPayload{}, err
	}
	canonical, err := crypto.CanonicalizeJSON(raw)
	if err != nil {
		return domain.SignedPayload{}, err
	}
	signatures, err := e.signWithKeys(ctx, repoID, signerIDs, keyDoc, canonical)
	if err != nil {
		return domain.SignedPayload{}, err
	}
	return domain.SignedPayload{Signatures: signatures, Signed: canonical}, nil
}

// signWithKeys signs canonical bytes with every online key in the
// list. Keys whose private half is gone are skipped; if that leaves
// none the role cannot be signed at all.
func (e *RootRoleEngine) signWithKeys(ctx context.Context, repoID string, keyIDs []string, doc *domain.RootRole, canonical []byte) ([]domain.Signature, error) {
	var signatures []domain.Signature
	for _, keyID := range keyIDs {
		key, err := e.Keys.Get(ctx, repoID, keyID)
		if err != nil {
			if errors.Is(err, domain.ErrMissingEntity) {
				continue
			}
			return nil, err
		}
		if !key.Online() {
			continue
		}
		material, err := e.Secrets.Get(ctx, *key.PrivateRef)
		if err != nil {
			if errors.Is(err, domain.ErrKeyNotAvailable) {
				continue
			}
			return nil, err
		}
		pub := key.Public
		if doc != nil {
			if docPub, ok := doc.Keys[keyID]; ok {
				pub = docPub
			}
		}
		sig, err := crypto.Sign(material.PrivatePEM, pub, canonical)
		if err != nil {
			return nil, err
		}
		signatures = append(signatures, sig)
	}
	if len(signatures) == 0 {
		return nil, domain.ErrRoleKeyNotFound
	}
	return signatures, nil
}

func (e *RootRoleEngine) persistRoot(ctx context.Context, repoID string, doc *domain.RootRole, payload domain.SignedPayload) error {
	canonical, err := canonicalPayload(payload)
	if err != nil {
		return err
	}
	return e.Roots.Persist(ctx, domain.SignedRootRole{
		RepoID:         repoID,
		Version:        doc.Version,
		ExpiresAt:      doc.Expires,
		Payload:        payload,
		CanonicalBytes: canonical,
	})
}

// keySize picks the generated key size: configurable for RSA, fixed
// by the curve otherwise.
func (e *RootRoleEngine) keySize(keyType domain.KeyType) int {
	if keyType == domain.KeyTypeRSA && e.RSABits >= crypto.MinRSABits {
		return e.RSABits
	}
	return keyType.DefaultSize()
}

func (e *RootRoleEngine) rootTTL() time.Duration {
	if e.RootTTL > 0 {
		return e.RootTTL
	}
	return 365 * 24 * time.Hour
}

func (e *RootRoleEngine) now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC().Truncate(time.Second)
	}
	return time.Now().UTC().Truncate(time.Second)
}

// countValidSignatures counts distinct keys from the role's key set
// that produced a valid signature over canonical. Duplicate
// signatures by one key count once; unknown key IDs count never.
func countValidSignatures(signatures []domain.Signature, canonical []byte, entry domain.RoleKeys, keys map[string]domain.PublicKey) int {
	seen := make(map[string]bool)
	for _, sig := range signatures {
		if seen[sig.KeyID] {
			continue
		}
		if !containsString(entry.KeyIDs, sig.KeyID) {
			continue
		}
		pub, ok := keys[sig.KeyID]
		if !ok {
			continue
		}
		if crypto.Verify(pub, sig, canonical) == nil {
			seen[sig.KeyID] = true
		}
	}
	return len(seen)
}

func containsString(list []string, want string) bool {
	for _, item := range list {
		if item == want {
			return true
		}
	}
	return false
}
