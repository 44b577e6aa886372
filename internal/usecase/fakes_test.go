package usecase

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"tufserv/internal/domain"
	"tufserv/internal/infra/db"
)

// fakeSecretStore mirrors internal/infra/keys/soft.Store for tests in this
// package: that package imports usecase, so importing it directly from an
// internal usecase test file would create an import cycle.
type fakeSecretStore struct {
	mu   sync.Mutex
	keys map[string]KeyMaterial
}

func newFakeSecretStore() *fakeSecretStore {
	return &fakeSecretStore{keys: make(map[string]KeyMaterial)}
}

func (s *fakeSecretStore) Put(_ context.Context, material KeyMaterial) (string, error) {
	ref := material.RepoID + "/" + string(material.RoleType) + "/" + material.KeyID
	copied := material
	copied.PrivatePEM = append([]byte(nil), material.PrivatePEM...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[ref] = copied
	return ref, nil
}

func (s *fakeSecretStore) Get(_ context.Context, ref string) (*KeyMaterial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	material, ok := s.keys[ref]
	if !ok {
		return nil, domain.ErrKeyNotAvailable
	}
	out := material
	out.PrivatePEM = append([]byte(nil), material.PrivatePEM...)
	return &out, nil
}

func (s *fakeSecretStore) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, ref)
	return nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeKeyGenRepo struct {
	mu       sync.Mutex
	seq      int
	requests map[string]domain.KeyGenRequest
	keys     *fakeKeyRepo
}

func newFakeKeyGenRepo(keys *fakeKeyRepo) *fakeKeyGenRepo {
	return &fakeKeyGenRepo{requests: make(map[string]domain.KeyGenRequest), keys: keys}
}

func (r *fakeKeyGenRepo) Create(_ context.Context, req domain.KeyGenRequest) (domain.KeyGenRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.ID == "" {
		r.seq++
		req.ID = "req-" + string(rune('a'+r.seq-1))
	}
	req.CreatedAt = time.Now().UTC()
	r.requests[req.ID] = req
	return req, nil
}

func (r *fakeKeyGenRepo) NextRequested(_ context.Context, limit int) ([]domain.KeyGenRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.KeyGenRequest
	for _, req := range r.requests {
		if req.Status == domain.KeyGenRequested {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeKeyGenRepo) ListByRepo(_ context.Context, repoID string) ([]domain.KeyGenRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.KeyGenRequest
	for _, req := range r.requests {
		if req.RepoID == repoID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeKeyGenRepo) SetStatus(_ context.Context, id string, from, to domain.KeyGenStatus, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok || req.Status != from {
		return domain.ErrMissingEntity
	}
	req.Status = to
	req.Description = description
	r.requests[id] = req
	return nil
}

func (r *fakeKeyGenRepo) RetryErrored(_ context.Context, repoID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, req := range r.requests {
		if req.RepoID == repoID && req.Status == domain.KeyGenError {
			req.Status = domain.KeyGenRequested
			req.Description = ""
			r.requests[id] = req
			count++
		}
	}
	return count, nil
}

func (r *fakeKeyGenRepo) CompleteWithKey(ctx context.Context, requestID string, from domain.KeyGenStatus, key domain.Key) error {
	if err := r.keys.Create(ctx, key); err != nil {
		return err
	}
	return r.SetStatus(ctx, requestID, from, domain.KeyGenGenerated, "")
}

type fakeKeyRepo struct {
	mu   sync.Mutex
	keys map[string]domain.Key
}

func newFakeKeyRepo() *fakeKeyRepo {
	return &fakeKeyRepo{keys: make(map[string]domain.Key)}
}

func (r *fakeKeyRepo) Create(_ context.Context, key domain.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key.RepoID+"|"+key.KeyID]; ok {
		return domain.ErrEntityAlreadyExists
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	r.keys[key.RepoID+"|"+key.KeyID] = key
	return nil
}

func (r *fakeKeyRepo) Get(_ context.Context, repoID, keyID string) (*domain.Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[repoID+"|"+keyID]
	if !ok {
		return nil, domain.ErrMissingEntity
	}
	out := key
	return &out, nil
}

func (r *fakeKeyRepo) ListForRole(_ context.Context, repoID string, roleType domain.RoleType) ([]domain.Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Key
	for _, key := range r.keys {
		if key.RepoID == repoID && key.RoleType == roleType {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeKeyRepo) ListByRepo(_ context.Context, repoID string) ([]domain.Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Key
	for _, key := range r.keys {
		if key.RepoID == repoID {
			out = append(out, key)
		}
	}
	return out, nil
}

func (r *fakeKeyRepo) ClearPrivateRef(_ context.Context, repoID, keyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[repoID+"|"+keyID]
	if !ok {
		return domain.ErrMissingEntity
	}
	key.PrivateRef = nil
	r.keys[repoID+"|"+keyID] = key
	return nil
}

type fakeRootRepo struct {
	mu    sync.Mutex
	roots map[string][]domain.SignedRootRole
}

func newFakeRootRepo() *fakeRootRepo {
	return &fakeRootRepo{roots: make(map[string][]domain.SignedRootRole)}
}

func (r *fakeRootRepo) Persist(_ context.Context, role domain.SignedRootRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := int64(len(r.roots[role.RepoID]))
	if role.Version != current+1 {
		return domain.ErrInvalidVersionBump
	}
	r.roots[role.RepoID] = append(r.roots[role.RepoID], role)
	return nil
}

func (r *fakeRootRepo) Latest(_ context.Context, repoID string) (*domain.SignedRootRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.roots[repoID]
	if len(versions) == 0 {
		return nil, domain.ErrMissingEntity
	}
	out := versions[len(versions)-1]
	return &out, nil
}

func (r *fakeRootRepo) FindVersion(_ context.Context, repoID string, version int64) (*domain.SignedRootRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range r.roots[repoID] {
		if role.Version == version {
			out := role
			return &out, nil
		}
	}
	return nil, domain.ErrMissingEntity
}

type fakeRoleRepo struct {
	mu    sync.Mutex
	roles map[string]domain.SignedRole
}

func newFakeRoleRepo() *fakeRoleRepo {
	return &fakeRoleRepo{roles: make(map[string]domain.SignedRole)}
}

func roleKey(repoID string, roleType domain.RoleType) string {
	return repoID + "|" + string(roleType)
}

func (r *fakeRoleRepo) Find(_ context.Context, repoID string, roleType domain.RoleType) (*domain.SignedRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[roleKey(repoID, roleType)]
	if !ok {
		return nil, domain.ErrMissingEntity
	}
	out := role
	return &out, nil
}

func (r *fakeRoleRepo) Persist(_ context.Context, role domain.SignedRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persistLocked(role)
}

func (r *fakeRoleRepo) PersistCascade(_ context.Context, roles ...domain.SignedRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[string]domain.SignedRole, len(r.roles))
	for k, v := range r.roles {
		saved[k] = v
	}
	for _, role := range roles {
		if err := r.persistLocked(role); err != nil {
			r.roles = saved
			return err
		}
	}
	return nil
}

func (r *fakeRoleRepo) persistLocked(role domain.SignedRole) error {
	key := roleKey(role.RepoID, role.RoleType)
	current, ok := r.roles[key]
	if !ok {
		if role.Version < 1 {
			return domain.ErrInvalidVersionBump
		}
		r.roles[key] = role
		return nil
	}
	if role.Version != current.Version+1 {
		return domain.ErrInvalidVersionBump
	}
	r.roles[key] = role
	return nil
}

type fakeItemRepo struct {
	mu    sync.Mutex
	items map[string]domain.TargetItem
	clock *manualClock
}

func newFakeItemRepo(clock *manualClock) *fakeItemRepo {
	return &fakeItemRepo{items: make(map[string]domain.TargetItem), clock: clock}
}

func (r *fakeItemRepo) Upsert(_ context.Context, item domain.TargetItem) (domain.TargetItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	key := item.RepoID + "|" + item.Filename
	if current, ok := r.items[key]; ok {
		item.CreatedAt = current.CreatedAt
		item.Custom.CreatedAt = current.CreatedAt
	} else {
		item.CreatedAt = now
		item.Custom.CreatedAt = now
	}
	item.UpdatedAt = now
	item.Custom.UpdatedAt = now
	r.items[key] = item
	return item, nil
}

func (r *fakeItemRepo) Get(_ context.Context, repoID, filename string) (*domain.TargetItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[repoID+"|"+filename]
	if !ok {
		return nil, domain.ErrMissingEntity
	}
	out := item
	return &out, nil
}

func (r *fakeItemRepo) Delete(_ context.Context, repoID, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := repoID + "|" + filename
	if _, ok := r.items[key]; !ok {
		return domain.ErrMissingEntity
	}
	delete(r.items, key)
	return nil
}

func (r *fakeItemRepo) DeleteAll(_ context.Context, repoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.items {
		if strings.HasPrefix(key, repoID+"|") {
			delete(r.items, key)
		}
	}
	return nil
}

func (r *fakeItemRepo) List(ctx context.Context, repoID, nameContains string, offset, limit int) (db.TargetItemPage, error) {
	all, err := r.ListAll(ctx, repoID)
	if err != nil {
		return db.TargetItemPage{}, err
	}
	var filtered []domain.TargetItem
	for _, item := range all {
		if nameContains == "" || strings.Contains(strings.ToLower(item.Custom.Name), strings.ToLower(nameContains)) {
			filtered = append(filtered, item)
		}
	}
	total := int64(len(filtered))
	if offset > len(filtered) {
		offset = len(filtered)
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return db.TargetItemPage{
		Total:  total,
		Offset: offset,
		Limit:  limit,
		Items:  filtered[offset:end],
	}, nil
}

func (r *fakeItemRepo) ListAll(_ context.Context, repoID string) ([]domain.TargetItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TargetItem
	for _, item := range r.items {
		if item.RepoID == repoID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

type fakeDelegationRepo struct {
	mu    sync.Mutex
	roles map[string]domain.DelegatedTargets
}

func newFakeDelegationRepo() *fakeDelegationRepo {
	return &fakeDelegationRepo{roles: make(map[string]domain.DelegatedTargets)}
}

func (r *fakeDelegationRepo) Find(_ context.Context, repoID, name string) (*domain.DelegatedTargets, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[repoID+"|"+name]
	if !ok {
		return nil, domain.ErrMissingEntity
	}
	out := role
	return &out, nil
}

func (r *fakeDelegationRepo) Persist(_ context.Context, delegated domain.DelegatedTargets) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := delegated.RepoID + "|" + delegated.Name
	if current, ok := r.roles[key]; ok {
		if delegated.Version <= current.Version {
			return domain.ErrInvalidVersionBump
		}
	} else if delegated.Version < 1 {
		return domain.ErrInvalidVersionBump
	}
	r.roles[key] = delegated
	return nil
}

type fakeExpiryRepo struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newFakeExpiryRepo() *fakeExpiryRepo {
	return &fakeExpiryRepo{entries: make(map[string]time.Time)}
}

func (r *fakeExpiryRepo) Set(_ context.Context, repoID string, notBefore time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[repoID] = notBefore
	return nil
}

func (r *fakeExpiryRepo) Get(_ context.Context, repoID string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	notBefore, ok := r.entries[repoID]
	if !ok {
		return nil, nil
	}
	out := notBefore
	return &out, nil
}

type fakeBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string][]byte)}
}

func (s *fakeBlobStore) Put(_ context.Context, repoID, filename string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[repoID+"|"+filename] = append([]byte(nil), content...)
	return nil
}

func (s *fakeBlobStore) Get(_ context.Context, repoID, filename string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.blobs[repoID+"|"+filename]
	if !ok {
		return nil, domain.ErrMissingEntity
	}
	return append([]byte(nil), content...), nil
}

func (s *fakeBlobStore) Exists(_ context.Context, repoID, filename string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[repoID+"|"+filename]
	return ok, nil
}

func (s *fakeBlobStore) Delete(_ context.Context, repoID, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, repoID+"|"+filename)
	return nil
}

type fakeNamespaceRepo struct {
	mu    sync.Mutex
	repos map[string]string
}

func newFakeNamespaceRepo() *fakeNamespaceRepo {
	return &fakeNamespaceRepo{repos: make(map[string]string)}
}

func (r *fakeNamespaceRepo) Create(_ context.Context, namespace, repoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.repos[namespace]; ok {
		return domain.ErrEntityAlreadyExists
	}
	r.repos[namespace] = repoID
	return nil
}

func (r *fakeNamespaceRepo) Find(_ context.Context, namespace string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	repoID, ok := r.repos[namespace]
	if !ok {
		return "", domain.ErrMissingEntity
	}
	return repoID, nil
}

// world wires the key server core and repo server core in-process the
// way the dev deployment does, with fakes behind every boundary.
type world struct {
	clock   *manualClock
	keys    *fakeKeyRepo
	reqs    *fakeKeyGenRepo
	roots   *fakeRootRepo
	secrets *fakeSecretStore
	keygen  *KeyGenEngine
	engine  *RootRoleEngine
	roles   *fakeRoleRepo
	items   *fakeItemRepo
	expiry  *fakeExpiryRepo
	blobs   *fakeBlobStore
	rolegen *RoleGenEngine
	catalog *TargetCatalog
	offline *OfflineTargets
}

func newWorld(t *testing.T) *world {
	t.Helper()
	clock := newManualClock()
	keys := newFakeKeyRepo()
	reqs := newFakeKeyGenRepo(keys)
	roots := newFakeRootRepo()
	secrets := newFakeSecretStore()

	keygen := &KeyGenEngine{
		Requests: reqs,
		Keys:     keys,
		Secrets:  secrets,
		Clock:    clock.Now,
	}
	engine := &RootRoleEngine{
		Requests: reqs,
		Keys:     keys,
		Roots:    roots,
		Secrets:  secrets,
		KeyGen:   keygen,
		Clock:    clock.Now,
	}

	roles := newFakeRoleRepo()
	items := newFakeItemRepo(clock)
	expiry := newFakeExpiryRepo()
	blobs := newFakeBlobStore()
	rolegen := &RoleGenEngine{
		Roles:        roles,
		Items:        items,
		Expiry:       expiry,
		KeyServer:    &LocalKeyServer{Engine: engine},
		Clock:        clock.Now,
		TargetsTTL:   31 * 24 * time.Hour,
		SnapshotTTL:  24 * time.Hour,
		TimestampTTL: 24 * time.Hour,
	}
	return &world{
		clock:   clock,
		keys:    keys,
		reqs:    reqs,
		roots:   roots,
		secrets: secrets,
		keygen:  keygen,
		engine:  engine,
		roles:   roles,
		items:   items,
		expiry:  expiry,
		blobs:   blobs,
		rolegen: rolegen,
		catalog: &TargetCatalog{Items: items, Blobs: blobs, RoleGen: rolegen},
		offline: &OfflineTargets{Roles: roles, Items: items, Blobs: blobs, RoleGen: rolegen},
	}
}

// createRepo force-syncs a full key hierarchy and first root.
func (w *world) createRepo(t *testing.T, repoID string, keyType domain.KeyType) {
	t.Helper()
	if _, err := w.engine.CreateRoot(context.Background(), repoID, keyType, 1, true); err != nil {
		t.Fatalf("create root: %v", err)
	}
}
