package http

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"tufserv/internal/domain"
	"tufserv/internal/infra/db"
)

// Compact in-memory stores backing the HTTP tests. They mirror the
// version-bump and uniqueness rules the gorm repositories enforce.

type memKeyGenRepo struct {
	mu       sync.Mutex
	seq      int
	requests map[string]domain.KeyGenRequest
	keys     *memKeyRepo
}

func newMemKeyGenRepo(keys *memKeyRepo) *memKeyGenRepo {
	return &memKeyGenRepo{requests: make(map[string]domain.KeyGenRequest), keys: keys}
}

func (r *memKeyGenRepo) Create(_ context.Context, req domain.KeyGenRequest) (domain.KeyGenRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if req.ID == "" {
		req.ID = "req-" + strings.Repeat("0", 3-len(itoa(r.seq))) + itoa(r.seq)
	}
	req.CreatedAt = time.Now().UTC().Add(time.Duration(r.seq) * time.Millisecond)
	r.requests[req.ID] = req
	return req, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func (r *memKeyGenRepo) NextRequested(_ context.Context, limit int) ([]domain.KeyGenRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.KeyGenRequest
	for _, req := range r.requests {
		if req.Status == domain.KeyGenRequested {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memKeyGenRepo) ListByRepo(_ context.Context, repoID string) ([]domain.KeyGenRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.KeyGenRequest
	for _, req := range r.requests {
		if req.RepoID == repoID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memKeyGenRepo) SetStatus(_ context.Context, id string, from, to domain.KeyGenStatus, description string) error {
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

func (r *memKeyGenRepo) RetryErrored(_ context.Context, repoID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, req := range r.requests {
		if req.RepoID == repoID && req.Status == domain.KeyGenError {
			req.Status = domain.KeyGenRequested
			r.requests[id] = req
			count++
		}
	}
	return count, nil
}

func (r *memKeyGenRepo) CompleteWithKey(ctx context.Context, requestID string, from domain.KeyGenStatus, key domain.Key) error {
	if err := r.keys.Create(ctx, key); err != nil {
		return err
	}
	return r.SetStatus(ctx, requestID, from, domain.KeyGenGenerated, "")
}

type memKeyRepo struct {
	mu   sync.Mutex
	seq  int
	keys map[string]domain.Key
}

func newMemKeyRepo() *memKeyRepo {
	return &memKeyRepo{keys: make(map[string]domain.Key)}
}

func (r *memKeyRepo) Create(_ context.Context, key domain.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := key.RepoID + "|" + key.KeyID
	if _, ok := r.keys[id]; ok {
		return domain.ErrEntityAlreadyExists
	}
	r.seq++
	key.CreatedAt = time.Now().UTC().Add(time.Duration(r.seq) * time.Millisecond)
	r.keys[id] = key
	return nil
}

func (r *memKeyRepo) Get(_ context.Context, repoID, keyID string) (*domain.Key, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keys[repoID+"|"+keyID]
	if !ok {
		return nil, domain.ErrMissingEntity
	}
	out := key
	return &out, nil
}

func (r *memKeyRepo) ListForRole(_ context.Context, repoID string, roleType domain.RoleType) ([]domain.Key, error) {
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

func (r *memKeyRepo) ListByRepo(_ context.Context, repoID string) ([]domain.Key, error) {
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

func (r *memKeyRepo) ClearPrivateRef(_ context.Context, repoID, keyID string) error {
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

type memRootRepo struct {
	mu    sync.Mutex
	roots map[string][]domain.SignedRootRole
}

func newMemRootRepo() *memRootRepo {
	return &memRootRepo{roots: make(map[string][]domain.SignedRootRole)}
}

func (r *memRootRepo) Persist(_ context.Context, role domain.SignedRootRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role.Version != int64(len(r.roots[role.RepoID]))+1 {
		return domain.ErrInvalidVersionBump
	}
	r.roots[role.RepoID] = append(r.roots[role.RepoID], role)
	return nil
}

func (r *memRootRepo) Latest(_ context.Context, repoID string) (*domain.SignedRootRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions := r.roots[repoID]
	if len(versions) == 0 {
		return nil, domain.ErrMissingEntity
	}
	out := versions[len(versions)-1]
	return &out, nil
}

func (r *memRootRepo) FindVersion(_ context.Context, repoID string, version int64) (*domain.SignedRootRole, error) {
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

type memRoleRepo struct {
	mu    sync.Mutex
	roles map[string]domain.SignedRole
}

func newMemRoleRepo() *memRoleRepo {
	return &memRoleRepo{roles: make(map[string]domain.SignedRole)}
}

func (r *memRoleRepo) Find(_ context.Context, repoID string, roleType domain.RoleType) (*domain.SignedRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[repoID+"|"+string(roleType)]
	if !ok {
		return nil, domain.ErrMissingEntity
	}
	out := role
	return &out, nil
}

func (r *memRoleRepo) Persist(_ context.Context, role domain.SignedRole) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persistLocked(role)
}

func (r *memRoleRepo) PersistCascade(_ context.Context, roles ...domain.SignedRole) error {
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

func (r *memRoleRepo) persistLocked(role domain.SignedRole) error {
	key := role.RepoID + "|" + string(role.RoleType)
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

type memItemRepo struct {
	mu    sync.Mutex
	items map[string]domain.TargetItem
}

func newMemItemRepo() *memItemRepo {
	return &memItemRepo{items: make(map[string]domain.TargetItem)}
}

func (r *memItemRepo) Upsert(_ context.Context, item domain.TargetItem) (domain.TargetItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
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

func (r *memItemRepo) Get(_ context.Context, repoID, filename string) (*domain.TargetItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[repoID+"|"+filename]
	if !ok {
		return nil, domain.ErrMissingEntity
	}
	out := item
	return &out, nil
}

func (r *memItemRepo) Delete(_ context.Context, repoID, filename string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := repoID + "|" + filename
	if _, ok := r.items[key]; !ok {
		return domain.ErrMissingEntity
	}
	delete(r.items, key)
	return nil
}

func (r *memItemRepo) DeleteAll(_ context.Context, repoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.items {
		if strings.HasPrefix(key, repoID+"|") {
			delete(r.items, key)
		}
	}
	return nil
}

func (r *memItemRepo) List(ctx context.Context, repoID, nameContains string, offset, limit int) (db.TargetItemPage, error) {
	all, _ := r.ListAll(ctx, repoID)
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
	return db.TargetItemPage{Total: total, Offset: offset, Limit: limit, Items: filtered[offset:end]}, nil
}

func (r *memItemRepo) ListAll(_ context.Context, repoID string) ([]domain.TargetItem, error) {
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

type memDelegationRepo struct {
	mu    sync.Mutex
	roles map[string]domain.DelegatedTargets
}

func newMemDelegationRepo() *memDelegationRepo {
	return &memDelegationRepo{roles: make(map[string]domain.DelegatedTargets)}
}

func (r *memDelegationRepo) Find(_ context.Context, repoID, name string) (*domain.DelegatedTargets, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[repoID+"|"+name]
	if !ok {
		return nil, domain.ErrMissingEntity
	}
	out := role
	return &out, nil
}

func (r *memDelegationRepo) Persist(_ context.Context, delegated domain.DelegatedTargets) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := delegated.RepoID + "|" + delegated.Name
	if current, ok := r.roles[key]; ok && delegated.Version <= current.Version {
		return domain.ErrInvalidVersionBump
	}
	if delegated.Version < 1 {
		return domain.ErrInvalidVersionBump
	}
	r.roles[key] = delegated
	return nil
}

type memExpiryRepo struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newMemExpiryRepo() *memExpiryRepo {
	return &memExpiryRepo{entries: make(map[string]time.Time)}
}

func (r *memExpiryRepo) Set(_ context.Context, repoID string, notBefore time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[repoID] = notBefore
	return nil
}

func (r *memExpiryRepo) Get(_ context.Context, repoID string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	notBefore, ok := r.entries[repoID]
	if !ok {
		return nil, nil
	}
	out := notBefore
	return &out, nil
}

type memBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: make(map[string][]byte)}
}

func (s *memBlobStore) Put(_ context.Context, repoID, filename string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[repoID+"|"+filename] = append([]byte(nil), content...)
	return nil
}

func (s *memBlobStore) Get(_ context.Context, repoID, filename string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.blobs[repoID+"|"+filename]
	if !ok {
		return nil, domain.ErrMissingEntity
	}
	return append([]byte(nil), content...), nil
}

func (s *memBlobStore) Exists(_ context.Context, repoID, filename string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[repoID+"|"+filename]
	return ok, nil
}

func (s *memBlobStore) Delete(_ context.Context, repoID, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, repoID+"|"+filename)
	return nil
}

type memNamespaceRepo struct {
	mu    sync.Mutex
	repos map[string]string
}

func newMemNamespaceRepo() *memNamespaceRepo {
	return &memNamespaceRepo{repos: make(map[string]string)}
}

func (r *memNamespaceRepo) Create(_ context.Context, namespace, repoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.repos[namespace]; ok {
		return domain.ErrEntityAlreadyExists
	}
	r.repos[namespace] = repoID
	return nil
}

func (r *memNamespaceRepo) Find(_ context.Context, namespace string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	repoID, ok := r.repos[namespace]
	if !ok {
		return "", domain.ErrMissingEntity
	}
	return repoID, nil
}
