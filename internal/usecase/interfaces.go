package usecase

import (
	"context"
	"time"

	"tufserv/internal/domain"
	"tufserv/internal/infra/db"
)

type Clock func() time.Time

type KeyGenRequestRepository interface {
	Create(ctx context.Context, req domain.KeyGenRequest) (domain.KeyGenRequest, error)
	NextRequested(ctx context.Context, limit int) ([]domain.KeyGenRequest, error)
	ListByRepo(ctx context.Context, repoID string) ([]domain.KeyGenRequest, error)
	SetStatus(ctx context.Context, id string, from, to domain.KeyGenStatus, description string) error
	RetryErrored(ctx context.Context, repoID string) (int64, error)
	CompleteWithKey(ctx context.Context, requestID string, from domain.KeyGenStatus, key domain.Key) error
}

type KeyRepository interface {
	Create(ctx context.Context, key domain.Key) error
	Get(ctx context.Context, repoID, keyID string) (*domain.Key, error)
	ListForRole(ctx context.Context, repoID string, roleType domain.RoleType) ([]domain.Key, error)
	ListByRepo(ctx context.Context, repoID string) ([]domain.Key, error)
	ClearPrivateRef(ctx context.Context, repoID, keyID string) error
}

type SignedRootRoleRepository interface {
	Persist(ctx context.Context, role domain.SignedRootRole) error
	Latest(ctx context.Context, repoID string) (*domain.SignedRootRole, error)
	FindVersion(ctx context.Context, repoID string, version int64) (*domain.SignedRootRole, error)
}

type SignedRoleRepository interface {
	Find(ctx context.Context, repoID string, roleType domain.RoleType) (*domain.SignedRole, error)
	Persist(ctx context.Context, role domain.SignedRole) error
	PersistCascade(ctx context.Context, roles ...domain.SignedRole) error
}

type TargetItemRepository interface {
	Upsert(ctx context.Context, item domain.TargetItem) (domain.TargetItem, error)
	Get(ctx context.Context, repoID, filename string) (*domain.TargetItem, error)
	Delete(ctx context.Context, repoID, filename string) error
	DeleteAll(ctx context.Context, repoID string) error
	List(ctx context.Context, repoID, nameContains string, offset, limit int) (db.TargetItemPage, error)
	ListAll(ctx context.Context, repoID string) ([]domain.TargetItem, error)
}

type DelegationRepository interface {
	Find(ctx context.Context, repoID, name string) (*domain.DelegatedTargets, error)
	Persist(ctx context.Context, delegated domain.DelegatedTargets) error
}

type RepoExpiryRepository interface {
	Set(ctx context.Context, repoID string, notBefore time.Time) error
	Get(ctx context.Context, repoID string) (*time.Time, error)
}

// KeyMaterial is the private half of a key on its way into or out of
// the secret store.
type KeyMaterial struct {
	KeyID      string
	RepoID     string
	RoleType   domain.RoleType
	KeyType    domain.KeyType
	PrivatePEM []byte
}

// SecretStore holds private key material. Put returns the opaque ref
// persisted alongside the public half; Get with a ref whose material
// was deleted reports domain.ErrKeyNotAvailable. Delete is
// idempotent — that is what "taking a key offline" means.
type SecretStore interface {
	Put(ctx context.Context, material KeyMaterial) (ref string, err error)
	Get(ctx context.Context, ref string) (*KeyMaterial, error)
	Delete(ctx context.Context, ref string) error
}

// BlobStore holds target binaries. Implementations are external
// collaborators; the engine only relies on these four operations
// being idempotent per (repo, filename).
type BlobStore interface {
	Put(ctx context.Context, repoID, filename string, content []byte) error
	Get(ctx context.Context, repoID, filename string) ([]byte, error)
	Exists(ctx context.Context, repoID, filename string) (bool, error)
	Delete(ctx context.Context, repoID, filename string) error
}

// KeyServer is the repo server's view of the key server. The two
// processes share nothing but this HTTP boundary.
type KeyServer interface {
	FetchRoot(ctx context.Context, repoID string) (*domain.SignedRootRole, error)
	FetchRootVersion(ctx context.Context, repoID string, version int64) (*domain.SignedRootRole, error)
	CreateRoot(ctx context.Context, repoID string, keyType domain.KeyType, threshold int, forceSync bool) ([]string, error)
	RotateRoot(ctx context.Context, repoID string) error
	SignPayload(ctx context.Context, repoID string, roleType domain.RoleType, signed []byte) (*domain.SignedPayload, error)
}
