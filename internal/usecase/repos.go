package usecase

import (
	"context"

	"tufserv/internal/domain"
	"tufserv/internal/infra/db"
)

type RepoNamespaceRepository interface {
	Create(ctx context.Context, namespace, repoID string) error
	Find(ctx context.Context, namespace string) (string, error)
}

// RepositoryService creates repos for namespaces: it allocates the
// repo id, asks the key server for a synchronously generated key
// hierarchy, and publishes the initial role chain.
type RepositoryService struct {
	Namespaces RepoNamespaceRepository
	KeyServer  KeyServer
	RoleGen    *RoleGenEngine
	Expiry     RepoExpiryRepository
}

func (s *RepositoryService) Create(ctx context.Context, namespace string, keyType domain.KeyType) (string, error) {
	repoID, err := db.NewUUID()
	if err != nil {
		return "", err
	}
	if err := s.Namespaces.Create(ctx, namespace, repoID); err != nil {
		return "", err
	}
	if _, err := s.KeyServer.CreateRoot(ctx, repoID, keyType, 1, true); err != nil {
		return "", err
	}
	if _, err := s.RoleGen.Regenerate(ctx, repoID); err != nil {
		return "", err
	}
	return repoID, nil
}

func (s *RepositoryService) Resolve(ctx context.Context, namespace string) (string, error) {
	return s.Namespaces.Find(ctx, namespace)
}
