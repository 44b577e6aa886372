package usecase

import (
	"context"

	"tufserv/internal/domain"
)

// LocalKeyServer satisfies the KeyServer boundary in-process. Used by
// the all-in-one dev deployment and tests; production repo servers
// use the HTTP client instead.
type LocalKeyServer struct {
	Engine *RootRoleEngine
}

func (l *LocalKeyServer) FetchRoot(ctx context.Context, repoID string) (*domain.SignedRootRole, error) {
	return l.Engine.FindFresh(ctx, repoID, nil)
}

func (l *LocalKeyServer) FetchRootVersion(ctx context.Context, repoID string, version int64) (*domain.SignedRootRole, error) {
	return l.Engine.FindVersion(ctx, repoID, version)
}

func (l *LocalKeyServer) CreateRoot(ctx context.Context, repoID string, keyType domain.KeyType, threshold int, forceSync bool) ([]string, error) {
	return l.Engine.CreateRoot(ctx, repoID, keyType, threshold, forceSync)
}

func (l *LocalKeyServer) RotateRoot(ctx context.Context, repoID string) error {
	return l.Engine.Rotate(ctx, repoID)
}

func (l *LocalKeyServer) SignPayload(ctx context.Context, repoID string, roleType domain.RoleType, signed []byte) (*domain.SignedPayload, error) {
	return l.Engine.SignPayload(ctx, repoID, roleType, signed)
}
