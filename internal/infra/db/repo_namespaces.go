package db

import (
	"context"
	"errors"
	"time"

	"tufserv/internal/domain"

	"gorm.io/gorm"
)

// RepoNamespaceRepository maps an external namespace (whatever the
// authenticating front end hands us) to the repo it owns. One repo
// per namespace.
type RepoNamespaceRepository struct {
	db *gorm.DB
}

func NewRepoNamespaceRepository(db *gorm.DB) *RepoNamespaceRepository {
	return &RepoNamespaceRepository{db: db}
}

func (r *RepoNamespaceRepository) Create(ctx context.Context, namespace, repoID string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing RepoNamespaceModel
		err := tx.Where("namespace = ?", namespace).First(&existing).Error
		if err == nil {
			return domain.ErrEntityAlreadyExists
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&RepoNamespaceModel{
			Namespace: namespace,
			RepoID:    repoID,
			CreatedAt: time.Now().UTC(),
		}).Error
	})
}

func (r *RepoNamespaceRepository) Find(ctx context.Context, namespace string) (string, error) {
	if r.db == nil {
		return "", errDBUnavailable
	}
	var model RepoNamespaceModel
	err := r.db.WithContext(ctx).Where("namespace = ?", namespace).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", domain.ErrMissingEntity
		}
		return "", err
	}
	return model.RepoID, nil
}

// RepoExpiryRepository stores the per-repo expire-not-before instant a
// user can push forward.
type RepoExpiryRepository struct {
	db *gorm.DB
}

func NewRepoExpiryRepository(db *gorm.DB) *RepoExpiryRepository {
	return &RepoExpiryRepository{db: db}
}

func (r *RepoExpiryRepository) Set(ctx context.Context, repoID string, notBefore time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing RepoExpiryModel
		err := tx.Where("repo_id = ?", repoID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&RepoExpiryModel{
				RepoID:    repoID,
				NotBefore: notBefore,
				UpdatedAt: now,
			}).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&RepoExpiryModel{}).
			Where("repo_id = ?", repoID).
			Updates(map[string]any{"not_before": notBefore, "updated_at": now}).Error
	})
}

func (r *RepoExpiryRepository) Get(ctx context.Context, repoID string) (*time.Time, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model RepoExpiryModel
	err := r.db.WithContext(ctx).Where("repo_id = ?", repoID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	notBefore := model.NotBefore
	return &notBefore, nil
}
