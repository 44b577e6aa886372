package db

import (
	"context"
	"errors"
	"time"

	"tufserv/internal/domain"

	"gorm.io/gorm"
)

type DelegationRepository struct {
	db *gorm.DB
}

func NewDelegationRepository(db *gorm.DB) *DelegationRepository {
	return &DelegationRepository{db: db}
}

func (r *DelegationRepository) Find(ctx context.Context, repoID, name string) (*domain.DelegatedTargets, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model DelegationModel
	err := r.db.WithContext(ctx).
		Where("repo_id = ? AND name = ?", repoID, name).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMissingEntity
		}
		return nil, err
	}
	return &domain.DelegatedTargets{
		RepoID:         model.RepoID,
		Name:           model.Name,
		Version:        model.Version,
		CanonicalBytes: copyBytes(model.CanonicalBytes),
	}, nil
}

// Persist stores a delegated targets document. The version must move
// strictly forward from the stored one.
func (r *DelegationRepository) Persist(ctx context.Context, delegated domain.DelegatedTargets) error {
	if r.db == nil {
		return errDBUnavailable
	}
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current DelegationModel
		err := tx.Where("repo_id = ? AND name = ?", delegated.RepoID, delegated.Name).
			First(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if delegated.Version < 1 {
				return domain.ErrInvalidVersionBump
			}
			return tx.Create(&DelegationModel{
				RepoID:         delegated.RepoID,
				Name:           delegated.Name,
				Version:        delegated.Version,
				CanonicalBytes: copyBytes(delegated.CanonicalBytes),
				CreatedAt:      now,
				UpdatedAt:      now,
			}).Error
		case err != nil:
			return err
		}
		if delegated.Version <= current.Version {
			return domain.ErrInvalidVersionBump
		}
		return tx.Model(&DelegationModel{}).
			Where("repo_id = ? AND name = ?", delegated.RepoID, delegated.Name).
			Updates(map[string]any{
				"version":         delegated.Version,
				"canonical_bytes": copyBytes(delegated.CanonicalBytes),
				"updated_at":      now,
			}).Error
	})
}
