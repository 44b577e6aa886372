package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tufserv/internal/domain"

	"gorm.io/gorm"
)

type SignedRootRoleRepository struct {
	db *gorm.DB
}

func NewSignedRootRoleRepository(db *gorm.DB) *SignedRootRoleRepository {
	return &SignedRootRoleRepository{db: db}
}

// Persist stores a new root version. Versions per repo are dense and
// start at 1; anything else is an invalid bump. The per-repo advisory
// lock serializes concurrent rotations and client-signed updates.
func (r *SignedRootRoleRepository) Persist(ctx context.Context, role domain.SignedRootRole) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := takeRepoLock(tx, role.RepoID); err != nil {
			return err
		}
		var current int64
		err := tx.Model(&SignedRootRoleModel{}).
			Where("repo_id = ?", role.RepoID).
			Select("COALESCE(MAX(version), 0)").
			Scan(&current).Error
		if err != nil {
			return err
		}
		if role.Version != current+1 {
			return domain.ErrInvalidVersionBump
		}
		model, err := signedRootRoleToModel(role)
		if err != nil {
			return err
		}
		if err := tx.Create(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrEntityAlreadyExists
			}
			return err
		}
		return nil
	})
}

func (r *SignedRootRoleRepository) Latest(ctx context.Context, repoID string) (*domain.SignedRootRole, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SignedRootRoleModel
	err := r.db.WithContext(ctx).
		Where("repo_id = ?", repoID).
		Order("version DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMissingEntity
		}
		return nil, err
	}
	return signedRootRoleFromModel(model)
}

func (r *SignedRootRoleRepository) FindVersion(ctx context.Context, repoID string, version int64) (*domain.SignedRootRole, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SignedRootRoleModel
	err := r.db.WithContext(ctx).
		Where("repo_id = ? AND version = ?", repoID, version).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMissingEntity
		}
		return nil, err
	}
	return signedRootRoleFromModel(model)
}

func signedRootRoleToModel(role domain.SignedRootRole) (SignedRootRoleModel, error) {
	signatures, err := json.Marshal(role.Payload.Signatures)
	if err != nil {
		return SignedRootRoleModel{}, err
	}
	return SignedRootRoleModel{
		RepoID:         role.RepoID,
		Version:        role.Version,
		ExpiresAt:      role.ExpiresAt,
		CanonicalBytes: copyBytes(role.CanonicalBytes),
		Signatures:     signatures,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func signedRootRoleFromModel(model SignedRootRoleModel) (*domain.SignedRootRole, error) {
	var payload domain.SignedPayload
	if err := json.Unmarshal(model.CanonicalBytes, &payload); err != nil {
		return nil, err
	}
	return &domain.SignedRootRole{
		RepoID:         model.RepoID,
		Version:        model.Version,
		ExpiresAt:      model.ExpiresAt,
		Payload:        payload,
		CanonicalBytes: copyBytes(model.CanonicalBytes),
	}, nil
}
