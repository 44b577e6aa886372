package db

import (
	"context"
	"errors"
	"time"

	"tufserv/internal/domain"

	"gorm.io/gorm"
)

type SignedRoleRepository struct {
	db *gorm.DB
}

func NewSignedRoleRepository(db *gorm.DB) *SignedRoleRepository {
	return &SignedRoleRepository{db: db}
}

func (r *SignedRoleRepository) Find(ctx context.Context, repoID string, roleType domain.RoleType) (*domain.SignedRole, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model SignedRoleModel
	err := r.db.WithContext(ctx).
		Where("repo_id = ? AND role_type = ?", repoID, string(roleType)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMissingEntity
		}
		return nil, err
	}
	role := signedRoleFromModel(model)
	return &role, nil
}

// Persist replaces the current document for (repo, role). The version
// must be exactly one above the stored one; the first write accepts
// any version of 1 or more.
func (r *SignedRoleRepository) Persist(ctx context.Context, role domain.SignedRole) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return persistRole(tx, role)
	})
}

// PersistCascade writes targets, snapshot and timestamp atomically so
// a reader can never observe a snapshot referencing missing targets.
func (r *SignedRoleRepository) PersistCascade(ctx context.Context, roles ...domain.SignedRole) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, role := range roles {
			if err := persistRole(tx, role); err != nil {
				return err
			}
		}
		return nil
	})
}

func persistRole(tx *gorm.DB, role domain.SignedRole) error {
	now := time.Now().UTC()
	var current SignedRoleModel
	err := tx.Where("repo_id = ? AND role_type = ?", role.RepoID, string(role.RoleType)).
		First(&current).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if role.Version < 1 {
			return domain.ErrInvalidVersionBump
		}
		model := signedRoleToModel(role)
		model.CreatedAt = now
		model.UpdatedAt = now
		return tx.Create(&model).Error
	case err != nil:
		return err
	}
	if role.Version != current.Version+1 {
		return domain.ErrInvalidVersionBump
	}
	res := tx.Model(&SignedRoleModel{}).
		Where("repo_id = ? AND role_type = ? AND version = ?", role.RepoID, string(role.RoleType), current.Version).
		Updates(map[string]any{
			"version":         role.Version,
			"expires_at":      role.ExpiresAt,
			"checksum":        role.Checksum,
			"length":          role.Length,
			"canonical_bytes": copyBytes(role.CanonicalBytes),
			"updated_at":      now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race against a concurrent writer.
		return domain.ErrInvalidVersionBump
	}
	return nil
}

func signedRoleToModel(role domain.SignedRole) SignedRoleModel {
	return SignedRoleModel{
		RepoID:         role.RepoID,
		RoleType:       string(role.RoleType),
		Version:        role.Version,
		ExpiresAt:      role.ExpiresAt,
		Checksum:       role.Checksum,
		Length:         role.Length,
		CanonicalBytes: copyBytes(role.CanonicalBytes),
	}
}

func signedRoleFromModel(model SignedRoleModel) domain.SignedRole {
	return domain.SignedRole{
		RepoID:         model.RepoID,
		RoleType:       domain.RoleType(model.RoleType),
		Version:        model.Version,
		ExpiresAt:      model.ExpiresAt,
		Checksum:       model.Checksum,
		Length:         model.Length,
		CanonicalBytes: copyBytes(model.CanonicalBytes),
	}
}
