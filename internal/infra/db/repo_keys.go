package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tufserv/internal/domain"

	"gorm.io/gorm"
)

type KeyRepository struct {
	db *gorm.DB
}

func NewKeyRepository(db *gorm.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

func (r *KeyRepository) Create(ctx context.Context, key domain.Key) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model, err := keyToModel(key)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrEntityAlreadyExists
		}
		return err
	}
	return nil
}

func (r *KeyRepository) Get(ctx context.Context, repoID, keyID string) (*domain.Key, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model KeyModel
	err := r.db.WithContext(ctx).
		Where("repo_id = ? AND key_id = ?", repoID, keyID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMissingEntity
		}
		return nil, err
	}
	return keyFromModel(model)
}

func (r *KeyRepository) ListForRole(ctx context.Context, repoID string, roleType domain.RoleType) ([]domain.Key, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []KeyModel
	err := r.db.WithContext(ctx).
		Where("repo_id = ? AND role_type = ?", repoID, string(roleType)).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Key, 0, len(models))
	for _, model := range models {
		key, err := keyFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, *key)
	}
	return out, nil
}

func (r *KeyRepository) ListByRepo(ctx context.Context, repoID string) ([]domain.Key, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []KeyModel
	err := r.db.WithContext(ctx).
		Where("repo_id = ?", repoID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.Key, 0, len(models))
	for _, model := range models {
		key, err := keyFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, *key)
	}
	return out, nil
}

// ClearPrivateRef marks the key offline. Idempotent: clearing an
// already-offline key writes the same null again and still succeeds.
func (r *KeyRepository) ClearPrivateRef(ctx context.Context, repoID, keyID string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	var model KeyModel
	err := r.db.WithContext(ctx).
		Where("repo_id = ? AND key_id = ?", repoID, keyID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrMissingEntity
		}
		return err
	}
	return r.db.WithContext(ctx).
		Model(&KeyModel{}).
		Where("repo_id = ? AND key_id = ?", repoID, keyID).
		Update("private_ref", nil).Error
}

func keyToModel(key domain.Key) (KeyModel, error) {
	publicBytes, err := json.Marshal(key.Public)
	if err != nil {
		return KeyModel{}, err
	}
	createdAt := key.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return KeyModel{
		KeyID:       key.KeyID,
		RepoID:      key.RepoID,
		RoleType:    string(key.RoleType),
		KeyType:     string(key.KeyType),
		PublicBytes: publicBytes,
		PrivateRef:  key.PrivateRef,
		CreatedAt:   createdAt,
	}, nil
}

func keyFromModel(model KeyModel) (*domain.Key, error) {
	var public domain.PublicKey
	if err := json.Unmarshal(model.PublicBytes, &public); err != nil {
		return nil, err
	}
	return &domain.Key{
		KeyID:      model.KeyID,
		RepoID:     model.RepoID,
		RoleType:   domain.RoleType(model.RoleType),
		KeyType:    domain.KeyType(model.KeyType),
		Public:     public,
		PrivateRef: model.PrivateRef,
		CreatedAt:  model.CreatedAt,
	}, nil
}
