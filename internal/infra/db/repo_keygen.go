package db

import (
	"context"
	"errors"
	"time"

	"tufserv/internal/domain"

	"gorm.io/gorm"
)

type KeyGenRequestRepository struct {
	db *gorm.DB
}

func NewKeyGenRequestRepository(db *gorm.DB) *KeyGenRequestRepository {
	return &KeyGenRequestRepository{db: db}
}

func (r *KeyGenRequestRepository) Create(ctx context.Context, req domain.KeyGenRequest) (domain.KeyGenRequest, error) {
	if r.db == nil {
		return domain.KeyGenRequest{}, errDBUnavailable
	}
	if req.ID == "" {
		id, err := newUUID()
		if err != nil {
			return domain.KeyGenRequest{}, err
		}
		req.ID = id
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	model := keyGenRequestToModel(req)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.KeyGenRequest{}, err
	}
	return keyGenRequestFromModel(model), nil
}

// NextRequested returns up to limit requests still waiting for the
// generation loop, oldest first.
func (r *KeyGenRequestRepository) NextRequested(ctx context.Context, limit int) ([]domain.KeyGenRequest, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if limit <= 0 {
		limit = 1024
	}
	var models []KeyGenRequestModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(domain.KeyGenRequested)).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.KeyGenRequest, 0, len(models))
	for _, model := range models {
		out = append(out, keyGenRequestFromModel(model))
	}
	return out, nil
}

func (r *KeyGenRequestRepository) ListByRepo(ctx context.Context, repoID string) ([]domain.KeyGenRequest, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []KeyGenRequestModel
	err := r.db.WithContext(ctx).
		Where("repo_id = ?", repoID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.KeyGenRequest, 0, len(models))
	for _, model := range models {
		out = append(out, keyGenRequestFromModel(model))
	}
	return out, nil
}

// SetStatus performs a guarded transition. The guard keeps a request
// from reaching more than one terminal state: REQUESTED may move to
// GENERATED or ERROR, ERROR back to REQUESTED on retry.
func (r *KeyGenRequestRepository) SetStatus(ctx context.Context, id string, from, to domain.KeyGenStatus, description string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&KeyGenRequestModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]any{
			"status":      string(to),
			"description": description,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrMissingEntity
	}
	return nil
}

// RetryErrored flips every errored request of a repo back to
// REQUESTED and reports how many it touched.
func (r *KeyGenRequestRepository) RetryErrored(ctx context.Context, repoID string) (int64, error) {
	if r.db == nil {
		return 0, errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Model(&KeyGenRequestModel{}).
		Where("repo_id = ? AND status = ?", repoID, string(domain.KeyGenError)).
		Updates(map[string]any{
			"status":      string(domain.KeyGenRequested),
			"description": "",
			"updated_at":  time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// CompleteWithKey persists a generated key and flips its request to
// GENERATED in one transaction, so a crash cannot leave a key without
// a terminal request or the reverse.
func (r *KeyGenRequestRepository) CompleteWithKey(ctx context.Context, requestID string, from domain.KeyGenStatus, key domain.Key) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := keyToModel(key)
		if err != nil {
			return err
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		res := tx.Model(&KeyGenRequestModel{}).
			Where("id = ? AND status = ?", requestID, string(from)).
			Updates(map[string]any{
				"status":     string(domain.KeyGenGenerated),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrMissingEntity
		}
		return nil
	})
}

func (r *KeyGenRequestRepository) Get(ctx context.Context, id string) (*domain.KeyGenRequest, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model KeyGenRequestModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMissingEntity
		}
		return nil, err
	}
	req := keyGenRequestFromModel(model)
	return &req, nil
}

func keyGenRequestToModel(req domain.KeyGenRequest) KeyGenRequestModel {
	return KeyGenRequestModel{
		ID:          req.ID,
		RepoID:      req.RepoID,
		Status:      string(req.Status),
		RoleType:    string(req.RoleType),
		KeyType:     string(req.KeyType),
		KeySize:     req.KeySize,
		Threshold:   req.Threshold,
		Description: req.Description,
		CreatedAt:   req.CreatedAt,
		UpdatedAt:   req.UpdatedAt,
	}
}

func keyGenRequestFromModel(model KeyGenRequestModel) domain.KeyGenRequest {
	return domain.KeyGenRequest{
		ID:          model.ID,
		RepoID:      model.RepoID,
		Status:      domain.KeyGenStatus(model.Status),
		RoleType:    domain.RoleType(model.RoleType),
		KeyType:     domain.KeyType(model.KeyType),
		KeySize:     model.KeySize,
		Threshold:   model.Threshold,
		Description: model.Description,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}
}
