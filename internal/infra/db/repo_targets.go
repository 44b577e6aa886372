package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tufserv/internal/domain"

	"gorm.io/gorm"
)

type TargetItemRepository struct {
	db *gorm.DB
}

func NewTargetItemRepository(db *gorm.DB) *TargetItemRepository {
	return &TargetItemRepository{db: db}
}

// Upsert inserts or replaces the item keyed by (repo, filename).
// created_at survives replacement; updated_at always moves forward.
func (r *TargetItemRepository) Upsert(ctx context.Context, item domain.TargetItem) (domain.TargetItem, error) {
	if r.db == nil {
		return domain.TargetItem{}, errDBUnavailable
	}
	now := time.Now().UTC()
	var out domain.TargetItem
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current TargetItemModel
		err := tx.Where("repo_id = ? AND filename = ?", item.RepoID, item.Filename).
			First(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			item.CreatedAt = now
			item.UpdatedAt = now
			item.Custom.CreatedAt = now
			item.Custom.UpdatedAt = now
			model, err := targetItemToModel(item)
			if err != nil {
				return err
			}
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
			out = item
			return nil
		case err != nil:
			return err
		}
		item.CreatedAt = current.CreatedAt
		item.UpdatedAt = now
		item.Custom.CreatedAt = current.CreatedAt
		item.Custom.UpdatedAt = now
		model, err := targetItemToModel(item)
		if err != nil {
			return err
		}
		model.CreatedAt = current.CreatedAt
		model.UpdatedAt = now
		if err := tx.Model(&TargetItemModel{}).
			Where("repo_id = ? AND filename = ?", item.RepoID, item.Filename).
			Updates(map[string]any{
				"length":          model.Length,
				"checksum_method": model.ChecksumMethod,
				"checksum_hex":    model.ChecksumHex,
				"custom_json":     model.CustomJSON,
				"updated_at":      now,
			}).Error; err != nil {
			return err
		}
		out = item
		return nil
	})
	if err != nil {
		return domain.TargetItem{}, err
	}
	return out, nil
}

func (r *TargetItemRepository) Get(ctx context.Context, repoID, filename string) (*domain.TargetItem, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model TargetItemModel
	err := r.db.WithContext(ctx).
		Where("repo_id = ? AND filename = ?", repoID, filename).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMissingEntity
		}
		return nil, err
	}
	return targetItemFromModel(model)
}

func (r *TargetItemRepository) Delete(ctx context.Context, repoID, filename string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	res := r.db.WithContext(ctx).
		Where("repo_id = ? AND filename = ?", repoID, filename).
		Delete(&TargetItemModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrMissingEntity
	}
	return nil
}

// DeleteAll removes every item of a repo.
func (r *TargetItemRepository) DeleteAll(ctx context.Context, repoID string) error {
	if r.db == nil {
		return errDBUnavailable
	}
	return r.db.WithContext(ctx).
		Where("repo_id = ?", repoID).
		Delete(&TargetItemModel{}).Error
}

type TargetItemPage struct {
	Total  int64
	Offset int
	Limit  int
	Items  []domain.TargetItem
}

// List pages through a repo's items ordered by filename. nameContains
// filters on the custom name, case-insensitively.
func (r *TargetItemRepository) List(ctx context.Context, repoID, nameContains string, offset, limit int) (TargetItemPage, error) {
	if r.db == nil {
		return TargetItemPage{}, errDBUnavailable
	}
	query := r.db.WithContext(ctx).
		Model(&TargetItemModel{}).
		Where("repo_id = ?", repoID)
	if nameContains != "" {
		query = query.Where("custom_json->>'name' ILIKE ?", "%"+nameContains+"%")
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return TargetItemPage{}, err
	}
	var models []TargetItemModel
	err := query.
		Order("filename ASC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return TargetItemPage{}, err
	}
	items := make([]domain.TargetItem, 0, len(models))
	for _, model := range models {
		item, err := targetItemFromModel(model)
		if err != nil {
			return TargetItemPage{}, err
		}
		items = append(items, *item)
	}
	return TargetItemPage{Total: total, Offset: offset, Limit: limit, Items: items}, nil
}

func (r *TargetItemRepository) ListAll(ctx context.Context, repoID string) ([]domain.TargetItem, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []TargetItemModel
	err := r.db.WithContext(ctx).
		Where("repo_id = ?", repoID).
		Order("filename ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	items := make([]domain.TargetItem, 0, len(models))
	for _, model := range models {
		item, err := targetItemFromModel(model)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, nil
}

func targetItemToModel(item domain.TargetItem) (TargetItemModel, error) {
	customJSON, err := json.Marshal(item.Custom)
	if err != nil {
		return TargetItemModel{}, err
	}
	return TargetItemModel{
		RepoID:         item.RepoID,
		Filename:       item.Filename,
		Length:         item.Length,
		ChecksumMethod: string(item.Checksum.Method),
		ChecksumHex:    item.Checksum.Hash,
		CustomJSON:     customJSON,
		CreatedAt:      item.CreatedAt,
		UpdatedAt:      item.UpdatedAt,
	}, nil
}

func targetItemFromModel(model TargetItemModel) (*domain.TargetItem, error) {
	var custom domain.TargetCustom
	if err := json.Unmarshal(model.CustomJSON, &custom); err != nil {
		return nil, err
	}
	return &domain.TargetItem{
		RepoID:   model.RepoID,
		Filename: model.Filename,
		Length:   model.Length,
		Checksum: domain.Checksum{
			Method: domain.ChecksumMethod(model.ChecksumMethod),
			Hash:   model.ChecksumHex,
		},
		Custom:    custom,
		CreatedAt: model.CreatedAt,
		UpdatedAt: model.UpdatedAt,
	}, nil
}
