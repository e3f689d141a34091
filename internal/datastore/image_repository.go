package datastore

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/errors"
)

const insertBatchSize = 100

// ImageRepository is the image side of the record store.
type ImageRepository interface {
	// BulkInsert inserts all images in one transaction. A unique violation
	// on any row rolls the batch back and returns an error matching
	// ErrDuplicateKey.
	BulkInsert(ctx context.Context, images []*entities.Image) error

	FindByIdentifier(ctx context.Context, identifier string) (*entities.Image, error)
	FindByURL(ctx context.Context, url string) (*entities.Image, error)
	FindByForeignIdentifier(ctx context.Context, provider, foreignID string) (*entities.Image, error)

	// ExistingIdentifiers returns the subset of identifiers already stored.
	ExistingIdentifiers(ctx context.Context, identifiers []string) (map[string]struct{}, error)
	Count(ctx context.Context) (int64, error)
	CountByProvider(ctx context.Context, provider string) (int64, error)

	// ListIDsBySyncAge returns ids of live images, never synced first, then
	// by oldest sync. limit <= 0 returns all.
	ListIDsBySyncAge(ctx context.Context, limit int) ([]uint, error)
	GetByIDs(ctx context.Context, ids []uint) ([]*entities.Image, error)
	// UpdateSyncState persists the sync columns of one image.
	UpdateSyncState(ctx context.Context, img *entities.Image) error

	// IDRange returns the lowest and highest id of indexable images.
	// ok is false when there are none.
	IDRange(ctx context.Context) (lo, hi uint, ok bool, err error)
	// ListIndexableInRange returns live images with lo <= id <= hi.
	ListIndexableInRange(ctx context.Context, lo, hi uint) ([]*entities.Image, error)
}

type imageRepository struct {
	db *gorm.DB
}

// NewImageRepository creates an ImageRepository.
func NewImageRepository(db *gorm.DB) ImageRepository {
	return &imageRepository{db: db}
}

func (r *imageRepository) BulkInsert(ctx context.Context, images []*entities.Image) error {
	if len(images) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(images, insertBatchSize).Error
	})
	switch {
	case err == nil:
		return nil
	case isDuplicateKeyError(err):
		return conflictError(err, "bulk_insert_images", len(images))
	default:
		return dbError(err, "bulk_insert_images", "batch_size", len(images))
	}
}

func (r *imageRepository) findOne(ctx context.Context, operation, query string, args ...any) (*entities.Image, error) {
	var img entities.Image
	err := r.db.WithContext(ctx).Where(query, args...).First(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrImageNotFound
	}
	if err != nil {
		return nil, dbError(err, operation)
	}
	return &img, nil
}

func (r *imageRepository) FindByIdentifier(ctx context.Context, identifier string) (*entities.Image, error) {
	return r.findOne(ctx, "find_by_identifier", "identifier = ?", identifier)
}

func (r *imageRepository) FindByURL(ctx context.Context, url string) (*entities.Image, error) {
	return r.findOne(ctx, "find_by_url", "url = ?", url)
}

func (r *imageRepository) FindByForeignIdentifier(ctx context.Context, provider, foreignID string) (*entities.Image, error) {
	return r.findOne(ctx, "find_by_foreign_identifier", "provider = ? AND foreign_identifier = ?", provider, foreignID)
}

func (r *imageRepository) ExistingIdentifiers(ctx context.Context, identifiers []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(identifiers) == 0 {
		return existing, nil
	}

	var found []string
	err := r.db.WithContext(ctx).Model(&entities.Image{}).
		Where("identifier IN ?", identifiers).
		Pluck("identifier", &found).Error
	if err != nil {
		return nil, dbError(err, "existing_identifiers", "count", len(identifiers))
	}
	for _, id := range found {
		existing[id] = struct{}{}
	}
	return existing, nil
}

func (r *imageRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.Image{}).Count(&count).Error; err != nil {
		return 0, dbError(err, "count_images")
	}
	return count, nil
}

func (r *imageRepository) CountByProvider(ctx context.Context, provider string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Image{}).
		Where("provider = ?", provider).
		Count(&count).Error
	if err != nil {
		return 0, dbError(err, "count_images_by_provider", "provider", provider)
	}
	return count, nil
}

func (r *imageRepository) ListIDsBySyncAge(ctx context.Context, limit int) ([]uint, error) {
	q := r.db.WithContext(ctx).Model(&entities.Image{}).
		Where("removed_from_source = ?", false).
		Order("last_synced_with_source IS NOT NULL").
		Order("last_synced_with_source ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var ids []uint
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, dbError(err, "list_ids_by_sync_age")
	}
	return ids, nil
}

func (r *imageRepository) GetByIDs(ctx context.Context, ids []uint) ([]*entities.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var images []*entities.Image
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&images).Error
	if err != nil {
		return nil, dbError(err, "get_images_by_ids", "count", len(ids))
	}
	return images, nil
}

func (r *imageRepository) UpdateSyncState(ctx context.Context, img *entities.Image) error {
	if img == nil || img.ID == 0 {
		return ErrInvalidInput
	}
	img.UpdatedAt = time.Now()
	result := r.db.WithContext(ctx).Model(img).
		Select("last_synced_with_source", "removed_from_source", "perceptual_hash", "updated_at").
		Updates(img)
	if result.Error != nil {
		return dbError(result.Error, "update_sync_state", "image_id", img.ID)
	}
	if result.RowsAffected == 0 {
		return ErrImageNotFound
	}
	return nil
}

func (r *imageRepository) IDRange(ctx context.Context) (lo, hi uint, ok bool, err error) {
	var minID, maxID sql.NullInt64
	row := r.db.WithContext(ctx).Model(&entities.Image{}).
		Where("removed_from_source = ?", false).
		Select("MIN(id), MAX(id)").
		Row()
	if err := row.Scan(&minID, &maxID); err != nil {
		return 0, 0, false, dbError(err, "id_range")
	}
	if !minID.Valid || !maxID.Valid {
		return 0, 0, false, nil
	}
	return uint(minID.Int64), uint(maxID.Int64), true, nil
}

func (r *imageRepository) ListIndexableInRange(ctx context.Context, lo, hi uint) ([]*entities.Image, error) {
	var images []*entities.Image
	err := r.db.WithContext(ctx).
		Where("id >= ? AND id <= ? AND removed_from_source = ?", lo, hi, false).
		Order("id ASC").
		Find(&images).Error
	if err != nil {
		return nil, dbError(err, "list_indexable_in_range", "lo", lo, "hi", hi)
	}
	return images, nil
}
