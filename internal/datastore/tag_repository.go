package datastore

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openledger/imageledger/internal/datastore/entities"
	"github.com/openledger/imageledger/internal/errors"
)

// TagRepository is the tag side of the record store.
type TagRepository interface {
	// GetOrCreate returns the tag (name, source), creating it if needed.
	// Concurrent callers for the same pair get the same row.
	GetOrCreate(ctx context.Context, name, source string) (*entities.Tag, error)
	// BulkCreate inserts tags, skipping pairs that already exist.
	BulkCreate(ctx context.Context, tags []*entities.Tag) error
	// ListNames returns distinct tag names in alphabetical order.
	ListNames(ctx context.Context) ([]string, error)
	Count(ctx context.Context) (int64, error)
}

type tagRepository struct {
	db *gorm.DB
}

// NewTagRepository creates a TagRepository.
func NewTagRepository(db *gorm.DB) TagRepository {
	return &tagRepository{db: db}
}

func (r *tagRepository) find(ctx context.Context, name, source string) (*entities.Tag, error) {
	var tag entities.Tag
	err := r.db.WithContext(ctx).
		Where("name = ? AND source = ?", name, source).
		First(&tag).Error
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func (r *tagRepository) GetOrCreate(ctx context.Context, name, source string) (*entities.Tag, error) {
	if name == "" {
		return nil, ErrInvalidInput
	}

	tag, err := r.find(ctx, name, source)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dbError(err, "get_tag", "name", name)
	}

	created := &entities.Tag{Name: name, Source: source}
	if createErr := r.db.WithContext(ctx).Create(created).Error; createErr != nil {
		// Another writer may have created it between find and create.
		tag, findErr := r.find(ctx, name, source)
		if findErr != nil {
			return nil, dbError(createErr, "create_tag", "name", name)
		}
		return tag, nil
	}
	return created, nil
}

func (r *tagRepository) BulkCreate(ctx context.Context, tags []*entities.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(tags, insertBatchSize).Error
	if err != nil {
		return dbError(err, "bulk_create_tags", "count", len(tags))
	}
	return nil
}

func (r *tagRepository) ListNames(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).Model(&entities.Tag{}).
		Distinct("name").
		Order("name ASC").
		Pluck("name", &names).Error
	if err != nil {
		return nil, dbError(err, "list_tag_names")
	}
	return names, nil
}

func (r *tagRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.Tag{}).Count(&count).Error; err != nil {
		return 0, dbError(err, "count_tags")
	}
	return count, nil
}
