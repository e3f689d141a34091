package entities

import "time"

// Tag is a subject keyword. The same name may exist once per source.
type Tag struct {
	ID                uint      `gorm:"primaryKey"`
	Name              string    `gorm:"size:255;not null;uniqueIndex:idx_tags_name_source"`
	Source            string    `gorm:"size:80;not null;uniqueIndex:idx_tags_name_source"`
	ForeignIdentifier *string   `gorm:"size:255"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (Tag) TableName() string {
	return "tags"
}
