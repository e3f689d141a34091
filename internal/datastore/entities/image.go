package entities

import "time"

// Image is a canonical image record built from one provider record.
//
// URL and Identifier are unique; Identifier is always derived from URL.
// ForeignIdentifier is unique per provider when present. Optional text
// fields use the empty string for "unknown".
type Image struct {
	ID                uint    `gorm:"primaryKey"`
	Identifier        string  `gorm:"size:64;not null;uniqueIndex"`
	PerceptualHash    *string `gorm:"size:255;index"`
	Provider          string  `gorm:"size:80;not null;uniqueIndex:idx_images_provider_foreign"`
	Source            string  `gorm:"size:80;index"`
	ForeignIdentifier *string `gorm:"size:255;uniqueIndex:idx_images_provider_foreign"`
	ForeignLandingURL string  `gorm:"size:1000"`

	// 768 keeps the unique index within MySQL's 3072 byte key limit
	URL            string   `gorm:"size:768;not null;uniqueIndex"`
	ThumbnailURL   string   `gorm:"column:thumbnail;size:1000"`
	Width          *int     `gorm:"column:width"`
	Height         *int     `gorm:"column:height"`
	FileSize       *int64   `gorm:"column:filesize"`
	License        string   `gorm:"size:50;not null"`
	LicenseVersion string   `gorm:"size:25"`
	Creator        string   `gorm:"size:2000"`
	CreatorURL     string   `gorm:"size:2000"`
	Title          string   `gorm:"size:2000"`
	Tags           []string `gorm:"column:tags_list;type:text;serializer:json"`

	LastSyncedAt      *time.Time `gorm:"column:last_synced_with_source;index"`
	RemovedFromSource bool       `gorm:"not null;default:false;index"`
	CreatedAt         time.Time  `gorm:"autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (Image) TableName() string {
	return "images"
}

// StringPtr returns nil for the empty string, otherwise a pointer to s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// IntPtr returns nil for zero, otherwise a pointer to v.
func IntPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

// ForeignID returns the foreign identifier or the empty string.
func (i *Image) ForeignID() string {
	if i.ForeignIdentifier == nil {
		return ""
	}
	return *i.ForeignIdentifier
}
