package model

import "time"

// Credential is the identity provider's record for an account. Its ID is the
// user id handed to the rest of the system; the public profile lives in users.
type Credential struct {
	ID               string     `gorm:"primaryKey;type:varchar(36)"`
	Email            string     `gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash     string     `gorm:"type:varchar(255);not null"`
	DisplayName      string     `gorm:"type:varchar(64)"`
	Icon             string     `gorm:"type:varchar(32)"`
	RefreshToken     string     `gorm:"type:varchar(64);index"`
	RefreshExpiresAt *time.Time
	ResetToken       string `gorm:"type:varchar(64);index"`
	ResetExpiresAt   *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (Credential) TableName() string { return "credentials" }
