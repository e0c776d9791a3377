package types

import (
	"time"

	"gorm.io/datatypes"
)

// User is the shared core of the three account variants. Exactly one of
// LocalAccount, OIDCAccount or LDAPAccount exists per user.
type User struct {
	ID            int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	Email         string            `gorm:"uniqueIndex;not null;column:email" json:"email"`
	AcceptedTerms datatypes.JSONMap `gorm:"column:accepted_terms" json:"accepted_terms"`
	Admin         bool              `gorm:"not null;default:false;column:admin" json:"admin"`
	LastLogin     time.Time         `gorm:"not null;column:last_login" json:"last_login"`
	CreatedAt     time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null" json:"updated_at"`

	LocalAccount *LocalAccount `gorm:"foreignKey:UserID" json:"-"`
	OIDCAccount  *OIDCAccount  `gorm:"foreignKey:UserID" json:"-"`
	LDAPAccount  *LDAPAccount  `gorm:"foreignKey:UserID" json:"-"`
}

func (User) TableName() string {
	return "users"
}

// Provisioned reports whether the identity is dictated by configuration.
// Such users are exempt from retention cleanup.
func (u *User) Provisioned() bool {
	return u.LocalAccount != nil && u.LocalAccount.Provisioned
}
