package types

type LocalAccount struct {
	UserID       int64  `gorm:"primaryKey;column:user_id" json:"user_id"`
	PasswordHash string `gorm:"not null;column:password_hash" json:"-"`
	Verified     bool   `gorm:"not null;default:false;column:verified" json:"verified"`
	Provisioned  bool   `gorm:"not null;default:false;column:provisioned" json:"provisioned"`
}

func (LocalAccount) TableName() string {
	return "local_accounts"
}

type OIDCAccount struct {
	UserID  int64  `gorm:"primaryKey;column:user_id" json:"user_id"`
	Issuer  string `gorm:"not null;uniqueIndex:idx_oidc_identity;column:issuer" json:"issuer"`
	Subject string `gorm:"not null;uniqueIndex:idx_oidc_identity;column:subject" json:"subject"`
}

func (OIDCAccount) TableName() string {
	return "oidc_accounts"
}

type LDAPAccount struct {
	UserID    int64  `gorm:"primaryKey;column:user_id" json:"user_id"`
	Directory string `gorm:"not null;uniqueIndex:idx_ldap_identity;column:directory" json:"directory"`
	UniqueID  string `gorm:"not null;uniqueIndex:idx_ldap_identity;column:unique_id" json:"unique_id"`
}

func (LDAPAccount) TableName() string {
	return "ldap_accounts"
}
