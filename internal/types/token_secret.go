package types

// TokenSecret is the per-user signing secret for temporary session tokens.
// Exactly one row exists per user; the repo recreates it on deletion, which
// is how all of a user's sessions are invalidated at once.
type TokenSecret struct {
	UserID int64  `gorm:"primaryKey;column:user_id" json:"user_id"`
	Secret string `gorm:"not null;column:secret" json:"-"`
}

func (TokenSecret) TableName() string {
	return "token_secrets"
}
