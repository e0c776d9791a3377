package repos

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

type TokenSecretRepo interface {
	// GetOrCreate returns the user's signing secret, minting one if absent.
	GetOrCreate(ctx context.Context, tx *gorm.DB, userID int64) (*types.TokenSecret, error)
	// Rotate deletes the row; the store trigger recreates it with a fresh
	// secret, which invalidates every outstanding session of the user.
	Rotate(ctx context.Context, tx *gorm.DB, userID int64) error
}

type tokenSecretRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTokenSecretRepo(db *gorm.DB, baseLog *logger.Logger) TokenSecretRepo {
	return &tokenSecretRepo{db: db, log: baseLog.With("repo", "TokenSecretRepo")}
}

func (tr *tokenSecretRepo) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return tr.db
}

func (tr *tokenSecretRepo) GetOrCreate(ctx context.Context, tx *gorm.DB, userID int64) (*types.TokenSecret, error) {
	conn := tr.conn(tx).WithContext(ctx)
	var secret types.TokenSecret
	err := conn.First(&secret, "user_id = ?", userID).Error
	if err == nil {
		return &secret, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("mint token secret: %w", err)
	}
	secret = types.TokenSecret{UserID: userID, Secret: hex.EncodeToString(buf)}
	if err := conn.Clauses(clause.OnConflict{DoNothing: true}).Create(&secret).Error; err != nil {
		return nil, err
	}
	// Another worker may have won the insert race; read back the winner.
	if err := conn.First(&secret, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &secret, nil
}

func (tr *tokenSecretRepo) Rotate(ctx context.Context, tx *gorm.DB, userID int64) error {
	return tr.conn(tx).WithContext(ctx).
		Delete(&types.TokenSecret{}, "user_id = ?", userID).Error
}
