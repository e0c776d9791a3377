package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/voxbridge/voxbridge-backend/internal/logger"
	"github.com/voxbridge/voxbridge-backend/internal/repos"
	"github.com/voxbridge/voxbridge-backend/internal/requestdata"
	"github.com/voxbridge/voxbridge-backend/internal/types"
)

type AuthService interface {
	RegisterUser(ctx context.Context, email, password string) (*types.User, error)
	// LoginUser verifies a local account and returns a session token.
	LoginUser(ctx context.Context, email, password string) (string, error)
	LogoutUser(ctx context.Context, userID int64) error
	// SetContextFromToken validates a session token and attaches the
	// resolved identity to the context. The second return value carries a
	// replacement token when the old one fell below the rolling-refresh
	// threshold, or "" otherwise.
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, string, error)
}

type authService struct {
	db              *gorm.DB
	log             *logger.Logger
	userRepo        repos.UserRepo
	tokenSecretRepo repos.TokenSecretRepo
	sessionTTL      time.Duration
	rollingRefresh  time.Duration
}

func NewAuthService(
	db *gorm.DB,
	baseLog *logger.Logger,
	userRepo repos.UserRepo,
	tokenSecretRepo repos.TokenSecretRepo,
	sessionTTL time.Duration,
	rollingRefresh time.Duration,
) AuthService {
	return &authService{
		db:              db,
		log:             baseLog.With("service", "AuthService"),
		userRepo:        userRepo,
		tokenSecretRepo: tokenSecretRepo,
		sessionTTL:      sessionTTL,
		rollingRefresh:  rollingRefresh,
	}
}

func (as *authService) RegisterUser(ctx context.Context, email, password string) (*types.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}
	exists, err := as.userRepo.EmailExists(ctx, nil, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &types.User{
		Email:     email,
		LastLogin: time.Now(),
	}
	err = as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := as.userRepo.Create(ctx, tx, user); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		account := &types.LocalAccount{UserID: user.ID, PasswordHash: string(hash)}
		if err := tx.Create(account).Error; err != nil {
			return fmt.Errorf("create local account: %w", err)
		}
		user.LocalAccount = account
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (as *authService) LoginUser(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := as.userRepo.GetByEmail(ctx, nil, email)
	if err != nil {
		return "", fmt.Errorf("%w: unknown email or password", ErrUnauthorized)
	}
	if user.LocalAccount == nil {
		return "", fmt.Errorf("%w: account uses an external identity provider", ErrUnauthorized)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.LocalAccount.PasswordHash), []byte(password)) != nil {
		return "", fmt.Errorf("%w: unknown email or password", ErrUnauthorized)
	}
	if err := as.userRepo.TouchLastLogin(ctx, nil, user.ID); err != nil {
		as.log.Warn("Failed to touch last login", "userID", user.ID, "error", err)
	}
	return as.issueToken(ctx, user.ID)
}

// LogoutUser rotates the user's signing secret, invalidating every session.
func (as *authService) LogoutUser(ctx context.Context, userID int64) error {
	return as.tokenSecretRepo.Rotate(ctx, nil, userID)
}

func (as *authService) issueToken(ctx context.Context, userID int64) (string, error) {
	secret, err := as.tokenSecretRepo.GetOrCreate(ctx, nil, userID)
	if err != nil {
		return "", fmt.Errorf("load token secret: %w", err)
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(as.sessionTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret.Secret))
}

func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, string, error) {
	// The signing secret is per-user, so the subject has to be read before
	// the signature can be checked.
	unverified, _, err := jwt.NewParser().ParseUnverified(tokenString, &jwt.RegisteredClaims{})
	if err != nil {
		return ctx, "", fmt.Errorf("%w: malformed token", ErrUnauthorized)
	}
	subject, err := unverified.Claims.GetSubject()
	if err != nil {
		return ctx, "", fmt.Errorf("%w: malformed token", ErrUnauthorized)
	}
	userID, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return ctx, "", fmt.Errorf("%w: malformed token", ErrUnauthorized)
	}

	secret, err := as.tokenSecretRepo.GetOrCreate(ctx, nil, userID)
	if err != nil {
		return ctx, "", fmt.Errorf("load token secret: %w", err)
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret.Secret), nil
	})
	if err != nil || !parsed.Valid {
		return ctx, "", fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	user, err := as.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		return ctx, "", fmt.Errorf("%w: unknown user", ErrUnauthorized)
	}

	// Rolling refresh keeps active sessions alive without extending idle
	// ones: a replacement token is issued only when the current one is
	// close to expiry.
	refreshed := ""
	if claims.ExpiresAt != nil && time.Until(claims.ExpiresAt.Time) < as.rollingRefresh {
		refreshed, err = as.issueToken(ctx, userID)
		if err != nil {
			as.log.Warn("Failed to issue rolling refresh token", "userID", userID, "error", err)
			refreshed = ""
		}
	}

	rd := &requestdata.RequestData{
		UserID: user.ID,
		Email:  user.Email,
		Admin:  user.Admin,
	}
	return requestdata.WithRequestData(ctx, rd), refreshed, nil
}
