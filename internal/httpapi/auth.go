package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"posledger/internal/cache"
	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

// ErrLoginFailed is the only error a caller sees for a bad login, whatever
// the underlying cause.
var ErrLoginFailed = errors.New("login failed")

var errInvalidToken = errors.New("invalid or expired token")

type AuthManager struct {
	secret      []byte
	tokenTTL    time.Duration
	userStore   UserStore
	revocations cache.RevocationStore
	now         func() time.Time
}

type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, password string) error
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, userStore UserStore, revocations cache.RevocationStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if revocations == nil {
		revocations = cache.NewMemoryRevocations()
	}
	return &AuthManager{
		secret:      []byte(secret),
		tokenTTL:    tokenTTL,
		userStore:   userStore,
		revocations: revocations,
		now:         time.Now,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return domain.LoginResponse{}, ErrLoginFailed
	}

	user, err := a.userStore.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Error().Err(err).Str("component", "auth").Msg("user lookup failed")
		}
		return domain.LoginResponse{}, ErrLoginFailed
	}
	if !a.checkPassword(ctx, user, req.Password) || !user.Active {
		return domain.LoginResponse{}, ErrLoginFailed
	}

	expiresAt := a.now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user.Email, user.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        user.Role,
		Email:       user.Email,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// checkPassword verifies against the bcrypt hash. Accounts imported with a
// plain-text password are upgraded to a hash on their first good login.
func (a *AuthManager) checkPassword(ctx context.Context, user *domain.UserAccount, input string) bool {
	if isPasswordHash(user.Password) {
		return verifyPassword(user.Password, input)
	}
	if user.Password == "" || subtle.ConstantTimeCompare([]byte(user.Password), []byte(input)) != 1 {
		return false
	}
	if hashed, err := hashPassword(input); err == nil {
		if err := a.userStore.UpdateUserPassword(ctx, user.Email, hashed); err != nil {
			log.Warn().Err(err).Str("component", "auth").Str("email", user.Email).Msg("password upgrade failed")
		}
	}
	return true
}

// ParseToken validates the signature and expiry and rejects tokens that were
// signed out. The token id becomes the actor's session id.
func (a *AuthManager) ParseToken(ctx context.Context, tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return domain.Actor{}, errInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" || claims.ID == "" || !domain.IsRole(claims.Role) {
		return domain.Actor{}, errors.New("invalid token subject")
	}

	revoked, err := a.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{Email: sub, Role: claims.Role, SessionID: claims.ID}, nil
}

// Logout revokes the actor's token until it would have expired anyway.
func (a *AuthManager) Logout(ctx context.Context, actor domain.Actor) error {
	if actor.SessionID == "" {
		return errInvalidToken
	}
	return a.revocations.Revoke(ctx, actor.SessionID, a.now().UTC().Add(a.tokenTTL))
}

func (a *AuthManager) sign(email, role string, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        xid.New("sess"),
			Subject:   email,
			IssuedAt:  jwtlib.NewNumericDate(a.now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "posledger",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.User, error) {
	req.Email = normalizeEmail(req.Email)
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	if err := domain.Validate(req); err != nil {
		return domain.User{}, err
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password")
	}
	account := domain.UserAccount{
		Email:     req.Email,
		Password:  passwordHash,
		Role:      req.Role,
		Active:    true,
		CreatedAt: a.now().UTC(),
	}
	if err := a.userStore.CreateUser(ctx, account); err != nil {
		return domain.User{}, err
	}
	return toUser(account), nil
}

func (a *AuthManager) ListUsers(ctx context.Context) ([]domain.User, error) {
	accounts, err := a.userStore.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]domain.User, 0, len(accounts))
	for _, account := range accounts {
		result = append(result, toUser(account))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Email < result[j].Email
	})
	return result, nil
}

func (a *AuthManager) ChangePassword(ctx context.Context, actor domain.Actor, req domain.PasswordChangeRequest) error {
	if err := domain.Validate(req); err != nil {
		return err
	}
	user, err := a.userStore.GetUserByEmail(ctx, actor.Email)
	if err != nil {
		return err
	}
	if !verifyPassword(user.Password, req.CurrentPassword) {
		return fmt.Errorf("%w: current password does not match", domain.ErrInvalid)
	}
	hashed, err := hashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password")
	}
	return a.userStore.UpdateUserPassword(ctx, user.Email, hashed)
}

func toUser(account domain.UserAccount) domain.User {
	return domain.User{
		Email:     account.Email,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
