package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/thesis-desk-api/internal/models"
)

type authRepoStub struct {
	users   map[string]*models.User
	tokens  map[string]*models.RefreshToken
	audits  []*models.AuditLog
	revoked int
}

func newAuthRepoStub() *authRepoStub {
	return &authRepoStub{
		users:  make(map[string]*models.User),
		tokens: make(map[string]*models.RefreshToken),
	}
}

func (a *authRepoStub) addUser(email, password string, role models.UserRole, active bool) *models.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	user := &models.User{
		ID:           "user-" + email,
		Email:        strings.ToLower(email),
		PasswordHash: string(hash),
		FullName:     "Test " + email,
		Role:         role,
		Active:       active,
	}
	a.users[user.ID] = user
	return user
}

func (a *authRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, user := range a.users {
		if strings.EqualFold(user.Email, email) {
			clone := *user
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (a *authRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := a.users[id]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (a *authRepoStub) Create(ctx context.Context, user *models.User) error {
	clone := *user
	a.users[user.ID] = &clone
	return nil
}

func (a *authRepoStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if user, ok := a.users[id]; ok {
		user.LastLogin = &ts
	}
	return nil
}

func (a *authRepoStub) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	user, ok := a.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = updatedAt
	return nil
}

func (a *authRepoStub) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	for _, token := range a.tokens {
		if token.UserID == userID {
			token.Revoked = true
			a.revoked++
		}
	}
	return nil
}

func (a *authRepoStub) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	clone := *token
	a.tokens[token.Token] = &clone
	return nil
}

func (a *authRepoStub) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if stored, ok := a.tokens[token]; ok {
		clone := *stored
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (a *authRepoStub) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for _, token := range a.tokens {
		if token.ID == id {
			token.Revoked = true
			token.RevokedAt = &revokedAt
			a.revoked++
		}
	}
	return nil
}

func (a *authRepoStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.audits = append(a.audits, log)
	return nil
}

func newAuthFixture(repo *authRepoStub) *AuthService {
	return NewAuthService(repo, nil, nil, AuthConfig{
		AccessTokenSecret:  "test-secret",
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 24 * time.Hour,
		Issuer:             "thesis-desk-api",
	})
}

func TestAuthServiceRegisterAndLogin(t *testing.T) {
	repo := newAuthRepoStub()
	svc := newAuthFixture(repo)

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "Mara@uni.example",
		Password: "correct-horse",
		FullName: "Mara Voss",
		Role:     models.RoleStudent,
	})
	require.NoError(t, err)
	require.Equal(t, "mara@uni.example", user.Email)
	require.True(t, user.Active)

	// duplicate email is refused
	_, err = svc.Register(context.Background(), models.RegisterRequest{
		Email:    "mara@uni.example",
		Password: "correct-horse",
		FullName: "Mara Voss",
		Role:     models.RoleStudent,
	})
	require.Error(t, err)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "mara@uni.example",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.Equal(t, models.RoleStudent, resp.User.Role)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
	require.Equal(t, models.RoleStudent, claims.Role)
}

func TestAuthServiceRegisterTutorKeepsArea(t *testing.T) {
	repo := newAuthRepoStub()
	svc := newAuthFixture(repo)

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "lang@uni.example",
		Password: "correct-horse",
		FullName: "Dr. Lang",
		Role:     models.RoleTutor,
		Area:     "Databases",
	})
	require.NoError(t, err)
	require.NotNil(t, user.Area)
	require.Equal(t, "Databases", *user.Area)
}

func TestAuthServiceLoginFailures(t *testing.T) {
	repo := newAuthRepoStub()
	repo.addUser("mara@uni.example", "correct-horse", models.RoleStudent, true)
	repo.addUser("gone@uni.example", "correct-horse", models.RoleStudent, false)
	svc := newAuthFixture(repo)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "mara@uni.example", Password: "wrong"})
	require.Error(t, err)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "nobody@uni.example", Password: "x"})
	require.Error(t, err)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "gone@uni.example", Password: "correct-horse"})
	require.Error(t, err)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	repo := newAuthRepoStub()
	repo.addUser("mara@uni.example", "correct-horse", models.RoleStudent, true)
	svc := newAuthFixture(repo)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: "mara@uni.example", Password: "correct-horse"})
	require.NoError(t, err)

	refreshed, err := svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	require.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// the used token is burned
	_, err = svc.RefreshToken(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
}

func TestAuthServiceChangePassword(t *testing.T) {
	repo := newAuthRepoStub()
	user := repo.addUser("mara@uni.example", "correct-horse", models.RoleStudent, true)
	svc := newAuthFixture(repo)

	err := svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{
		OldPassword: "wrong",
		NewPassword: "battery-staple",
	})
	require.Error(t, err)

	err = svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{
		OldPassword: "correct-horse",
		NewPassword: "battery-staple",
	})
	require.NoError(t, err)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: "mara@uni.example", Password: "battery-staple"})
	require.NoError(t, err)
}
