package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrntr/peertrade/internal/models"
	"github.com/xtrntr/peertrade/internal/p2p"
)

// AuthService handles user registration and token-based identity resolution
type AuthService struct {
	Users  p2p.UserRepository
	secret []byte
}

// NewAuthService creates a new auth service
func NewAuthService(users p2p.UserRepository, secret string) *AuthService {
	return &AuthService{Users: users, secret: []byte(secret)}
}

// Register creates a new user with a hashed password
func (s *AuthService) Register(ctx context.Context, username, password string) (models.User, error) {
	if username == "" {
		return models.User{}, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return models.User{}, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return models.User{}, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 100 {
		return models.User{}, fmt.Errorf("password too long (max 100 characters)")
	}
	if _, exists := s.Users.GetByUsername(username); exists {
		return models.User{}, fmt.Errorf("username %s is taken", username)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	user := models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hashedPassword),
		JoinDate:     time.Now(),
	}
	s.Users.Put(ctx, user)
	return user, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, ok := s.Users.GetByUsername(username)
	if !ok {
		return "", fmt.Errorf("user not found")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", err
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// UserFromToken resolves a JWT to the current stored profile
func (s *AuthService) UserFromToken(tokenString string) (models.User, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return models.User{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return models.User{}, fmt.Errorf("invalid token")
	}
	userID, ok := claims["user_id"].(string)
	if !ok {
		return models.User{}, fmt.Errorf("invalid token claims")
	}
	user, ok := s.Users.Get(userID)
	if !ok {
		return models.User{}, fmt.Errorf("user not found")
	}
	return user, nil
}
