package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService issues and validates operator tokens. There is a single
// operator identity, configured by username and bcrypt password hash.
type AuthService struct {
	jwtSecret        string
	operatorUsername string
	passwordHash     string
	tokenExpiry      time.Duration
}

func NewAuthService(jwtSecret, operatorUsername, passwordHash string, tokenExpiry time.Duration) *AuthService {
	return &AuthService{
		jwtSecret:        jwtSecret,
		operatorUsername: operatorUsername,
		passwordHash:     passwordHash,
		tokenExpiry:      tokenExpiry,
	}
}

func (a *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login checks the operator credentials and returns a signed token.
func (a *AuthService) Login(username, password string) (string, error) {
	if username != a.operatorUsername {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return a.GenerateToken(username)
}

func (a *AuthService) GenerateToken(subject string) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(a.tokenExpiry).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.jwtSecret))
}

func (a *AuthService) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(a.jwtSecret), nil
	})
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		sub, ok := claims["sub"].(string)
		if !ok {
			return "", errors.New("invalid token: 'sub' claim missing or not a string")
		}
		return sub, nil
	}
	return "", errors.New("invalid token")
}
