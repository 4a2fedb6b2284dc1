package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken 无效的令牌
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("token expired")
)

// 令牌作用域
const (
	// ScopeOperator 客服访问令牌，可读全部会话并发送回复
	ScopeOperator = "operator"
	// ScopeVisitor 访客会话令牌，只能访问自己的会话
	ScopeVisitor = "visitor"
)

// Claims JWT 自定义声明
type Claims struct {
	OperatorID string `json:"operator_id,omitempty"`
	Email      string `json:"email"`
	Role       string `json:"role,omitempty"`
	Scope      string `json:"scope"`
	jwt.RegisteredClaims
}

// TokenPair 访问令牌和刷新令牌对
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"` // 秒
}

// Manager JWT 管理器
type Manager struct {
	secret        []byte
	issuer        string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
	visitorExpiry time.Duration
}

// NewManager 创建 JWT 管理器
func NewManager(secret, issuer string, accessExpiry, refreshExpiry, visitorExpiry time.Duration) *Manager {
	return &Manager{
		secret:        []byte(secret),
		issuer:        issuer,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
		visitorExpiry: visitorExpiry,
	}
}

// GenerateTokenPair 为客服账号生成访问令牌和刷新令牌对
func (m *Manager) GenerateTokenPair(operatorID, email, role string) (*TokenPair, error) {
	now := time.Now()

	accessTokenString, err := m.signOperatorToken(operatorID, email, role, now, m.accessExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}

	refreshTokenString, err := m.signOperatorToken(operatorID, email, role, now, m.refreshExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessTokenString,
		RefreshToken: refreshTokenString,
		ExpiresIn:    int64(m.accessExpiry.Seconds()),
	}, nil
}

func (m *Manager) signOperatorToken(operatorID, email, role string, now time.Time, expiry time.Duration) (string, error) {
	claims := Claims{
		OperatorID: operatorID,
		Email:      email,
		Role:       role,
		Scope:      ScopeOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   operatorID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// GenerateVisitorToken 为访客生成会话令牌。
//
// 主题是规整后的访客邮箱，令牌只授权订阅该会话自己的频道。
func (m *Manager) GenerateVisitorToken(senderEmail string) (string, error) {
	now := time.Now()

	claims := Claims{
		Email: senderEmail,
		Scope: ScopeVisitor,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   senderEmail,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.visitorExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign visitor token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken 验证令牌并返回声明
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// 验证签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ValidateOperatorToken 验证令牌并要求客服作用域
func (m *Manager) ValidateOperatorToken(tokenString string) (*Claims, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Scope != ScopeOperator {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RefreshAccessToken 使用刷新令牌生成新的访问令牌
func (m *Manager) RefreshAccessToken(refreshToken string) (string, error) {
	claims, err := m.ValidateOperatorToken(refreshToken)
	if err != nil {
		return "", err
	}

	tokenString, err := m.signOperatorToken(claims.OperatorID, claims.Email, claims.Role, time.Now(), m.accessExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ExtractSubject 从令牌中提取主题（不验证有效性）
func (m *Manager) ExtractSubject(tokenString string) (string, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return "", ErrInvalidToken
	}

	return claims.Subject, nil
}
