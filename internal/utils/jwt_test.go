package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
)

// JWTTestSuite JWT工具测试套件
type JWTTestSuite struct {
	suite.Suite
	manager *JWTManager
}

func (suite *JWTTestSuite) SetupTest() {
	suite.manager = NewJWTManager("test-secret-key", "ai-game-dev", time.Hour)
}

// 测试生成并验证令牌
func (suite *JWTTestSuite) TestGenerateAndValidate() {
	token, err := suite.manager.GenerateToken("ops", RoleAdmin)
	suite.Require().NoError(err)
	suite.NotEmpty(token)

	claims, err := suite.manager.ValidateToken(token)
	suite.Require().NoError(err)
	suite.Equal("ops", claims.Subject)
	suite.Equal(RoleAdmin, claims.Role)
	suite.Equal("access", claims.TokenType)
	suite.Equal("ai-game-dev", claims.Issuer)
	suite.Greater(claims.ExpiresAt.Unix(), claims.IssuedAt.Unix())
}

// 测试验证无效令牌
func (suite *JWTTestSuite) TestValidateInvalidToken() {
	claims, err := suite.manager.ValidateToken("invalid.token.format")
	suite.Error(err)
	suite.Nil(claims)

	// 错误的签名
	wrong := NewJWTManager("wrong-secret", "ai-game-dev", time.Hour)
	token, err := wrong.GenerateToken("ops", RoleAdmin)
	suite.Require().NoError(err)
	claims, err = suite.manager.ValidateToken(token)
	suite.Error(err)
	suite.Nil(claims)

	// 错误的签发方
	other := NewJWTManager("test-secret-key", "someone-else", time.Hour)
	token, err = other.GenerateToken("ops", RoleAdmin)
	suite.Require().NoError(err)
	_, err = suite.manager.ValidateToken(token)
	suite.Error(err)
}

// 测试过期令牌
func (suite *JWTTestSuite) TestExpiredToken() {
	expired := NewJWTManager("test-secret-key", "ai-game-dev", -time.Hour)
	token, err := expired.GenerateToken("ops", RoleAdmin)
	suite.Require().NoError(err)

	claims, err := suite.manager.ValidateToken(token)
	suite.ErrorIs(err, ErrExpiredToken)
	suite.Nil(claims)
}

// 测试非HS256签名被拒绝
func (suite *JWTTestSuite) TestRejectsUnsignedToken() {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &JWTClaims{Role: RoleAdmin, TokenType: "access"})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	suite.Require().NoError(err)

	_, err = suite.manager.ValidateToken(raw)
	suite.Error(err)
}

// 测试未配置密钥
func (suite *JWTTestSuite) TestSecretNotConfigured() {
	m := NewJWTManager("", "ai-game-dev", time.Hour)
	suite.False(m.Enabled())

	_, err := m.GenerateToken("ops", RoleAdmin)
	suite.ErrorIs(err, ErrSecretNotSet)
	_, err = m.ValidateToken("anything")
	suite.ErrorIs(err, ErrSecretNotSet)
}

func (suite *JWTTestSuite) TestGetTokenExpiry() {
	suite.Equal(time.Hour, suite.manager.GetTokenExpiry())
}

func TestJWTSuite(t *testing.T) {
	suite.Run(t, new(JWTTestSuite))
}
