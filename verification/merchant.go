package verification

import (
	"crypto/rsa"
	"fmt"
	"os"
	"time"

	"go-kyc-orchestrator/clock"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const DefaultTokenTTL = 5 * time.Minute

// MerchantClaims identify the merchant and end user a request is made for.
type MerchantClaims struct {
	MerchantID string `json:"merchant_id"`
	UserID     string `json:"user_id"`
	jwt.RegisteredClaims
}

// MerchantSigner issues short lived RS256 bearer tokens for the verification
// service.
type MerchantSigner struct {
	privateKey *rsa.PrivateKey
	merchantID string
	ttl        time.Duration
	clock      clock.Clock
}

// NewMerchantSigner loads the merchant RSA private key from a PEM file.
func NewMerchantSigner(privateKeyPath, merchantID string) (*MerchantSigner, error) {
	keyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read merchant key: %w", err)
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse merchant key: %w", err)
	}

	return NewMerchantSignerFromKey(privateKey, merchantID, nil), nil
}

// NewMerchantSignerFromKey creates a signer for an already parsed key.
func NewMerchantSignerFromKey(key *rsa.PrivateKey, merchantID string, clk clock.Clock) *MerchantSigner {
	if clk == nil {
		clk = clock.Real()
	}
	return &MerchantSigner{privateKey: key, merchantID: merchantID, ttl: DefaultTokenTTL, clock: clk}
}

// Sign issues a short lived RS256 token for one request on behalf of userID.
func (s *MerchantSigner) Sign(userID string) (string, error) {
	now := s.clock.Now()
	claims := MerchantClaims{
		MerchantID: s.merchantID,
		UserID:     userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.merchantID,
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign merchant token: %w", err)
	}
	return signed, nil
}
