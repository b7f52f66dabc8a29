package security

import (
	"crypto/sha512"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
	"io"
	"token-keeper/internal/autherr"
	"token-keeper/internal/model"
)

const (
	minSecretLength  = 32
	derivedKeyLength = 64
)

// KeyProvider derives one HMAC key per token type from the master secret, so an
// access token can never be replayed as a refresh token and vice versa.
type KeyProvider struct {
	method     jwt.SigningMethod
	accessKey  []byte
	refreshKey []byte
}

func NewKeyProvider(secret, algorithm string) (*KeyProvider, error) {
	errCtx := autherr.NewContext().With("algorithm", algorithm)

	if secret == "" {
		return nil, autherr.NewTokenGenerationError(autherr.GenerationKeyMissing, errCtx, nil)
	}
	if len(secret) < minSecretLength {
		return nil, autherr.NewTokenGenerationError(autherr.GenerationKeyInvalid, errCtx, nil).
			WithMessage("signing secret is shorter than 32 bytes")
	}

	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, autherr.NewTokenGenerationError(autherr.GenerationAlgorithmUnsupported, errCtx, nil)
	}

	accessKey, err := deriveKey(secret, model.TokenTypeAccess)
	if err != nil {
		return nil, autherr.NewTokenGenerationError(autherr.GenerationKeyInvalid, errCtx, err)
	}
	refreshKey, err := deriveKey(secret, model.TokenTypeRefresh)
	if err != nil {
		return nil, autherr.NewTokenGenerationError(autherr.GenerationKeyInvalid, errCtx, err)
	}

	return &KeyProvider{method: method, accessKey: accessKey, refreshKey: refreshKey}, nil
}

func (p *KeyProvider) SigningMethod() jwt.SigningMethod {
	return p.method
}

func (p *KeyProvider) KeyFor(tokenType model.TokenType) []byte {
	if tokenType == model.TokenTypeRefresh {
		return p.refreshKey
	}
	return p.accessKey
}

func deriveKey(secret string, tokenType model.TokenType) ([]byte, error) {
	reader := hkdf.New(sha512.New, []byte(secret), nil, []byte("token-keeper "+string(tokenType)))
	key := make([]byte, derivedKeyLength)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}
