package auth

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"math/big"
)

type JWKSet struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// NewJWKSet publishes the given verification keys, current key first. Extra
// keys let verifiers keep accepting tokens signed before a rotation.
func NewJWKSet(publicKeys ...*rsa.PublicKey) (JWKSet, error) {
	if len(publicKeys) == 0 {
		return JWKSet{}, errors.New("missing_public_key")
	}
	set := JWKSet{Keys: make([]JWK, 0, len(publicKeys))}
	for _, publicKey := range publicKeys {
		jwk, err := rsaJWK(publicKey)
		if err != nil {
			return JWKSet{}, err
		}
		set.Keys = append(set.Keys, jwk)
	}
	return set, nil
}

func rsaJWK(publicKey *rsa.PublicKey) (JWK, error) {
	if publicKey == nil {
		return JWK{}, errors.New("missing_public_key")
	}
	kid, err := KeyID(publicKey)
	if err != nil {
		return JWK{}, err
	}
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		Alg: AlgorithmRS256,
		N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
	}, nil
}

// KeyID derives a stable key id from the DER encoding of the public key.
func KeyID(publicKey *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:16]), nil
}

func ParseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid_private_key")
	}
	switch block.Type {
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		privateKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("invalid_private_key_type")
		}
		return privateKey, nil
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	default:
		return nil, errors.New("invalid_private_key")
	}
}
