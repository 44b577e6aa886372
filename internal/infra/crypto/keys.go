package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"

	"tufserv/internal/domain"
)

const MinRSABits = 2048

// KeyPair holds a freshly generated key: the wire-encoded public half
// and the PKCS#8 PEM private half destined for the secret store.
type KeyPair struct {
	Public     domain.PublicKey
	PrivatePEM []byte
}

// GenerateKeyPair produces a keypair for the requested type. The size
// argument only matters for RSA; curve-based types have a fixed size.
func GenerateKeyPair(keyType domain.KeyType, size int) (KeyPair, error) {
	switch keyType {
	case domain.KeyTypeEd25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return KeyPair{}, err
		}
		privPEM, err := marshalPrivatePEM(priv)
		if err != nil {
			return KeyPair{}, err
		}
		return KeyPair{
			Public: domain.PublicKey{
				Type:   domain.KeyTypeEd25519,
				Scheme: domain.KeyTypeEd25519.SignatureMethod(),
				Value:  domain.KeyValue{Public: hex.EncodeToString(pub)},
			},
			PrivatePEM: privPEM,
		}, nil
	case domain.KeyTypeECPrime256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return KeyPair{}, err
		}
		pubPEM, err := marshalPublicPEM(&priv.PublicKey)
		if err != nil {
			return KeyPair{}, err
		}
		privPEM, err := marshalPrivatePEM(priv)
		if err != nil {
			return KeyPair{}, err
		}
		return KeyPair{
			Public: domain.PublicKey{
				Type:   domain.KeyTypeECPrime256,
				Scheme: domain.KeyTypeECPrime256.SignatureMethod(),
				Value:  domain.KeyValue{Public: pubPEM},
			},
			PrivatePEM: privPEM,
		}, nil
	case domain.KeyTypeRSA:
		if size < MinRSABits {
			return KeyPair{}, fmt.Errorf("rsa key size %d below minimum %d", size, MinRSABits)
		}
		priv, err := rsa.GenerateKey(rand.Reader, size)
		if err != nil {
			return KeyPair{}, err
		}
		pubPEM, err := marshalPublicPEM(&priv.PublicKey)
		if err != nil {
			return KeyPair{}, err
		}
		privPEM, err := marshalPrivatePEM(priv)
		if err != nil {
			return KeyPair{}, err
		}
		return KeyPair{
			Public: domain.PublicKey{
				Type:   domain.KeyTypeRSA,
				Scheme: domain.KeyTypeRSA.SignatureMethod(),
				Value:  domain.KeyValue{Public: pubPEM},
			},
			PrivatePEM: privPEM,
		}, nil
	default:
		return KeyPair{}, fmt.Errorf("unsupported key type %q", keyType)
	}
}

// KeyID derives the content-addressed identifier of a public key: the
// hex SHA-256 of the canonical encoding of its wire form.
func KeyID(pub domain.PublicKey) (string, error) {
	canonical, err := CanonicalizeAny(map[string]any{
		"keytype": string(pub.Type),
		"scheme":  pub.Scheme,
		"keyval":  map[string]any{"public": pub.Value.Public},
	})
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}

func marshalPrivatePEM(priv any) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func marshalPublicPEM(pub any) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// ParsePrivatePEM decodes a PKCS#8 PEM private key into a signer.
func ParsePrivatePEM(privPEM []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("private key type %T cannot sign", key)
	}
	return signer, nil
}

// ParsePublicKey decodes the wire form of a public key back into its
// native representation.
func ParsePublicKey(pub domain.PublicKey) (crypto.PublicKey, error) {
	switch pub.Type {
	case domain.KeyTypeEd25519:
		raw, err := hex.DecodeString(pub.Value.Public)
		if err != nil {
			return nil, fmt.Errorf("invalid ed25519 public key encoding: %w", err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid ed25519 public key length %d", len(raw))
		}
		return ed25519.PublicKey(raw), nil
	case domain.KeyTypeECPrime256, domain.KeyTypeRSA:
		block, _ := pem.Decode([]byte(pub.Value.Public))
		if block == nil {
			return nil, errors.New("no PEM block in public key")
		}
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		switch key := parsed.(type) {
		case *ecdsa.PublicKey:
			if pub.Type != domain.KeyTypeECPrime256 {
				return nil, errors.New("key material does not match declared keytype")
			}
			return key, nil
		case *rsa.PublicKey:
			if pub.Type != domain.KeyTypeRSA {
				return nil, errors.New("key material does not match declared keytype")
			}
			if key.N.BitLen() < MinRSABits {
				return nil, fmt.Errorf("rsa modulus %d below minimum %d", key.N.BitLen(), MinRSABits)
			}
			return key, nil
		default:
			return nil, fmt.Errorf("unsupported public key type %T", parsed)
		}
	default:
		return nil, fmt.Errorf("unsupported key type %q", pub.Type)
	}
}
