package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"tufserv/internal/domain"
)

// Sign produces a signature over canonical bytes with the private key
// matching pub. Ed25519 signs the message directly; ECDSA and RSA-PSS
// sign its SHA-256 digest.
func Sign(privPEM []byte, pub domain.PublicKey, canonical []byte) (domain.Signature, error) {
	signer, err := ParsePrivatePEM(privPEM)
	if err != nil {
		return domain.Signature{}, err
	}
	keyID, err := KeyID(pub)
	if err != nil {
		return domain.Signature{}, err
	}

	var raw []byte
	switch key := signer.(type) {
	case ed25519.PrivateKey:
		raw = ed25519.Sign(key, canonical)
	case *ecdsa.PrivateKey:
		digest := sha256.Sum256(canonical)
		raw, err = ecdsa.SignASN1(rand.Reader, key, digest[:])
		if err != nil {
			return domain.Signature{}, err
		}
	case *rsa.PrivateKey:
		digest := sha256.Sum256(canonical)
		raw, err = rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       crypto.SHA256,
		})
		if err != nil {
			return domain.Signature{}, err
		}
	default:
		return domain.Signature{}, fmt.Errorf("unsupported private key type %T", signer)
	}

	return domain.Signature{
		KeyID:  keyID,
		Method: pub.Scheme,
		Sig:    hex.EncodeToString(raw),
	}, nil
}

// Verify checks a signature over canonical bytes against the embedded
// public material. Any failure, structural or cryptographic, yields a
// non-nil error.
func Verify(pub domain.PublicKey, sig domain.Signature, canonical []byte) error {
	raw, err := hex.DecodeString(sig.Sig)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	key, err := ParsePublicKey(pub)
	if err != nil {
		return err
	}
	switch k := key.(type) {
	case ed25519.PublicKey:
		if !ed25519.Verify(k, canonical, raw) {
			return errors.New("ed25519 signature mismatch")
		}
		return nil
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(canonical)
		if !ecdsa.VerifyASN1(k, digest[:], raw) {
			return errors.New("ecdsa signature mismatch")
		}
		return nil
	case *rsa.PublicKey:
		digest := sha256.Sum256(canonical)
		if err := rsa.VerifyPSS(k, crypto.SHA256, digest[:], raw, &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       crypto.SHA256,
		}); err != nil {
			return fmt.Errorf("rsa-pss signature mismatch: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type %T", key)
	}
}
