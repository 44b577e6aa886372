// Package tufsign is the client-side helper for offline signing:
// loading a keypair, canonicalizing a role document, and producing
// the signed payload a repo accepts on its offline endpoints.
package tufsign

import (
	"encoding/json"
	"errors"

	"tufserv/internal/domain"
	"tufserv/internal/infra/crypto"
)

// Keypair is an offline signing key held by a client, typically
// exported from the key server before the role was taken offline.
type Keypair struct {
	Public     domain.PublicKey
	PrivatePEM []byte
}

// GenerateKeypair creates a fresh offline keypair.
func GenerateKeypair(keyType domain.KeyType) (Keypair, error) {
	pair, err := crypto.GenerateKeyPair(keyType, keyType.DefaultSize())
	if err != nil {
		return Keypair{}, err
	}
	return Keypair{Public: pair.Public, PrivatePEM: pair.PrivatePEM}, nil
}

// KeyID derives the content-addressed ID the repo's root document
// refers to this key by.
func (k Keypair) KeyID() (string, error) {
	return crypto.KeyID(k.Public)
}

// SignRole canonicalizes the role document and signs it with every
// given keypair, producing the payload for an offline push.
func SignRole(doc any, keypairs ...Keypair) (domain.SignedPayload, error) {
	if len(keypairs) == 0 {
		return domain.SignedPayload{}, errors.New("at least one keypair is required")
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return domain.SignedPayload{}, err
	}
	canonical, err := crypto.CanonicalizeJSON(raw)
	if err != nil {
		return domain.SignedPayload{}, err
	}
	payload := domain.SignedPayload{Signed: canonical}
	for _, keypair := range keypairs {
		sig, err := crypto.Sign(keypair.PrivatePEM, keypair.Public, canonical)
		if err != nil {
			return domain.SignedPayload{}, err
		}
		payload.Signatures = append(payload.Signatures, sig)
	}
	return payload, nil
}

// CountersignRole appends signatures to an existing payload without
// disturbing the signed bytes, for thresholds collected across
// multiple holders.
func CountersignRole(payload domain.SignedPayload, keypairs ...Keypair) (domain.SignedPayload, error) {
	canonical, err := crypto.CanonicalizeJSON(payload.Signed)
	if err != nil {
		return domain.SignedPayload{}, err
	}
	for _, keypair := range keypairs {
		sig, err := crypto.Sign(keypair.PrivatePEM, keypair.Public, canonical)
		if err != nil {
			return domain.SignedPayload{}, err
		}
		payload.Signatures = append(payload.Signatures, sig)
	}
	payload.Signed = canonical
	return payload, nil
}

// Verify checks a payload against a key set and threshold, the same
// check the server runs on intake. Clients use it before pushing.
func Verify(payload domain.SignedPayload, keys map[string]domain.PublicKey, threshold int) error {
	canonical, err := crypto.CanonicalizeJSON(payload.Signed)
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, sig := range payload.Signatures {
		if seen[sig.KeyID] {
			return errors.New("duplicate signature by key " + sig.KeyID)
		}
		pub, ok := keys[sig.KeyID]
		if !ok {
			return errors.New("signature by unknown key " + sig.KeyID)
		}
		if err := crypto.Verify(pub, sig, canonical); err != nil {
			return err
		}
		seen[sig.KeyID] = true
	}
	if len(seen) < threshold {
		return errors.New("signature threshold not met")
	}
	return nil
}
