package crypto

import (
	"testing"

	"tufserv/internal/domain"
)

func TestSignVerify_AllSchemes(t *testing.T) {
	canonical := []byte(`{"_type":"targets","version":1}`)
	for _, keyType := range []domain.KeyType{domain.KeyTypeEd25519, domain.KeyTypeECPrime256, domain.KeyTypeRSA} {
		pair, err := GenerateKeyPair(keyType, keyType.DefaultSize())
		if err != nil {
			t.Fatalf("%s: generate: %v", keyType, err)
		}
		sig, err := Sign(pair.PrivatePEM, pair.Public, canonical)
		if err != nil {
			t.Fatalf("%s: sign: %v", keyType, err)
		}
		if sig.Method != pair.Public.Scheme {
			t.Fatalf("%s: method %s", keyType, sig.Method)
		}
		wantID, _ := KeyID(pair.Public)
		if sig.KeyID != wantID {
			t.Fatalf("%s: keyid mismatch", keyType)
		}
		if err := Verify(pair.Public, sig, canonical); err != nil {
			t.Fatalf("%s: verify: %v", keyType, err)
		}
		if err := Verify(pair.Public, sig, []byte(`{"_type":"targets","version":2}`)); err == nil {
			t.Fatalf("%s: verify accepted tampered bytes", keyType)
		}
	}
}

func TestVerify_RejectsWrongKey(t *testing.T) {
	canonical := []byte(`{"v":1}`)
	a, _ := GenerateKeyPair(domain.KeyTypeEd25519, 0)
	b, _ := GenerateKeyPair(domain.KeyTypeEd25519, 0)
	sig, err := Sign(a.PrivatePEM, a.Public, canonical)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(b.Public, sig, canonical); err == nil {
		t.Fatal("verify accepted signature from a different key")
	}
}

func TestVerify_RejectsGarbageEncoding(t *testing.T) {
	pair, _ := GenerateKeyPair(domain.KeyTypeEd25519, 0)
	sig := domain.Signature{KeyID: "x", Method: "ed25519", Sig: "not-hex"}
	if err := Verify(pair.Public, sig, []byte(`{}`)); err == nil {
		t.Fatal("verify accepted non-hex signature")
	}
}
