package crypto

import (
	"encoding/json"
	"testing"

	"tufserv/internal/domain"
)

func TestGenerateKeyPair_AllTypes(t *testing.T) {
	cases := []struct {
		keyType domain.KeyType
		size    int
		scheme  string
	}{
		{domain.KeyTypeEd25519, 0, "ed25519"},
		{domain.KeyTypeECPrime256, 256, "ecdsa-sha2-nistp256"},
		{domain.KeyTypeRSA, 2048, "rsassa-pss-sha256"},
	}
	for _, tc := range cases {
		pair, err := GenerateKeyPair(tc.keyType, tc.size)
		if err != nil {
			t.Fatalf("%s: generate: %v", tc.keyType, err)
		}
		if pair.Public.Scheme != tc.scheme {
			t.Fatalf("%s: scheme %s", tc.keyType, pair.Public.Scheme)
		}
		if len(pair.PrivatePEM) == 0 {
			t.Fatalf("%s: empty private pem", tc.keyType)
		}
		if _, err := ParsePrivatePEM(pair.PrivatePEM); err != nil {
			t.Fatalf("%s: parse private: %v", tc.keyType, err)
		}
		if _, err := ParsePublicKey(pair.Public); err != nil {
			t.Fatalf("%s: parse public: %v", tc.keyType, err)
		}
	}
}

func TestGenerateKeyPair_RejectsSmallRSA(t *testing.T) {
	if _, err := GenerateKeyPair(domain.KeyTypeRSA, 1024); err == nil {
		t.Fatal("expected rejection of rsa-1024")
	}
}

func TestKeyID_StableThroughSerialization(t *testing.T) {
	pair, err := GenerateKeyPair(domain.KeyTypeEd25519, 0)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id1, err := KeyID(pair.Public)
	if err != nil {
		t.Fatalf("keyid: %v", err)
	}
	raw, err := json.Marshal(pair.Public)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded domain.PublicKey
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	id2, err := KeyID(decoded)
	if err != nil {
		t.Fatalf("keyid after round trip: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("key id changed across serialization: %s vs %s", id1, id2)
	}
	if len(id1) != 64 {
		t.Fatalf("key id is not a sha256 hex digest: %s", id1)
	}
}

func TestKeyID_DiffersPerKey(t *testing.T) {
	a, _ := GenerateKeyPair(domain.KeyTypeEd25519, 0)
	b, _ := GenerateKeyPair(domain.KeyTypeEd25519, 0)
	idA, _ := KeyID(a.Public)
	idB, _ := KeyID(b.Public)
	if idA == idB {
		t.Fatal("distinct keys produced the same id")
	}
}
