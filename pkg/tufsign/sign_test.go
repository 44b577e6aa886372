package tufsign

import (
	"testing"
	"time"

	"tufserv/internal/domain"
)

func sampleTargets() domain.TargetsRole {
	return domain.TargetsRole{
		Type:        domain.TypeTargets,
		SpecVersion: domain.SpecVersion,
		Version:     4,
		Expires:     time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
		Targets: map[string]domain.TargetFile{
			"app.bin": {Length: 9, Hashes: map[string]string{"sha256": "ab"}},
		},
	}
}

func TestSignRoleAndVerify(t *testing.T) {
	holder1, err := GenerateKeypair(domain.KeyTypeEd25519)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	holder2, err := GenerateKeypair(domain.KeyTypeECPrime256)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	id1, _ := holder1.KeyID()
	id2, _ := holder2.KeyID()
	keys := map[string]domain.PublicKey{id1: holder1.Public, id2: holder2.Public}

	payload, err := SignRole(sampleTargets(), holder1)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(payload, keys, 1); err != nil {
		t.Fatalf("verify threshold 1: %v", err)
	}
	if err := Verify(payload, keys, 2); err == nil {
		t.Fatal("threshold 2 met with one signature")
	}

	payload, err = CountersignRole(payload, holder2)
	if err != nil {
		t.Fatalf("countersign: %v", err)
	}
	if err := Verify(payload, keys, 2); err != nil {
		t.Fatalf("verify threshold 2: %v", err)
	}
}

func TestVerify_RejectsUnknownAndDuplicate(t *testing.T) {
	holder, _ := GenerateKeypair(domain.KeyTypeEd25519)
	id, _ := holder.KeyID()
	payload, _ := SignRole(sampleTargets(), holder)

	if err := Verify(payload, map[string]domain.PublicKey{}, 1); err == nil {
		t.Fatal("unknown key accepted")
	}

	payload.Signatures = append(payload.Signatures, payload.Signatures[0])
	if err := Verify(payload, map[string]domain.PublicKey{id: holder.Public}, 1); err == nil {
		t.Fatal("duplicate signature accepted")
	}
}
