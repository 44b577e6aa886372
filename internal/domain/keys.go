package domain

import "time"

type KeyType string

const (
	KeyTypeEd25519    KeyType = "ed25519"
	KeyTypeECPrime256 KeyType = "ecdsa"
	KeyTypeRSA        KeyType = "rsa"
)

// DefaultSize is the key size used when a key-gen request does not
// carry one. Ed25519 and P-256 sizes are fixed by the curve; RSA keys
// below 2048 bits are rejected at generation time.
func (t KeyType) DefaultSize() int {
	switch t {
	case KeyTypeRSA:
		return 2048
	case KeyTypeECPrime256:
		return 256
	default:
		return 256
	}
}

func (t KeyType) SignatureMethod() string {
	switch t {
	case KeyTypeEd25519:
		return "ed25519"
	case KeyTypeECPrime256:
		return "ecdsa-sha2-nistp256"
	case KeyTypeRSA:
		return "rsassa-pss-sha256"
	default:
		return ""
	}
}

func ParseKeyType(s string) (KeyType, bool) {
	switch s {
	case string(KeyTypeEd25519), "ED25519", "Ed25519":
		return KeyTypeEd25519, true
	case string(KeyTypeECPrime256), "ecPrime256v1", "EcPrime256":
		return KeyTypeECPrime256, true
	case string(KeyTypeRSA), "RSA", "Rsa":
		return KeyTypeRSA, true
	default:
		return "", false
	}
}

// Key is the persisted public half of a repo key. PrivateRef points
// into the secret store; nil means the key was taken offline.
type Key struct {
	KeyID      string
	RepoID     string
	RoleType   RoleType
	KeyType    KeyType
	Public     PublicKey
	PrivateRef *string
	CreatedAt  time.Time
}

func (k Key) Online() bool {
	return k.PrivateRef != nil && *k.PrivateRef != ""
}

type KeyGenStatus string

const (
	KeyGenRequested KeyGenStatus = "REQUESTED"
	KeyGenGenerated KeyGenStatus = "GENERATED"
	KeyGenError     KeyGenStatus = "ERROR"
)

type KeyGenRequest struct {
	ID          string
	RepoID      string
	RoleType    RoleType
	KeyType     KeyType
	KeySize     int
	Threshold   int
	Status      KeyGenStatus
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
