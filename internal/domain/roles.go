package domain

import (
	"encoding/json"
	"time"
)

// RoleType names one of the TUF role documents a repo carries. The
// four top-level roles always exist; the remaining ones are optional
// slots added after repo creation.
type RoleType string

const (
	RoleTypeRoot            RoleType = "root"
	RoleTypeTargets         RoleType = "targets"
	RoleTypeSnapshot        RoleType = "snapshot"
	RoleTypeTimestamp       RoleType = "timestamp"
	RoleTypeOfflineUpdates  RoleType = "offline-updates"
	RoleTypeOfflineSnapshot RoleType = "offline-snapshot"
	RoleTypeRemoteSessions  RoleType = "remote-sessions"
)

var TopLevelRoleTypes = []RoleType{
	RoleTypeRoot,
	RoleTypeTargets,
	RoleTypeSnapshot,
	RoleTypeTimestamp,
}

func ParseRoleType(s string) (RoleType, bool) {
	switch RoleType(s) {
	case RoleTypeRoot, RoleTypeTargets, RoleTypeSnapshot, RoleTypeTimestamp,
		RoleTypeOfflineUpdates, RoleTypeOfflineSnapshot, RoleTypeRemoteSessions:
		return RoleType(s), true
	default:
		return "", false
	}
}

// MetaPath is the filename the role is served under and referenced by
// in snapshot/timestamp meta maps.
func (r RoleType) MetaPath() string {
	return string(r) + ".json"
}

func (r RoleType) TopLevel() bool {
	switch r {
	case RoleTypeRoot, RoleTypeTargets, RoleTypeSnapshot, RoleTypeTimestamp:
		return true
	default:
		return false
	}
}

// PublicKey is the wire encoding of a key as embedded in role
// documents. Ed25519 public material is hex; EC and RSA are PEM.
type PublicKey struct {
	Type   KeyType  `json:"keytype"`
	Scheme string   `json:"scheme"`
	Value  KeyValue `json:"keyval"`
}

type KeyValue struct {
	Public string `json:"public"`
}

// RoleKeys is a root document's entry for one role: the key IDs
// allowed to sign it and how many of them must.
type RoleKeys struct {
	KeyIDs    []string `json:"keyids"`
	Threshold int      `json:"threshold"`
}

type Signature struct {
	KeyID  string `json:"keyid"`
	Method string `json:"method"`
	Sig    string `json:"sig"`
}

// SignedPayload is the envelope every role document travels in. The
// signed part stays raw so signature verification operates on the
// exact bytes the signer saw.
type SignedPayload struct {
	Signatures []Signature     `json:"signatures"`
	Signed     json.RawMessage `json:"signed"`
}

type RootRole struct {
	Type               string                `json:"_type"`
	SpecVersion        string                `json:"spec_version"`
	ConsistentSnapshot bool                  `json:"consistent_snapshot"`
	Version            int64                 `json:"version"`
	Expires            time.Time             `json:"expires"`
	Keys               map[string]PublicKey  `json:"keys"`
	Roles              map[RoleType]RoleKeys `json:"roles"`
}

type TargetsRole struct {
	Type        string                `json:"_type"`
	SpecVersion string                `json:"spec_version"`
	Version     int64                 `json:"version"`
	Expires     time.Time             `json:"expires"`
	Targets     map[string]TargetFile `json:"targets"`
	Delegations *Delegations          `json:"delegations,omitempty"`
}

type SnapshotRole struct {
	Type        string              `json:"_type"`
	SpecVersion string              `json:"spec_version"`
	Version     int64               `json:"version"`
	Expires     time.Time           `json:"expires"`
	Meta        map[string]MetaItem `json:"meta"`
}

type TimestampRole struct {
	Type        string              `json:"_type"`
	SpecVersion string              `json:"spec_version"`
	Version     int64               `json:"version"`
	Expires     time.Time           `json:"expires"`
	Meta        map[string]MetaItem `json:"meta"`
}

// MetaItem references a role document from snapshot or timestamp.
// Hashes and length cover the canonical bytes of the full signed
// payload of the referenced role.
type MetaItem struct {
	Hashes  map[string]string `json:"hashes"`
	Length  int64             `json:"length"`
	Version int64             `json:"version"`
}

type TargetFile struct {
	Length int64             `json:"length"`
	Hashes map[string]string `json:"hashes"`
	Custom json.RawMessage   `json:"custom,omitempty"`
}

type Delegations struct {
	Keys  map[string]PublicKey `json:"keys"`
	Roles []DelegatedRole      `json:"roles"`
}

type DelegatedRole struct {
	Name        string   `json:"name"`
	KeyIDs      []string `json:"keyids"`
	Paths       []string `json:"paths"`
	Threshold   int      `json:"threshold"`
	Terminating bool     `json:"terminating"`
}

const SpecVersion = "1.0.31"

const (
	TypeRoot      = "root"
	TypeTargets   = "targets"
	TypeSnapshot  = "snapshot"
	TypeTimestamp = "timestamp"
)

// SignedRootRole is one persisted, immutable root version.
// CanonicalBytes is the canonical serialization of the full signed
// payload; it is what clients download and what meta entries hash.
type SignedRootRole struct {
	RepoID         string
	Version        int64
	ExpiresAt      time.Time
	Payload        SignedPayload
	CanonicalBytes []byte
}

// SignedRole is the current persisted document for one non-root role.
type SignedRole struct {
	RepoID         string
	RoleType       RoleType
	Version        int64
	ExpiresAt      time.Time
	Checksum       string
	Length         int64
	CanonicalBytes []byte
}

// DelegatedTargets is a stored delegated targets document pushed by a
// delegation holder.
type DelegatedTargets struct {
	RepoID         string
	Name           string
	Version        int64
	CanonicalBytes []byte
}
