package domain

import (
	"encoding/json"
	"strings"
	"time"
)

type TargetFormat string

const (
	TargetFormatBinary TargetFormat = "BINARY"
	TargetFormatOSTree TargetFormat = "OSTREE"
)

type ChecksumMethod string

const ChecksumSHA256 ChecksumMethod = "sha256"

type Checksum struct {
	Method ChecksumMethod `json:"method"`
	Hash   string         `json:"hash"`
}

// TargetCustom is the custom metadata block attached to each target
// entry in targets.json. Proprietary is a free-form object owned by
// the uploader; everything else is managed by the catalog.
type TargetCustom struct {
	Name         string                     `json:"name"`
	Version      string                     `json:"version"`
	HardwareIDs  []string                   `json:"hardwareIds"`
	TargetFormat TargetFormat               `json:"targetFormat"`
	URI          *string                    `json:"uri,omitempty"`
	CliUploaded  *bool                      `json:"cliUploaded,omitempty"`
	CreatedAt    time.Time                  `json:"createdAt"`
	UpdatedAt    time.Time                  `json:"updatedAt"`
	Proprietary  map[string]json.RawMessage `json:"proprietary,omitempty"`
}

type TargetItem struct {
	RepoID    string
	Filename  string
	Length    int64
	Checksum  Checksum
	Custom    TargetCustom
	CreatedAt time.Time
	UpdatedAt time.Time
}

const maxTargetFilenameLength = 254

// ValidTargetFilename rejects paths that could escape the repo
// namespace: empty names, names over 254 bytes, a leading slash and
// any ".." segment.
func ValidTargetFilename(name string) bool {
	if name == "" || len(name) > maxTargetFilenameLength {
		return false
	}
	if strings.HasPrefix(name, "/") {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
