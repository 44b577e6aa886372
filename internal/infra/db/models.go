package db

import "time"

type KeyGenRequestModel struct {
	ID          string `gorm:"primaryKey"`
	RepoID      string `gorm:"type:uuid;index;not null"`
	Status      string `gorm:"index;not null"`
	RoleType    string `gorm:"not null"`
	KeyType     string `gorm:"not null"`
	KeySize     int    `gorm:"not null"`
	Threshold   int    `gorm:"not null"`
	Description string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (KeyGenRequestModel) TableName() string { return "key_gen_requests" }

type KeyModel struct {
	KeyID       string `gorm:"primaryKey"`
	RepoID      string `gorm:"type:uuid;index;not null"`
	RoleType    string `gorm:"index;not null"`
	KeyType     string `gorm:"not null"`
	PublicBytes []byte `gorm:"type:jsonb;not null"`
	PrivateRef  *string
	CreatedAt   time.Time `gorm:"not null"`
}

func (KeyModel) TableName() string { return "keys" }

type SignedRootRoleModel struct {
	RepoID         string    `gorm:"type:uuid;primaryKey"`
	Version        int64     `gorm:"primaryKey;autoIncrement:false"`
	ExpiresAt      time.Time `gorm:"not null"`
	CanonicalBytes []byte    `gorm:"type:jsonb;not null"`
	Signatures     []byte    `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (SignedRootRoleModel) TableName() string { return "signed_root_roles" }

type TargetItemModel struct {
	RepoID         string    `gorm:"type:uuid;primaryKey"`
	Filename       string    `gorm:"primaryKey"`
	Length         int64     `gorm:"not null"`
	ChecksumMethod string    `gorm:"not null"`
	ChecksumHex    string    `gorm:"not null"`
	CustomJSON     []byte    `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (TargetItemModel) TableName() string { return "target_items" }

type SignedRoleModel struct {
	RepoID         string    `gorm:"type:uuid;primaryKey"`
	RoleType       string    `gorm:"primaryKey"`
	Version        int64     `gorm:"not null"`
	ExpiresAt      time.Time `gorm:"not null"`
	Checksum       string    `gorm:"not null"`
	Length         int64     `gorm:"not null"`
	CanonicalBytes []byte    `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (SignedRoleModel) TableName() string { return "signed_roles" }

type DelegationModel struct {
	RepoID         string    `gorm:"type:uuid;primaryKey"`
	Name           string    `gorm:"primaryKey"`
	Version        int64     `gorm:"not null"`
	CanonicalBytes []byte    `gorm:"type:jsonb;not null"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (DelegationModel) TableName() string { return "delegations" }

type RepoNamespaceModel struct {
	Namespace string    `gorm:"primaryKey"`
	RepoID    string    `gorm:"type:uuid;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (RepoNamespaceModel) TableName() string { return "repo_namespaces" }

type RepoExpiryModel struct {
	RepoID    string    `gorm:"type:uuid;primaryKey"`
	NotBefore time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (RepoExpiryModel) TableName() string { return "repo_expires" }
