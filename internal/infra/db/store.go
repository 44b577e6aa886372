package db

import (
	"fmt"

	"tufserv/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Store struct {
	DB *gorm.DB
}

func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{DB: gdb}, nil
}

// Migrate creates the schema. Both servers call it on boot; gorm's
// AutoMigrate is additive so concurrent boots are safe.
func (s *Store) Migrate() error {
	if s == nil || s.DB == nil {
		return errDBUnavailable
	}
	return s.DB.AutoMigrate(
		&KeyGenRequestModel{},
		&KeyModel{},
		&SignedRootRoleModel{},
		&TargetItemModel{},
		&SignedRoleModel{},
		&DelegationModel{},
		&RepoNamespaceModel{},
		&RepoExpiryModel{},
	)
}
