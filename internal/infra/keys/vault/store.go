package vault

import (
	"context"
	"encoding/base64"
	"errors"

	"tufserv/internal/config"
	"tufserv/internal/domain"
	"tufserv/internal/infra/vaultclient"
	"tufserv/internal/usecase"
)

// Store keeps private role keys in Vault KV v2. The ref persisted on
// the public key row is the full KV path, so reads and deletes never
// have to rebuild it.
type Store struct {
	client *vaultclient.Client
	mount  string
	env    string
}

type keyPayload struct {
	KeyID            string `json:"key_id"`
	RepoID           string `json:"repo_id"`
	RoleType         string `json:"role_type"`
	KeyType          string `json:"key_type"`
	PrivatePEMBase64 string `json:"private_pem_base64"`
}

func NewStore(client *vaultclient.Client, mount, env string) (*Store, error) {
	if mount == "" || env == "" {
		return nil, errors.New("vault mount and env are required")
	}
	return &Store{client: client, mount: mount, env: env}, nil
}

func NewStoreFromConfig(cfg config.Config) (*Store, error) {
	if cfg.VaultAddr == "" || cfg.VaultToken == "" {
		return nil, errors.New("VAULT_ADDR and VAULT_TOKEN are required")
	}
	return NewStore(vaultclient.New(cfg.VaultAddr, cfg.VaultToken), cfg.VaultMount, cfg.ServiceEnv)
}

func (s *Store) Put(ctx context.Context, material usecase.KeyMaterial) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("vault store not configured")
	}
	if len(material.PrivatePEM) == 0 {
		return "", errors.New("private key is required")
	}
	path, err := keyPath(s.mount, s.env, material.RepoID, string(material.RoleType), material.KeyID)
	if err != nil {
		return "", err
	}
	payload := keyPayload{
		KeyID:            material.KeyID,
		RepoID:           material.RepoID,
		RoleType:         string(material.RoleType),
		KeyType:          string(material.KeyType),
		PrivatePEMBase64: base64.StdEncoding.EncodeToString(material.PrivatePEM),
	}
	if err := s.client.WriteKV(ctx, path, payload); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) Get(ctx context.Context, ref string) (*usecase.KeyMaterial, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("vault store not configured")
	}
	if ref == "" {
		return nil, domain.ErrKeyNotAvailable
	}
	var payload keyPayload
	if err := s.client.ReadKV(ctx, ref, &payload); err != nil {
		if errors.Is(err, vaultclient.ErrNotFound) {
			return nil, domain.ErrKeyNotAvailable
		}
		return nil, err
	}
	privPEM, err := base64.StdEncoding.DecodeString(payload.PrivatePEMBase64)
	if err != nil {
		return nil, err
	}
	return &usecase.KeyMaterial{
		KeyID:      payload.KeyID,
		RepoID:     payload.RepoID,
		RoleType:   domain.RoleType(payload.RoleType),
		KeyType:    domain.KeyType(payload.KeyType),
		PrivatePEM: privPEM,
	}, nil
}

func (s *Store) Delete(ctx context.Context, ref string) error {
	if s == nil || s.client == nil {
		return errors.New("vault store not configured")
	}
	if ref == "" {
		return nil
	}
	return s.client.DeleteKV(ctx, ref)
}
