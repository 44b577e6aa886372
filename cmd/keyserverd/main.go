package main

import (
	"context"
	"log"

	"tufserv/internal/config"
	"tufserv/internal/infra/db"
	httpinfra "tufserv/internal/infra/http"
	"tufserv/internal/infra/keys/soft"
	"tufserv/internal/infra/keys/vault"
	"tufserv/internal/usecase"
)

func main() {
	cfg := config.FromEnv()

	store, err := db.NewStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	var secrets usecase.SecretStore
	if vaultStore, err := vault.NewStoreFromConfig(cfg); err == nil {
		secrets = vaultStore
	} else {
		log.Printf("vault not configured (%v); using in-memory secret store", err)
		secrets = soft.NewStore()
	}

	srv := httpinfra.NewKeyServer(cfg, store, secrets)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.KeyGen().Run(ctx)

	if err := srv.Run(); err != nil {
		log.Fatalf("key server exited: %v", err)
	}
}
