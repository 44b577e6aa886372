package main

import (
	"log"

	"tufserv/internal/config"
	"tufserv/internal/infra/blob"
	"tufserv/internal/infra/db"
	httpinfra "tufserv/internal/infra/http"
	"tufserv/internal/infra/keyserver"
)

func main() {
	cfg := config.FromEnv()

	if cfg.KeyServerURL == "" {
		log.Fatal("KEYSERVER_URL is required")
	}

	store, err := db.NewStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	blobs, err := blob.NewLocalStore(cfg.BlobStorePath)
	if err != nil {
		log.Fatalf("failed to init blob store: %v", err)
	}

	srv := httpinfra.NewRepoServer(cfg, store, keyserver.New(cfg.KeyServerURL), blobs)
	if err := srv.Run(); err != nil {
		log.Fatalf("repo server exited: %v", err)
	}
}
