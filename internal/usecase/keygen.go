package usecase

import (
	"context"
	"log"
	"time"

	"tufserv/internal/domain"
	"tufserv/internal/infra/crypto"
)

const errorCauseMax = 254

// KeyGenEngine turns pending KeyGenRequests into persisted keypairs.
// A single background loop per key server instance is enough; the
// guarded status transitions make concurrent loops safe anyway.
type KeyGenEngine struct {
	Requests  KeyGenRequestRepository
	Keys      KeyRepository
	Secrets   SecretStore
	Clock     Clock
	BatchSize int
	Interval  time.Duration
}

func (e *KeyGenEngine) Run(ctx context.Context) {
	interval := e.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ProcessBatch(ctx); err != nil {
				log.Printf("keygen batch failed: %v", err)
			}
		}
	}
}

// ProcessBatch handles one bounded fetch of REQUESTED work and
// reports how many requests reached a terminal state.
func (e *KeyGenEngine) ProcessBatch(ctx context.Context) (int, error) {
	batch := e.BatchSize
	if batch <= 0 {
		batch = 1024
	}
	requests, err := e.Requests.NextRequested(ctx, batch)
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, req := range requests {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if _, err := e.process(ctx, req, domain.KeyGenRequested); err != nil {
			cause := truncate(err.Error(), errorCauseMax)
			if serr := e.Requests.SetStatus(ctx, req.ID, domain.KeyGenRequested, domain.KeyGenError, cause); serr != nil {
				log.Printf("keygen: marking request %s errored: %v", req.ID, serr)
			}
		}
		processed++
	}
	return processed, nil
}

// GenerateInline services a force-sync request: the request was
// inserted in ERROR state so the background loop leaves it alone, and
// the caller's thread does the work.
func (e *KeyGenEngine) GenerateInline(ctx context.Context, req domain.KeyGenRequest) (domain.Key, error) {
	return e.process(ctx, req, domain.KeyGenError)
}

func (e *KeyGenEngine) process(ctx context.Context, req domain.KeyGenRequest, from domain.KeyGenStatus) (domain.Key, error) {
	size := req.KeySize
	if size <= 0 {
		size = req.KeyType.DefaultSize()
	}
	pair, err := crypto.GenerateKeyPair(req.KeyType, size)
	if err != nil {
		return domain.Key{}, err
	}
	keyID, err := crypto.KeyID(pair.Public)
	if err != nil {
		return domain.Key{}, err
	}
	ref, err := e.Secrets.Put(ctx, KeyMaterial{
		KeyID:      keyID,
		RepoID:     req.RepoID,
		RoleType:   req.RoleType,
		KeyType:    req.KeyType,
		PrivatePEM: pair.PrivatePEM,
	})
	if err != nil {
		return domain.Key{}, err
	}
	key := domain.Key{
		KeyID:      keyID,
		RepoID:     req.RepoID,
		RoleType:   req.RoleType,
		KeyType:    req.KeyType,
		Public:     pair.Public,
		PrivateRef: &ref,
		CreatedAt:  e.now(),
	}
	if err := e.Requests.CompleteWithKey(ctx, req.ID, from, key); err != nil {
		// The pair never became visible; drop the orphaned secret.
		_ = e.Secrets.Delete(ctx, ref)
		return domain.Key{}, err
	}
	return key, nil
}

func (e *KeyGenEngine) now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}
