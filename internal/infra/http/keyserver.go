package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"tufserv/internal/config"
	"tufserv/internal/domain"
	"tufserv/internal/infra/db"
	"tufserv/internal/infra/ratelimit"
	"tufserv/internal/usecase"

	"github.com/gin-gonic/gin"
)

// KeyServer exposes the key server core: key-gen requests, the
// authoritative root role, and the signing oracle.
type KeyServer struct {
	cfg    config.Config
	r      *gin.Engine
	engine *usecase.RootRoleEngine
	keygen *usecase.KeyGenEngine
}

type KeyServerDeps struct {
	Engine      *usecase.RootRoleEngine
	KeyGen      *usecase.KeyGenEngine
	RateLimiter domain.RateLimiter
}

func NewKeyServer(cfg config.Config, store *db.Store, secrets usecase.SecretStore) *KeyServer {
	requests := db.NewKeyGenRequestRepository(store.DB)
	keys := db.NewKeyRepository(store.DB)
	roots := db.NewSignedRootRoleRepository(store.DB)

	keygen := &usecase.KeyGenEngine{
		Requests:  requests,
		Keys:      keys,
		Secrets:   secrets,
		BatchSize: cfg.KeyGenBatchSize,
		Interval:  cfg.KeyGenInterval,
	}
	engine := &usecase.RootRoleEngine{
		Requests: requests,
		Keys:     keys,
		Roots:    roots,
		Secrets:  secrets,
		KeyGen:   keygen,
		RootTTL:  cfg.RootTTL,
		RSABits:  cfg.RSAMinBits,
	}
	return NewKeyServerWithDeps(cfg, KeyServerDeps{
		Engine:      engine,
		KeyGen:      keygen,
		RateLimiter: newLimiterFromConfig(cfg),
	})
}

func NewKeyServerWithDeps(cfg config.Config, deps KeyServerDeps) *KeyServer {
	r := gin.New()
	r.Use(gin.Recovery())
	if deps.RateLimiter != nil {
		r.Use(rateLimitMiddleware(deps.RateLimiter, cfg.RateLimitRequests, cfg.RateLimitWindow()))
	}
	s := &KeyServer{cfg: cfg, r: r, engine: deps.Engine, keygen: deps.KeyGen}
	s.routes()
	return s
}

// KeyGen returns the engine whose Run loop the binary starts.
func (s *KeyServer) KeyGen() *usecase.KeyGenEngine {
	return s.keygen
}

func (s *KeyServer) Handler() http.Handler {
	return s.r
}

func (s *KeyServer) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

func (s *KeyServer) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	root := s.r.Group("/root")
	{
		root.POST("/:repoId", s.handleCreateRoot)
		root.GET("/:repoId", s.handleFetchRoot)
		root.PUT("/:repoId", s.handleRetryKeyGen)
		root.GET("/:repoId/:version", s.handleFetchRootVersion)
		root.POST("/:repoId/:action", s.handleRootAction)
		root.PUT("/:repoId/rotate", s.handleRotate)
		root.PUT("/:repoId/roles/:roleName", s.handleAddRole)
		root.DELETE("/:repoId/private_keys/:keyId", s.handleDeletePrivateKey)
	}
}

type createRootRequest struct {
	Threshold int    `json:"threshold"`
	KeyType   string `json:"keyType"`
	ForceSync bool   `json:"forceSync"`
}

type createRootResponse struct {
	KeyGenRequestIDs []string `json:"keyGenRequestIds"`
}

func (s *KeyServer) handleCreateRoot(c *gin.Context) {
	var req createRootRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "invalid_entity", "invalid json")
		return
	}
	keyType, ok := domain.ParseKeyType(req.KeyType)
	if !ok {
		keyType = domain.KeyTypeEd25519
	}
	ids, err := s.engine.CreateRoot(c.Request.Context(), c.Param("repoId"), keyType, req.Threshold, req.ForceSync)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createRootResponse{KeyGenRequestIDs: ids})
}

func (s *KeyServer) handleFetchRoot(c *gin.Context) {
	role, err := s.engine.FindFresh(c.Request.Context(), c.Param("repoId"), nil)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", role.CanonicalBytes)
}

func (s *KeyServer) handleFetchRootVersion(c *gin.Context) {
	if c.Param("version") == "unsigned" {
		s.handleNextUnsigned(c)
		return
	}
	version, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil || version < 1 {
		writeError(c, domain.ErrMissingEntity)
		return
	}
	role, err := s.engine.FindVersion(c.Request.Context(), c.Param("repoId"), version)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", role.CanonicalBytes)
}

func (s *KeyServer) handleNextUnsigned(c *gin.Context) {
	doc, err := s.engine.NextUnsigned(c.Request.Context(), c.Param("repoId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// handleRootAction serves two POST shapes on the same position:
// "unsigned" submits a client-signed root, any role type name asks
// the signing oracle to sign the request body.
func (s *KeyServer) handleRootAction(c *gin.Context) {
	if c.Param("action") == "unsigned" {
		s.handleSignedRootUpload(c)
		return
	}
	roleType, ok := domain.ParseRoleType(c.Param("action"))
	if !ok {
		writeError(c, domain.ErrMissingEntity)
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(body) == 0 {
		writeErrorCode(c, http.StatusBadRequest, "invalid_entity", "body must be the JSON to sign")
		return
	}
	payload, err := s.engine.SignPayload(c.Request.Context(), c.Param("repoId"), roleType, json.RawMessage(body))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payload)
}

func (s *KeyServer) handleSignedRootUpload(c *gin.Context) {
	var payload domain.SignedPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "invalid_entity", "invalid json")
		return
	}
	if err := s.engine.ValidateAndPersistSigned(c.Request.Context(), c.Param("repoId"), payload); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *KeyServer) handleRetryKeyGen(c *gin.Context) {
	if err := s.engine.RetryKeyGen(c.Request.Context(), c.Param("repoId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *KeyServer) handleRotate(c *gin.Context) {
	if err := s.engine.Rotate(c.Request.Context(), c.Param("repoId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *KeyServer) handleAddRole(c *gin.Context) {
	roleType, ok := domain.ParseRoleType(c.Param("roleName"))
	if !ok || roleType.TopLevel() {
		writeErrorCode(c, http.StatusBadRequest, "invalid_entity", "unsupported role slot")
		return
	}
	if err := s.engine.AddRoles(c.Request.Context(), c.Param("repoId"), roleType); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (s *KeyServer) handleDeletePrivateKey(c *gin.Context) {
	if err := s.engine.TakePrivateKeyOffline(c.Request.Context(), c.Param("repoId"), c.Param("keyId")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func newLimiterFromConfig(cfg config.Config) domain.RateLimiter {
	if cfg.RateLimitRequests <= 0 {
		return nil
	}
	if cfg.RedisAddr != "" {
		if limiter, err := ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, nil); err == nil {
			return limiter
		}
	}
	return ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
}
