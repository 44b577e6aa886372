package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tufserv/internal/config"
	"tufserv/internal/domain"
	"tufserv/internal/infra/db"
	"tufserv/internal/usecase"

	"github.com/gin-gonic/gin"
)

const (
	namespaceHeader    = "x-ats-namespace"
	roleChecksumHeader = "x-ats-role-checksum"
)

// RepoServer exposes the repo server core: the target catalog, the
// derived role documents, offline-signed targets and delegations.
type RepoServer struct {
	cfg         config.Config
	r           *gin.Engine
	repos       *usecase.RepositoryService
	catalog     *usecase.TargetCatalog
	rolegen     *usecase.RoleGenEngine
	offline     *usecase.OfflineTargets
	delegations *usecase.DelegationsEngine
	keyserver   usecase.KeyServer
	expiry      usecase.RepoExpiryRepository
}

type RepoServerDeps struct {
	Repos       *usecase.RepositoryService
	Catalog     *usecase.TargetCatalog
	RoleGen     *usecase.RoleGenEngine
	Offline     *usecase.OfflineTargets
	Delegations *usecase.DelegationsEngine
	KeyServer   usecase.KeyServer
	Expiry      usecase.RepoExpiryRepository
	RateLimiter domain.RateLimiter
}

func NewRepoServer(cfg config.Config, store *db.Store, keyServer usecase.KeyServer, blobs usecase.BlobStore) *RepoServer {
	roles := db.NewSignedRoleRepository(store.DB)
	items := db.NewTargetItemRepository(store.DB)
	expiry := db.NewRepoExpiryRepository(store.DB)
	namespaces := db.NewRepoNamespaceRepository(store.DB)
	delegations := db.NewDelegationRepository(store.DB)

	rolegen := &usecase.RoleGenEngine{
		Roles:        roles,
		Items:        items,
		Expiry:       expiry,
		KeyServer:    keyServer,
		TargetsTTL:   cfg.TargetsTTL,
		SnapshotTTL:  cfg.SnapshotTTL,
		TimestampTTL: cfg.TimestampTTL,
	}
	catalog := &usecase.TargetCatalog{
		Items:            items,
		Blobs:            blobs,
		RoleGen:          rolegen,
		PageLimitDefault: cfg.PageLimitDefault,
		PageLimitMax:     cfg.PageLimitMax,
	}
	offline := &usecase.OfflineTargets{
		Roles:   roles,
		Items:   items,
		Blobs:   blobs,
		RoleGen: rolegen,
	}
	return NewRepoServerWithDeps(cfg, RepoServerDeps{
		Repos: &usecase.RepositoryService{
			Namespaces: namespaces,
			KeyServer:  keyServer,
			RoleGen:    rolegen,
			Expiry:     expiry,
		},
		Catalog:     catalog,
		RoleGen:     rolegen,
		Offline:     offline,
		Delegations: &usecase.DelegationsEngine{Roles: roles, Delegations: delegations},
		KeyServer:   keyServer,
		Expiry:      expiry,
		RateLimiter: newLimiterFromConfig(cfg),
	})
}

func NewRepoServerWithDeps(cfg config.Config, deps RepoServerDeps) *RepoServer {
	r := gin.New()
	r.Use(gin.Recovery())
	if deps.RateLimiter != nil {
		r.Use(rateLimitMiddleware(deps.RateLimiter, cfg.RateLimitRequests, cfg.RateLimitWindow()))
	}
	s := &RepoServer{
		cfg:         cfg,
		r:           r,
		repos:       deps.Repos,
		catalog:     deps.Catalog,
		rolegen:     deps.RoleGen,
		offline:     deps.Offline,
		delegations: deps.Delegations,
		keyserver:   deps.KeyServer,
		expiry:      deps.Expiry,
	}
	s.routes()
	return s
}

func (s *RepoServer) Handler() http.Handler {
	return s.r
}

func (s *RepoServer) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

func (s *RepoServer) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.r.POST("/user_repo", s.handleCreateRepo)

	// The same handlers serve both addressing modes: direct repo id
	// and namespace resolution via the auth front end's header.
	s.registerRepoRoutes(s.r.Group("/repo/:repoId"))
	s.registerRepoRoutes(s.r.Group("/user_repo", s.resolveNamespace()))
}

func (s *RepoServer) registerRepoRoutes(g *gin.RouterGroup) {
	g.GET("/:rolefile", s.handleGetRoleOrItems)
	g.POST("/targets/:filename", s.handleAddTarget)
	g.PUT("/targets", s.handleOfflinePush)
	g.PUT("/targets/:filename", s.handleUploadTarget)
	g.PUT("/targets/expire/not-before", s.handleSetExpireNotBefore)
	g.GET("/targets/:filename", s.handleDownloadTarget)
	g.DELETE("/targets/:filename", s.handleDeleteTarget)
	g.PATCH("/targets/:filename", s.handleEditTarget)
	g.PATCH("/proprietary-custom/:filename", s.handlePatchProprietary)
	g.PUT("/delegations/:name", s.handlePushDelegation)
	g.GET("/delegations/:name", s.handleGetDelegation)
}

// resolveNamespace maps the authenticated namespace onto its repo so
// the shared handlers can stay addressing-agnostic.
func (s *RepoServer) resolveNamespace() gin.HandlerFunc {
	return func(c *gin.Context) {
		namespace := c.GetHeader(namespaceHeader)
		if namespace == "" {
			writeErrorCode(c, http.StatusBadRequest, "invalid_entity", "missing "+namespaceHeader+" header")
			c.Abort()
			return
		}
		repoID, err := s.repos.Resolve(c.Request.Context(), namespace)
		if err != nil {
			writeError(c, err)
			c.Abort()
			return
		}
		c.Set("repoID", repoID)
		c.Next()
	}
}

func repoID(c *gin.Context) string {
	if v, ok := c.Get("repoID"); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return c.Param("repoId")
}

type createRepositoryRequest struct {
	KeyType string `json:"keyType"`
}

func (s *RepoServer) handleCreateRepo(c *gin.Context) {
	namespace := c.GetHeader(namespaceHeader)
	if namespace == "" {
		writeErrorCode(c, http.StatusBadRequest, "invalid_entity", "missing "+namespaceHeader+" header")
		return
	}
	var req createRepositoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "invalid_entity", "invalid json")
		return
	}
	keyType, ok := domain.ParseKeyType(req.KeyType)
	if !ok {
		keyType = domain.KeyTypeEd25519
	}
	id, err := s.repos.Create(c.Request.Context(), namespace, keyType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, id)
}

// handleGetRoleOrItems serves role documents and, through the same
// path position, the target item listing.
func (s *RepoServer) handleGetRoleOrItems(c *gin.Context) {
	name := c.Param("rolefile")
	if name == "target_items" {
		s.handleListTargetItems(c)
		return
	}
	if name == "root.json" {
		root, err := s.keyserver.FetchRoot(c.Request.Context(), repoID(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", root.CanonicalBytes)
		return
	}
	if version, ok := historicalRootVersion(name); ok {
		root, err := s.keyserver.FetchRootVersion(c.Request.Context(), repoID(c), version)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", root.CanonicalBytes)
		return
	}
	roleType, ok := domain.ParseRoleType(strings.TrimSuffix(name, ".json"))
	if !ok || !strings.HasSuffix(name, ".json") {
		writeError(c, domain.ErrMissingEntity)
		return
	}
	role, err := s.rolegen.Find(c.Request.Context(), repoID(c), roleType)
	if err != nil {
		writeError(c, err)
		return
	}
	if roleType == domain.RoleTypeTargets {
		c.Header(roleChecksumHeader, role.Checksum)
	}
	c.Data(http.StatusOK, "application/json", role.CanonicalBytes)
}

// historicalRootVersion parses "{n}.root.json".
func historicalRootVersion(name string) (int64, bool) {
	if !strings.HasSuffix(name, ".root.json") {
		return 0, false
	}
	version, err := strconv.ParseInt(strings.TrimSuffix(name, ".root.json"), 10, 64)
	if err != nil || version < 1 {
		return 0, false
	}
	return version, true
}

type addTargetRequest struct {
	Name         string                     `json:"name"`
	Version      string                     `json:"version"`
	HardwareIDs  []string                   `json:"hardwareIds"`
	TargetFormat string                     `json:"targetFormat"`
	URI          *string                    `json:"uri"`
	CliUploaded  *bool                      `json:"cliUploaded"`
	Length       int64                      `json:"length"`
	Checksum     *domain.Checksum           `json:"checksum"`
	SHA256       string                     `json:"sha256"`
	Proprietary  map[string]json.RawMessage `json:"proprietary"`
}

func (r addTargetRequest) checksum() domain.Checksum {
	if r.Checksum != nil {
		return *r.Checksum
	}
	return domain.Checksum{Method: domain.ChecksumSHA256, Hash: r.SHA256}
}

func (s *RepoServer) handleAddTarget(c *gin.Context) {
	var req addTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "invalid_entity", "invalid json")
		return
	}
	targets, err := s.catalog.Add(c.Request.Context(), repoID(c), usecase.AddTargetRequest{
		Filename:     c.Param("filename"),
		Length:       req.Length,
		Checksum:     req.checksum(),
		Name:         req.Name,
		Version:      req.Version,
		HardwareIDs:  req.HardwareIDs,
		TargetFormat: domain.TargetFormat(req.TargetFormat),
		URI:          req.URI,
		CliUploaded:  req.CliUploaded,
		Proprietary:  req.Proprietary,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header(roleChecksumHeader, targets.Checksum)
	c.Data(http.StatusOK, "application/json", targets.CanonicalBytes)
}

func (s *RepoServer) handleUploadTarget(c *gin.Context) {
	content, err := readUploadBody(c)
	if err != nil {
		writeError(c, err)
		return
	}
	uri := c.Query("fileUri")
	var uriPtr *string
	if uri != "" {
		uriPtr = &uri
	}
	cliUploaded := true
	_, err = s.catalog.Upload(c.Request.Context(), repoID(c), usecase.AddTargetRequest{
		Filename:     c.Param("filename"),
		Name:         c.Query("name"),
		Version:      c.Query("version"),
		HardwareIDs:  splitCSV(c.Query("hardwareIds")),
		TargetFormat: domain.TargetFormat(c.DefaultQuery("targetFormat", string(domain.TargetFormatBinary))),
		URI:          uriPtr,
		CliUploaded:  &cliUploaded,
	}, content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// readUploadBody accepts either a multipart form with a "file" part
// or the raw request body.
func readUploadBody(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, err := c.FormFile("file")
		if err != nil {
			return nil, domain.ErrInvalidTargetItem
		}
		if file.Size > usecase.MaxUploadBytes {
			return nil, domain.ErrPayloadTooLarge
		}
		opened, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer opened.Close()
		return io.ReadAll(opened)
	}
	reader := io.LimitReader(c.Request.Body, usecase.MaxUploadBytes+1)
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > usecase.MaxUploadBytes {
		return nil, domain.ErrPayloadTooLarge
	}
	return content, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (s *RepoServer) handleDownloadTarget(c *gin.Context) {
	content, redirect, err := s.catalog.FetchContent(c.Request.Context(), repoID(c), c.Param("filename"))
	if err != nil {
		writeError(c, err)
		return
	}
	if redirect != "" {
		c.Redirect(http.StatusFound, redirect)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", content)
}

func (s *RepoServer) handleDeleteTarget(c *gin.Context) {
	if err := s.catalog.Delete(c.Request.Context(), repoID(c), c.Param("filename")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type editTargetRequest struct {
	URI               *string                    `json:"uri"`
	HardwareIDs       []string                   `json:"hardwareIds"`
	ProprietaryCustom map[string]json.RawMessage `json:"proprietaryCustom"`
}

func (s *RepoServer) handleEditTarget(c *gin.Context) {
	var req editTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "invalid_entity", "invalid json")
		return
	}
	item, err := s.catalog.Edit(c.Request.Context(), repoID(c), c.Param("filename"), usecase.EditTargetRequest{
		URI:         req.URI,
		HardwareIDs: req.HardwareIDs,
		Proprietary: req.ProprietaryCustom,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildTargetItemResponse(*item))
}

func (s *RepoServer) handlePatchProprietary(c *gin.Context) {
	var patch map[string]json.RawMessage
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "invalid_entity", "invalid json")
		return
	}
	item, err := s.catalog.PatchProprietary(c.Request.Context(), repoID(c), c.Param("filename"), patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, buildTargetItemResponse(*item))
}

func (s *RepoServer) handleOfflinePush(c *gin.Context) {
	var payload domain.SignedPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "invalid_entity", "invalid json")
		return
	}
	err := s.offline.Push(c.Request.Context(), repoID(c), payload, c.GetHeader(roleChecksumHeader))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type expireNotBeforeRequest struct {
	ExpireAt time.Time `json:"expireAt"`
}

func (s *RepoServer) handleSetExpireNotBefore(c *gin.Context) {
	var req expireNotBeforeRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ExpireAt.IsZero() {
		writeErrorCode(c, http.StatusBadRequest, "invalid_entity", "invalid expireAt")
		return
	}
	if err := s.expiry.Set(c.Request.Context(), repoID(c), req.ExpireAt.UTC().Truncate(time.Second)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *RepoServer) handlePushDelegation(c *gin.Context) {
	var payload domain.SignedPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "invalid_entity", "invalid json")
		return
	}
	if err := s.delegations.Push(c.Request.Context(), repoID(c), c.Param("name"), payload); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *RepoServer) handleGetDelegation(c *gin.Context) {
	delegated, err := s.delegations.Find(c.Request.Context(), repoID(c), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", delegated.CanonicalBytes)
}

type paginationResponse struct {
	Total  int64                `json:"total"`
	Offset int                  `json:"offset"`
	Limit  int                  `json:"limit"`
	Values []targetItemResponse `json:"values"`
}

type targetItemResponse struct {
	Filename string              `json:"filename"`
	Length   int64               `json:"length"`
	Checksum domain.Checksum     `json:"checksum"`
	Custom   domain.TargetCustom `json:"custom"`
}

func buildTargetItemResponse(item domain.TargetItem) targetItemResponse {
	return targetItemResponse{
		Filename: item.Filename,
		Length:   item.Length,
		Checksum: item.Checksum,
		Custom:   item.Custom,
	}
}

func (s *RepoServer) handleListTargetItems(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	page, err := s.catalog.List(c.Request.Context(), repoID(c), c.Query("nameContains"), offset, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	values := make([]targetItemResponse, 0, len(page.Items))
	for _, item := range page.Items {
		values = append(values, buildTargetItemResponse(item))
	}
	c.JSON(http.StatusOK, paginationResponse{
		Total:  page.Total,
		Offset: page.Offset,
		Limit:  page.Limit,
		Values: values,
	})
}
