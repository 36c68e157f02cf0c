package handlers

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rajinweb/contract-esign/internal/apperrors"
	"github.com/rajinweb/contract-esign/internal/db/models"
	"github.com/rajinweb/contract-esign/internal/services"
)

type DocumentHandler struct {
	versionService *services.VersionService
	signingService *services.SigningService
	tokenService   *services.TokenService
	logger         *zap.Logger
}

func NewDocumentHandler(
	versionService *services.VersionService,
	signingService *services.SigningService,
	tokenService *services.TokenService,
	logger *zap.Logger,
) *DocumentHandler {
	return &DocumentHandler{
		versionService: versionService,
		signingService: signingService,
		tokenService:   tokenService,
		logger:         logger.With(zap.String("handler", "document")),
	}
}

type createDocumentRequest struct {
	Name        string `json:"name" binding:"required"`
	SigningMode string `json:"signingMode"`
	MimeType    string `json:"mimeType"`
	// Content is the base64-encoded document payload.
	Content    string `json:"content" binding:"required"`
	OwnerEmail string `json:"ownerEmail"`
}

type prepareRequest struct {
	Fields   []models.Field `json:"fields" binding:"required"`
	Content  string         `json:"content"`
	MimeType string         `json:"mimeType"`
}

type sendRequest struct {
	Recipients []services.RecipientInput `json:"recipients" binding:"required,dive"`
	// ExpiresAt is an RFC3339 deadline for the signing round; omitted means
	// the configured default applies at the service layer.
	ExpiresAt string `json:"expiresAt"`
}

type versionResponse struct {
	Version            int                 `json:"version"`
	Label              models.VersionLabel `json:"label"`
	DerivedFromVersion *int                `json:"derivedFromVersion,omitempty"`
	Hash               string              `json:"hash"`
	HashAlgorithm      string              `json:"hashAlgorithm"`
	Size               int64               `json:"size"`
	MimeType           string              `json:"mimeType"`
	Locked             bool                `json:"locked"`
	Fields             []models.Field      `json:"fields,omitempty"`
	SignedBy           []string            `json:"signedBy,omitempty"`
	CreatedAt          time.Time           `json:"createdAt"`
}

type recipientResponse struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Email         string                 `json:"email"`
	Role          models.RecipientRole   `json:"role"`
	Order         int                    `json:"order"`
	Status        models.RecipientStatus `json:"status"`
	SignedVersion *int                   `json:"signedVersion,omitempty"`
}

type documentResponse struct {
	ID                    string                `json:"id"`
	Name                  string                `json:"name"`
	OwnerID               string                `json:"ownerId"`
	SigningMode           models.SigningMode    `json:"signingMode"`
	Status                models.DocumentStatus `json:"status"`
	CurrentVersion        int                   `json:"currentVersion"`
	CompletedAt           *time.Time            `json:"completedAt,omitempty"`
	ExpiresAt             *time.Time            `json:"expiresAt,omitempty"`
	DerivedFromDocumentID *string               `json:"derivedFromDocumentId,omitempty"`
	DerivedFromVersion    *int                  `json:"derivedFromVersion,omitempty"`
	Versions              []versionResponse     `json:"versions"`
	Recipients            []recipientResponse   `json:"recipients"`
	CreatedAt             time.Time             `json:"createdAt"`
}

func toDocumentResponse(doc *models.Document) documentResponse {
	resp := documentResponse{
		ID:                    doc.ID,
		Name:                  doc.Name,
		OwnerID:               doc.OwnerID,
		SigningMode:           doc.SigningMode,
		Status:                doc.Status,
		CurrentVersion:        doc.CurrentVersion,
		CompletedAt:           doc.CompletedAt,
		ExpiresAt:             doc.ExpiresAt,
		DerivedFromDocumentID: doc.DerivedFromDocumentID,
		DerivedFromVersion:    doc.DerivedFromVersion,
		CreatedAt:             doc.CreatedAt,
	}
	for _, v := range doc.Versions {
		resp.Versions = append(resp.Versions, versionResponse{
			Version:            v.Version,
			Label:              v.Label,
			DerivedFromVersion: v.DerivedFromVersion,
			Hash:               v.Hash,
			HashAlgorithm:      v.HashAlgorithm,
			Size:               v.Size,
			MimeType:           v.MimeType,
			Locked:             v.Locked,
			Fields:             v.Fields,
			SignedBy:           v.SignedBy,
			CreatedAt:          v.CreatedAt,
		})
	}
	for _, r := range doc.Recipients {
		resp.Recipients = append(resp.Recipients, recipientResponse{
			ID:            r.ID,
			Name:          r.Name,
			Email:         r.Email,
			Role:          r.Role,
			Order:         r.Order,
			Status:        r.Status,
			SignedVersion: r.SignedVersion,
		})
	}
	return resp
}

func (h *DocumentHandler) Create(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and content are required"})
		return
	}

	content, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content must be base64 encoded"})
		return
	}

	mode := models.ModeSequential
	switch req.SigningMode {
	case "", string(models.ModeSequential):
	case string(models.ModeParallel):
		mode = models.ModeParallel
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "signingMode must be sequential or parallel"})
		return
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/pdf"
	}

	doc, err := h.versionService.CreateDocument(c.Request.Context(),
		c.GetString("ownerID"), req.OwnerEmail, req.Name, mode, bytes.NewReader(content), mimeType)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toDocumentResponse(doc))
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.versionService.ListDocuments(c.Request.Context(), c.GetString("ownerID"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := make([]documentResponse, 0, len(docs))
	for i := range docs {
		resp = append(resp, toDocumentResponse(&docs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"documents": resp})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.versionService.GetDocument(c.Request.Context(), c.Param("id"), c.GetString("ownerID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

func (h *DocumentHandler) Prepare(c *gin.Context) {
	var req prepareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fields are required"})
		return
	}

	var content io.Reader
	if req.Content != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content must be base64 encoded"})
			return
		}
		content = bytes.NewReader(decoded)
	}

	doc, err := h.versionService.PrepareDocument(c.Request.Context(),
		c.Param("id"), c.GetString("ownerID"), content, req.MimeType, req.Fields)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

func (h *DocumentHandler) Send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "recipients are required"})
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		ts, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expiresAt must be RFC3339"})
			return
		}
		expiresAt = &ts
	}

	doc, err := h.signingService.Send(c.Request.Context(),
		c.Param("id"), c.GetString("ownerID"), req.Recipients, expiresAt)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

// Derive clones a finished document into a fresh draft with a new chain.
func (h *DocumentHandler) Derive(c *gin.Context) {
	doc, err := h.versionService.DeriveDocument(c.Request.Context(),
		c.Param("id"), c.GetString("ownerID"), h.tokenService)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"documentId":            doc.ID,
		"derivedFromDocumentId": doc.DerivedFromDocumentID,
		"derivedFromVersion":    doc.DerivedFromVersion,
	})
}

// Integrity re-checks the stored content digest of one version.
func (h *DocumentHandler) Integrity(c *gin.Context) {
	versionParam := c.DefaultQuery("version", "")
	doc, err := h.versionService.GetDocument(c.Request.Context(), c.Param("id"), c.GetString("ownerID"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	version := doc.CurrentVersion
	if versionParam != "" {
		version, err = strconv.Atoi(versionParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "version must be an integer"})
			return
		}
	}

	ok, err := h.versionService.VerifyIntegrity(c.Request.Context(), doc.ID, version)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documentId": doc.ID, "version": version, "ok": ok})
}

func (h *DocumentHandler) Events(c *gin.Context) {
	events, err := h.signingService.ListEvents(c.Request.Context(), c.Param("id"), c.GetString("ownerID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *DocumentHandler) Void(c *gin.Context) {
	doc, err := h.signingService.Void(c.Request.Context(), c.Param("id"), c.GetString("ownerID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDocumentResponse(doc))
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.signingService.DeleteDocument(c.Request.Context(), c.Param("id"), c.GetString("ownerID")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *DocumentHandler) respondError(c *gin.Context, err error) {
	if appErr, ok := apperrors.IsAppError(err); ok {
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	h.logger.Error("document operation failed", zap.Error(err))
	c.JSON(apperrors.HTTPStatus(err), gin.H{"error": "internal error"})
}
