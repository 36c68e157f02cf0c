package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rajinweb/contract-esign/internal/apperrors"
	"github.com/rajinweb/contract-esign/internal/db/models"
	"github.com/rajinweb/contract-esign/internal/services"
)

type SigningHandler struct {
	signingService *services.SigningService
	logger         *zap.Logger
}

func NewSigningHandler(signingService *services.SigningService, logger *zap.Logger) *SigningHandler {
	return &SigningHandler{
		signingService: signingService,
		logger:         logger.With(zap.String("handler", "signing")),
	}
}

type signRequest struct {
	Token       string                     `json:"token" binding:"required"`
	RecipientID string                     `json:"recipientId" binding:"required"`
	Fields      []services.FieldSubmission `json:"fields" binding:"required"`
	Consent     *consentPayload            `json:"consent"`
	Location    string                     `json:"location"`
	Device      string                     `json:"device"`
}

type documentActionRequest struct {
	Token           string                     `json:"token" binding:"required"`
	Action          string                     `json:"action" binding:"required"`
	Fields          []services.FieldSubmission `json:"fields"`
	Location        string                     `json:"location"`
	Device          string                     `json:"device"`
	Consent         *consentPayload            `json:"consent"`
	ClientTimestamp string                     `json:"clientTimestamp"`
}

type consentPayload struct {
	Granted bool   `json:"granted"`
	Text    string `json:"text"`
}

func (h *SigningHandler) evidence(c *gin.Context, location, device string, consent *consentPayload, clientTS string) models.Evidence {
	ev := models.Evidence{
		IPAddress:       c.ClientIP(),
		UserAgent:       c.Request.UserAgent(),
		Device:          device,
		Geolocation:     location,
		ClientTimestamp: clientTS,
	}
	if consent != nil {
		ev.ConsentGranted = consent.Granted
		ev.ConsentText = consent.Text
	}
	return ev
}

// Sign handles POST /sign: a signer submits their field values.
func (h *SigningHandler) Sign(c *gin.Context) {
	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token, recipientId and fields are required"})
		return
	}

	result, err := h.signingService.Do(c.Request.Context(), services.ActionRequest{
		Token:       req.Token,
		RecipientID: req.RecipientID,
		Action:      models.ActionSigned,
		Fields:      req.Fields,
		Evidence:    h.evidence(c, req.Location, req.Device, req.Consent, ""),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"alreadySigned":  result.AlreadySigned,
		"currentVersion": result.Document.CurrentVersion,
		"status":         result.Document.Status,
	})
}

// Action handles POST /signed-document-action: sign, approve or reject with
// full evidence payload.
func (h *SigningHandler) Action(c *gin.Context) {
	var req documentActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token and action are required"})
		return
	}

	var action models.EventAction
	switch req.Action {
	case "sign", "signed":
		action = models.ActionSigned
	case "approve", "approved":
		action = models.ActionApproved
	case "reject", "rejected":
		action = models.ActionRejected
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported action"})
		return
	}

	result, err := h.signingService.Do(c.Request.Context(), services.ActionRequest{
		Token:    req.Token,
		Action:   action,
		Fields:   req.Fields,
		Evidence: h.evidence(c, req.Location, req.Device, req.Consent, req.ClientTimestamp),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"alreadySigned":  result.AlreadySigned,
		"currentVersion": result.Document.CurrentVersion,
		"status":         result.Document.Status,
	})
}

// View handles GET /signing/:token: resolves the link, marks the recipient
// viewed and returns what the signer needs to render the document.
func (h *SigningHandler) View(c *gin.Context) {
	result, err := h.signingService.View(c.Request.Context(), c.Param("token"),
		h.evidence(c, "", "", nil, ""))
	if err != nil {
		h.respondError(c, err)
		return
	}

	doc := result.Document
	var fields []models.Field
	if prepared := doc.LastPreparedVersion(); prepared != nil {
		for _, f := range prepared.Fields {
			if f.RecipientID == "" || f.RecipientID == result.Recipient.ID {
				fields = append(fields, f)
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"documentId":     doc.ID,
		"name":           doc.Name,
		"status":         doc.Status,
		"signingMode":    doc.SigningMode,
		"currentVersion": doc.CurrentVersion,
		"fields":         fields,
		"recipient": gin.H{
			"id":     result.Recipient.ID,
			"role":   result.Recipient.Role,
			"status": result.Recipient.Status,
			"order":  result.Recipient.Order,
		},
	})
}

func (h *SigningHandler) respondError(c *gin.Context, err error) {
	if appErr, ok := apperrors.IsAppError(err); ok {
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Message, "code": appErr.Code})
		return
	}
	h.logger.Error("signing action failed", zap.Error(err))
	c.JSON(apperrors.HTTPStatus(err), gin.H{"error": "internal error"})
}
