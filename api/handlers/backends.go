package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	apierrors "github.com/customeros/mailbackend/api/errors"
	"github.com/customeros/mailbackend/dto"
	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
	"github.com/customeros/mailbackend/services/syncstate"
)

// BackendsHandler exposes the cached backend of an account
type BackendsHandler struct {
	deps Dependencies
}

func NewBackendsHandler(deps Dependencies) *BackendsHandler {
	return &BackendsHandler{deps: deps}
}

type syncResponse struct {
	Events []syncstate.Event `json:"events"`
	Error  string            `json:"error,omitempty"`
}

// backend loads the account named by the :id param and its backend. On failure the
// error response is already written.
func (h *BackendsHandler) backend(c *gin.Context, span opentracing.Span) (*models.Account, interfaces.Backend, bool) {
	ctx := c.Request.Context()
	account, err := h.deps.Accounts.GetAccount(ctx, c.Param("id"))
	if err != nil {
		respondError(c, span, err)
		return nil, nil, false
	}
	backend, err := h.deps.Backends.GetBackend(ctx, account)
	if err != nil {
		respondError(c, span, err)
		return nil, nil, false
	}
	return account, backend, true
}

func (h *BackendsHandler) Capabilities() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "BackendsHandler.Capabilities")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		c.Request = c.Request.WithContext(ctx)

		_, backend, ok := h.backend(c, span)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"capabilities": backend.Capabilities().Map()})
	}
}

func (h *BackendsHandler) RefreshFolders() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "BackendsHandler.RefreshFolders")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		c.Request = c.Request.WithContext(ctx)

		_, backend, ok := h.backend(c, span)
		if !ok {
			return
		}
		if err := backend.RefreshFolderList(ctx); err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "folders refreshed"})
	}
}

// Sync runs one folder sync and returns every event the backend reported
func (h *BackendsHandler) Sync() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "BackendsHandler.Sync")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		folder := strings.TrimPrefix(c.Param("folder"), "/")
		recorder := syncstate.NewRecorder()
		err := h.deps.Syncer.SyncFolder(ctx, c.Param("id"), folder, recorder)

		resp := syncResponse{Events: recorder.Events()}
		if err != nil {
			tracing.TraceErr(span, err)
			resp.Error = err.Error()
			if len(resp.Events) == 0 {
				c.JSON(apierrors.HTTPStatus(err), resp)
				return
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (h *BackendsHandler) CreateFolder() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "BackendsHandler.CreateFolder")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		var input dto.CreateFolderInput
		if err := c.ShouldBindJSON(&input); err != nil || input.FolderServerID == "" {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "folderServerId is required"})
			return
		}
		if input.FolderType == "" {
			input.FolderType = enum.FolderTypeRegular
		}

		account, err := h.deps.Accounts.GetAccount(ctx, c.Param("id"))
		if err != nil {
			respondError(c, span, err)
			return
		}

		result, err := h.deps.FolderCreator.Create(account).Create(ctx, input.FolderServerID, input.MustCreate, input.FolderType)
		if err != nil {
			respondError(c, span, err)
			return
		}
		status := http.StatusOK
		if result == enum.FolderCreated {
			status = http.StatusCreated
		}
		c.JSON(status, gin.H{"result": result})
	}
}

func (h *BackendsHandler) CheckSettings() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "BackendsHandler.CheckSettings")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		c.Request = c.Request.WithContext(ctx)

		account, backend, ok := h.backend(c, span)
		if !ok {
			return
		}

		result := gin.H{"incoming": "ok"}
		status := http.StatusOK
		if err := backend.CheckIncomingServerSettings(ctx); err != nil {
			tracing.TraceErr(span, err)
			result["incoming"] = err.Error()
			status = http.StatusUnprocessableEntity
		}
		if !account.Outgoing.IsZero() || account.LegacyTransportURI != "" {
			result["outgoing"] = "ok"
			if err := backend.CheckOutgoingServerSettings(ctx); err != nil {
				tracing.TraceErr(span, err)
				result["outgoing"] = err.Error()
				status = http.StatusUnprocessableEntity
			}
		}
		c.JSON(status, result)
	}
}

func (h *BackendsHandler) SendMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "BackendsHandler.SendMessage")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)
		c.Request = c.Request.WithContext(ctx)

		var input dto.SendMessageInput
		if err := c.ShouldBindJSON(&input); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(input.To)+len(input.Cc) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "at least one recipient is required"})
			return
		}

		account, backend, ok := h.backend(c, span)
		if !ok {
			return
		}

		message := &models.Message{
			From:        account.Email,
			To:          input.To,
			Cc:          input.Cc,
			Subject:     input.Subject,
			InReplyTo:   input.InReplyTo,
			TextPreview: input.Text,
			HTMLBody:    input.HTML,
		}
		if err := backend.SendMessage(ctx, message); err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sent", "messageId": message.MessageID})
	}
}

// Evict drops the cached backend so the next request rebuilds it
func (h *BackendsHandler) Evict() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "BackendsHandler.Evict")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		account, err := h.deps.Accounts.GetAccount(ctx, c.Param("id"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		h.deps.Backends.RemoveBackend(ctx, account)
		c.JSON(http.StatusOK, gin.H{"status": "backend removed", "id": account.UUID})
	}
}
