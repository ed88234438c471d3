package handlers

import (
	"net/http"
	"strings"

	"github.com/customeros/mailsherpa/mailvalidate"
	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/opentracing/opentracing-go"

	apierrors "github.com/customeros/mailbackend/api/errors"
	"github.com/customeros/mailbackend/dto"
	"github.com/customeros/mailbackend/interfaces"
	"github.com/customeros/mailbackend/internal/enum"
	"github.com/customeros/mailbackend/internal/models"
	"github.com/customeros/mailbackend/internal/tracing"
)

type AccountsHandler struct {
	accounts  interfaces.AccountRepository
	backends  interfaces.BackendProvider
	storeURIs interfaces.StoreURICodec
}

func NewAccountsHandler(accounts interfaces.AccountRepository, backends interfaces.BackendProvider, storeURIs interfaces.StoreURICodec) *AccountsHandler {
	return &AccountsHandler{accounts: accounts, backends: backends, storeURIs: storeURIs}
}

type accountResponse struct {
	Account  *models.Account `json:"account"`
	StoreURI string          `json:"storeUri,omitempty"`
}

func (h *AccountsHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountsHandler.List")
		defer span.Finish()
		tracing.TagComponentRest(span)

		accounts, err := h.accounts.GetAccounts(ctx)
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"accounts": accounts})
	}
}

func (h *AccountsHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountsHandler.Get")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		account, err := h.accounts.GetAccount(ctx, c.Param("id"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		c.JSON(http.StatusOK, h.response(account))
	}
}

func (h *AccountsHandler) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountsHandler.Create")
		defer span.Finish()
		tracing.TagComponentRest(span)

		var input dto.AccountInput
		if err := c.ShouldBindJSON(&input); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		account, err := h.accountFromInput(&input)
		if err != nil {
			respondError(c, span, err)
			return
		}

		if err := h.accounts.SaveAccount(ctx, account); err != nil {
			respondError(c, span, err)
			return
		}
		tracing.TagAccount(span, account.UUID)

		c.JSON(http.StatusCreated, h.response(account))
	}
}

func (h *AccountsHandler) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		span, ctx := opentracing.StartSpanFromContext(c.Request.Context(), "AccountsHandler.Delete")
		defer span.Finish()
		tracing.SetDefaultRestSpanTags(ctx, span)

		account, err := h.accounts.GetAccount(ctx, c.Param("id"))
		if err != nil {
			respondError(c, span, err)
			return
		}
		if err := h.accounts.DeleteAccount(ctx, account.UUID); err != nil {
			respondError(c, span, err)
			return
		}
		h.backends.RemoveBackend(ctx, account)

		c.JSON(http.StatusOK, gin.H{"status": "account removed", "id": account.UUID})
	}
}

func (h *AccountsHandler) response(account *models.Account) accountResponse {
	resp := accountResponse{Account: account, StoreURI: account.LegacyStoreURI}
	if !account.Incoming.IsZero() {
		if uri, err := h.storeURIs.CreateStoreURI(account.Incoming); err == nil {
			resp.StoreURI = uri
		}
	}
	return resp
}

func (h *AccountsHandler) accountFromInput(input *dto.AccountInput) (*models.Account, error) {
	validationErrors := apierrors.NewMultiErrors()

	validation := mailvalidate.ValidateEmailSyntax(input.Email)
	if !validation.IsValid {
		validationErrors.Add("email", "Email address is not valid", nil)
	}

	incoming := input.Incoming.ToModel()
	legacyStoreURI := strings.TrimSpace(input.LegacyStoreURI)
	switch {
	case incoming.IsZero() && legacyStoreURI == "":
		validationErrors.Add("incoming", "Incoming server settings or a legacy store uri are required", nil)
	case incoming.IsZero():
		if _, err := h.storeURIs.DecodeStoreURI(legacyStoreURI); err != nil {
			validationErrors.Add("legacyStoreUri", "Legacy store uri cannot be decoded", err)
		}
	default:
		if incoming.Type == "" {
			validationErrors.Add("incoming.type", "Server type is required", nil)
		}
		if incoming.Host == "" && incoming.Type != enum.ServerTypeDemo {
			validationErrors.Add("incoming.host", "Host is required", nil)
		}
	}

	if validationErrors.HasErrors() {
		return nil, validationErrors
	}

	return &models.Account{
		Name:               input.Name,
		Email:              validation.CleanEmail,
		Incoming:           incoming,
		Outgoing:           input.Outgoing.ToModel(),
		LegacyStoreURI:     legacyStoreURI,
		LegacyTransportURI: strings.TrimSpace(input.LegacyTransportURI),
		SyncFolders:        pq.StringArray(input.SyncFolders),
		SyncConfig:         input.SyncConfig,
	}, nil
}
