package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"publish-pipeline/domain/dto"
	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/logger"
	"publish-pipeline/usecase"

	"github.com/gin-gonic/gin"
)

const oauthStateTTL = 10 * time.Minute

type IOAuthHandler interface {
	GetAuthURL(c *gin.Context)
	Callback(c *gin.Context)
	Pages(c *gin.Context)
	SelectPage(c *gin.Context)
}

type oauthHandler struct {
	registry *usecase.ProviderRegistry
	states   repository.IOAuthStateStore
	store    repository.ICredentialStore
}

func NewOAuthHandler(registry *usecase.ProviderRegistry, states repository.IOAuthStateStore, store repository.ICredentialStore) IOAuthHandler {
	return &oauthHandler{registry: registry, states: states, store: store}
}

// GetAuthURL starts the connect flow for :provider. Query parameters other than the
// reserved ones are handed to the adapter as extra hints.
func (h *oauthHandler) GetAuthURL(c *gin.Context) {
	provider, err := h.registry.Get(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	extra := map[string]string{}
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			extra[k] = v[0]
		}
	}
	auth, err := provider.GenerateAuthURL(c.Request.Context(), extra)
	if err != nil {
		logger.GetLogger().WithField("provider", provider.Identifier()).WithField("error", err).Error("auth url generation failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	err = h.states.SaveState(c.Request.Context(), auth.State, model.OAuthState{
		Provider:     provider.Identifier(),
		CodeVerifier: auth.CodeVerifier,
	}, oauthStateTTL)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("saving oauth state failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not start authorization"})
		return
	}
	c.JSON(http.StatusOK, dto.AuthURLRes{URL: auth.URL, State: auth.State})
}

// Callback finishes the flow: the state must have been issued for the same provider.
func (h *oauthHandler) Callback(c *gin.Context) {
	lg := logger.GetLogger().WithField("provider", c.Param("provider"))
	code := c.Query("code")
	state := c.Query("state")
	if denied := c.Query("error"); denied != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": denied})
		return
	}
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code or state"})
		return
	}

	provider, err := h.registry.Get(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	saved, err := h.states.TakeState(c.Request.Context(), state)
	if err != nil {
		lg.WithField("error", err).Error("reading oauth state failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not verify state"})
		return
	}
	if saved == nil || !strings.EqualFold(saved.Provider, provider.Identifier()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired state"})
		return
	}

	result := provider.Authenticate(c.Request.Context(), code, saved.CodeVerifier)
	if result.Failed() {
		msg := result.Failure
		if msg == "" {
			msg = "authentication failed"
		}
		lg.WithField("reason", msg).Warn("oauth exchange failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	integ, err := h.store.Connect(c.Request.Context(), provider.Identifier(), result.Token)
	if err != nil {
		lg.WithField("error", err).Error("storing integration failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store integration"})
		return
	}
	lg.WithField("integration", integ.ID).Info("integration connected")
	c.JSON(http.StatusOK, dto.ConnectRes{Integration: integ})
}

// pageSelection resolves an integration still waiting for its page and the adapter that lists pages.
// It writes the error response itself and returns false when the request cannot go on.
func (h *oauthHandler) pageSelection(c *gin.Context) (*model.Integration, repository.IPageSelector, bool) {
	integ, err := h.store.Get(c.Request.Context(), c.Param("integrationID"))
	if errors.Is(err, model.ErrIntegrationNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("loading integration failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load integration"})
		return nil, nil, false
	}
	if !integ.InBetweenSteps {
		c.JSON(http.StatusConflict, gin.H{"error": "integration is not waiting for a page selection"})
		return nil, nil, false
	}
	provider, err := h.registry.Get(integ.Provider)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	selector, ok := provider.(repository.IPageSelector)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": provider.Name() + " has no page selection"})
		return nil, nil, false
	}
	return integ, selector, true
}

// Pages lists what the connected user can publish as.
func (h *oauthHandler) Pages(c *gin.Context) {
	integ, selector, ok := h.pageSelection(c)
	if !ok {
		return
	}
	pages, err := selector.Pages(c.Request.Context(), integ.AccessToken)
	if err != nil {
		logger.GetLogger().WithField("integration", integ.ID).WithField("error", err).Warn("listing pages failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.PagesRes{Pages: pages})
}

// SelectPage swaps the user credentials of the integration for those of the chosen page.
func (h *oauthHandler) SelectPage(c *gin.Context) {
	var req dto.SelectPageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	integ, selector, ok := h.pageSelection(c)
	if !ok {
		return
	}
	lg := logger.GetLogger().WithField("integration", integ.ID).WithField("page", req.PageID)
	details, err := selector.SelectPage(c.Request.Context(), integ.AccessToken, req.PageID)
	if err != nil {
		lg.WithField("error", err).Warn("page selection failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	updated, err := h.store.Reconnect(c.Request.Context(), integ.ID, details)
	if err != nil {
		lg.WithField("error", err).Error("storing page selection failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store page selection"})
		return
	}
	lg.Info("page selected")
	c.JSON(http.StatusOK, dto.ConnectRes{Integration: updated})
}
