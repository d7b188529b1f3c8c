package http

import (
	"errors"
	"net/http"
	"strconv"

	"publish-pipeline/domain/dto"
	"publish-pipeline/domain/model"
	"publish-pipeline/infrastructure/logger"
	"publish-pipeline/usecase"

	"github.com/gin-gonic/gin"
)

const (
	ErrorUnmarshal = "Error while unmarshal"
)

type IPublishHandler interface {
	Publish(c *gin.Context)
	Providers(c *gin.Context)
	Healthz(c *gin.Context)
}

type PublishHandler struct {
	publishUsecase usecase.IPublishUsecase
}

func NewPublishHandler(publishUsecase usecase.IPublishUsecase) IPublishHandler {
	return &PublishHandler{publishUsecase: publishUsecase}
}

// Publish runs one batch for the integration in the path. Per-post failures are part of a
// 200 response; only an unresolvable integration fails the request.
func (h *PublishHandler) Publish(c *gin.Context) {
	integrationID := c.Param("integrationID")
	var req dto.PublishReq
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.GetLogger().WithField("error", err).Error(ErrorUnmarshal)
		c.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: ErrorUnmarshal + " " + err.Error()})
		return
	}

	lg := logger.GetLogger().WithField("integration", integrationID).WithField("service", c.GetString("service"))
	responses, err := h.publishUsecase.Publish(c.Request.Context(), integrationID, req.Posts)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, model.ErrIntegrationNotFound):
			status = http.StatusNotFound
		case errors.Is(err, model.ErrUnknownProvider):
			status = http.StatusUnprocessableEntity
		}
		lg.WithField("error", err).Warn("publish rejected")
		c.JSON(status, dto.Res{ResponseCode: strconv.Itoa(status), ResponseMessage: err.Error()})
		return
	}

	lg.WithField("posts", len(responses)).Info("publish batch done")
	c.JSON(http.StatusOK, dto.Res{
		ResponseCode:    "200",
		ResponseMessage: "Success",
		Data:            dto.PublishRes{IntegrationID: integrationID, Responses: responses},
	})
}

func (h *PublishHandler) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "Success", Data: h.publishUsecase.Providers()})
}

// Healthz returns OK for health checks
func (h *PublishHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
