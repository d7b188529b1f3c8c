package http

import (
	"net/http"
	"strconv"

	"publish-pipeline/domain/dto"
	"publish-pipeline/domain/repository"
	"publish-pipeline/infrastructure/logger"

	"github.com/gin-gonic/gin"
)

type IHistoryHandler interface {
	List(c *gin.Context)
}

type historyHandler struct {
	history repository.IPublishHistory
}

func NewHistoryHandler(history repository.IPublishHistory) IHistoryHandler {
	return &historyHandler{history: history}
}

// List returns the publish history of one integration, newest first. ?limit= caps it at 200.
func (h *historyHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit > 200 {
		limit = 200
	}
	records, err := h.history.ListByIntegration(c.Request.Context(), c.Param("integrationID"), limit)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while fetching publish history")
		c.JSON(http.StatusInternalServerError, dto.Res{ResponseCode: "500", ResponseMessage: "could not load history"})
		return
	}
	c.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "Success", Data: records})
}
