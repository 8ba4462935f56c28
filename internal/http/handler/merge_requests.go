package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mrpulse.app/dashboard/internal/fetcher"
	"mrpulse.app/dashboard/internal/model"
	"mrpulse.app/dashboard/internal/service"
)

type DashboardService interface {
	MergeRequests(ctx context.Context, author string, kind model.Kind) (*service.DashboardResult, error)
	MonthlyMergedCount(ctx context.Context, author string) (int, error)
}

type MergeRequestHandler struct {
	svc DashboardService
}

func NewMergeRequestHandler(svc DashboardService) *MergeRequestHandler {
	return &MergeRequestHandler{svc: svc}
}

type MergeRequestsResponse struct {
	Data           *model.Snapshot      `json:"data"`
	FreshlyFetched bool                 `json:"freshly_fetched"`
	RefreshErrors  []model.GatewayError `json:"refresh_errors,omitempty"`
}

type MonthlyMergedCountResponse struct {
	Username string `json:"username"`
	Count    int    `json:"count"`
}

func (h *MergeRequestHandler) Show(c *gin.Context) {
	username := c.Param("username")
	kind, ok := model.ParseKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown merge request kind"})
		return
	}

	result, err := h.svc.MergeRequests(c.Request.Context(), username, kind)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if result.Snapshot.HasErrors() {
		// Nothing good was cached to fall back to.
		status = http.StatusBadGateway
	}

	c.JSON(status, MergeRequestsResponse{
		Data:           result.Snapshot,
		FreshlyFetched: result.FreshlyFetched,
		RefreshErrors:  result.RefreshErrors,
	})
}

func (h *MergeRequestHandler) MonthlyMergedCount(c *gin.Context) {
	username := c.Param("username")

	count, err := h.svc.MonthlyMergedCount(c.Request.Context(), username)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, MonthlyMergedCountResponse{Username: username, Count: count})
}

func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var gwErr model.GatewayError
	switch {
	case errors.Is(err, fetcher.ErrInvalidUsername), errors.Is(err, fetcher.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	case errors.As(err, &gwErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": gwErr.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
