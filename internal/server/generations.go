package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	authdomain "github.com/renderbank/renderbank/internal/auth/domain"
	billingdomain "github.com/renderbank/renderbank/internal/billing/domain"
)

type createGenerationRequest struct {
	Kind  string         `json:"kind"`
	Input map[string]any `json:"input"`
	Wait  bool           `json:"wait"`
}

func (s *Server) CreateGeneration(c *gin.Context) {
	id, ok := identityFrom(c)
	if !ok {
		AbortWithError(c, authdomain.ErrUnauthorized)
		return
	}

	var req createGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	obs, err := s.billingSvc.Submit(c.Request.Context(), billingdomain.SubmitRequest{
		AccountKey: id.AccountKey,
		Kind:       req.Kind,
		Input:      req.Input,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if req.Wait && obs.State != billingdomain.StateCompleted && obs.State != billingdomain.StateFailed {
		obs, err = s.billingSvc.Await(c.Request.Context(), billingdomain.PollRequest{
			AccountKey: id.AccountKey,
			JobID:      obs.JobID,
			Kind:       obs.Kind,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	c.JSON(http.StatusAccepted, obs)
}

func (s *Server) GetGeneration(c *gin.Context) {
	id, ok := identityFrom(c)
	if !ok {
		AbortWithError(c, authdomain.ErrUnauthorized)
		return
	}

	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	obs, err := s.billingSvc.Poll(c.Request.Context(), billingdomain.PollRequest{
		AccountKey: id.AccountKey,
		JobID:      jobID,
		Kind:       c.Query("kind"),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, obs)
}
