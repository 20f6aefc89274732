package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	authdomain "github.com/renderbank/renderbank/internal/auth/domain"
	ledgerdomain "github.com/renderbank/renderbank/internal/ledger/domain"
	"github.com/renderbank/renderbank/pkg/db/pagination"
)

func (s *Server) GetTickets(c *gin.Context) {
	id, ok := identityFrom(c)
	if !ok {
		AbortWithError(c, authdomain.ErrUnauthorized)
		return
	}

	view, err := s.ticketsSvc.Balance(c.Request.Context(), id.AccountKey)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (s *Server) ListTicketEvents(c *gin.Context) {
	id, ok := identityFrom(c)
	if !ok {
		AbortWithError(c, authdomain.ErrUnauthorized)
		return
	}

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	res, err := s.ticketsSvc.Events(c.Request.Context(), ledgerdomain.ListEventsRequest{
		AccountKey: id.AccountKey,
		Pagination: page,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (s *Server) ClaimDailyBonus(c *gin.Context) {
	id, ok := identityFrom(c)
	if !ok {
		AbortWithError(c, authdomain.ErrUnauthorized)
		return
	}

	claim, err := s.ticketsSvc.ClaimDailyBonus(c.Request.Context(), id.AccountKey)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, claim)
}
