package server

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	authdomain "github.com/renderbank/renderbank/internal/auth/domain"
	ticketsdomain "github.com/renderbank/renderbank/internal/tickets/domain"
	"go.uber.org/zap"
)

const identityKey = "renderbank.identity"

// RequestLogger emits one structured line per request.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http.access")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// AuthRequired resolves the bearer token to an identity and lazily applies
// the signup bonus, so a brand-new account sees a non-zero balance on its
// very first call.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			AbortWithError(c, authdomain.ErrUnauthorized)
			return
		}

		id, err := s.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		if _, err := s.ticketsSvc.EnsureSignupGrant(c.Request.Context(), ticketsdomain.Identity{
			AccountKey: id.AccountKey,
			Email:      id.Email,
		}); err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// SubmitRateLimit throttles generation submissions per account.
func (s *Server) SubmitRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := identityFrom(c)
		if !ok {
			AbortWithError(c, authdomain.ErrUnauthorized)
			return
		}

		res, err := s.submitLimiter.Allow(c.Request.Context(), id.AccountKey)
		if err != nil {
			c.Next()
			return
		}
		if !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", res.RetryAfter.Round(time.Second).String())
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func identityFrom(c *gin.Context) (authdomain.Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return authdomain.Identity{}, false
	}
	id, ok := value.(authdomain.Identity)
	return id, ok
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
