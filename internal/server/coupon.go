package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	coupondomain "github.com/tvloop/billing/internal/coupon/domain"
)

// ValidateCoupon mirrors the storefront's coupon check: given a coupon name
// and a plan, answer with the discounted price.
func (s *Server) ValidateCoupon(c *gin.Context) {
	var query coupondomain.ResolveRequest
	if err := c.ShouldBindJSON(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(query.CouponName) == "" {
		AbortWithError(c, newValidationError("coupon", "invalid_coupon", "coupon is required"))
		return
	}

	resolution, err := s.couponSvc.Resolve(c.Request.Context(), coupondomain.ResolveRequest{
		CouponName: strings.TrimSpace(query.CouponName),
		PlanID:     strings.TrimSpace(query.PlanID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resolution})
}
