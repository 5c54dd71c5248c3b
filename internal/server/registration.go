package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tvloop/billing/internal/gateway"
	registrationdomain "github.com/tvloop/billing/internal/registration/domain"
)

type registerRequest struct {
	Login    string `json:"login"`
	Name     string `json:"name"`
	Document string `json:"document"`
	Email    string `json:"email"`
	Mobile   string `json:"mobile"`
	PlanID   string `json:"plan_id"`
	Coupon   string `json:"coupon"`

	Card cardRequest `json:"card"`
}

type cardRequest struct {
	HolderName  string `json:"holder_name"`
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiry_month"`
	ExpiryYear  string `json:"expiry_year"`
	CCV         string `json:"ccv"`
}

func (r cardRequest) toDetails() gateway.CardDetails {
	return gateway.CardDetails{
		HolderName:  strings.TrimSpace(r.HolderName),
		Number:      strings.TrimSpace(r.Number),
		ExpiryMonth: strings.TrimSpace(r.ExpiryMonth),
		ExpiryYear:  strings.TrimSpace(r.ExpiryYear),
		CCV:         strings.TrimSpace(r.CCV),
	}
}

func (s *Server) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.registrationSvc.Register(c.Request.Context(), registrationdomain.RegisterRequest{
		Login:      req.Login,
		Name:       req.Name,
		Document:   req.Document,
		Email:      req.Email,
		Mobile:     req.Mobile,
		PlanID:     strings.TrimSpace(req.PlanID),
		CouponName: strings.TrimSpace(req.Coupon),
		Card:       req.Card.toDetails(),
		RemoteIP:   c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ChangeCard(c *gin.Context) {
	var req cardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.registrationSvc.ChangeCard(c.Request.Context(), registrationdomain.ChangeCardRequest{
		OrderID:  strings.TrimSpace(c.Param("id")),
		Card:     req.toDetails(),
		RemoteIP: c.ClientIP(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
