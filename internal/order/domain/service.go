package domain

import (
	"context"

	"github.com/tvloop/billing/pkg/db/pagination"
)

// ListRequest filters the order listing. Cursor pagination: PageToken is an
// opaque cursor from a previous page's PageInfo.
type ListRequest struct {
	CustomerID string `form:"customer_id"`
	Status     string `form:"status"`
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size"`
}

type ListResponse struct {
	Orders   []*Order             `json:"orders"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

// Service is the read side of orders; writes go through the registration
// and plan-change services.
type Service interface {
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	Get(ctx context.Context, id string) (*Order, error)
}
