package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	orderdomain "github.com/tvloop/billing/internal/order/domain"
	"github.com/tvloop/billing/pkg/db/option"
	"github.com/tvloop/billing/pkg/db/pagination"
	"github.com/tvloop/billing/pkg/repository"
)

type Service struct {
	log   *zap.Logger
	store repository.Repository[orderdomain.Order]
}

type ServiceParam struct {
	fx.In

	Log   *zap.Logger
	Store repository.Repository[orderdomain.Order]
}

func NewService(p ServiceParam) orderdomain.Service {
	return &Service{
		log:   p.Log.Named("order.service"),
		store: p.Store,
	}
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req orderdomain.ListRequest) (orderdomain.ListResponse, error) {
	query := &orderdomain.Order{}
	if status := strings.TrimSpace(req.Status); status != "" {
		query.Status = orderdomain.OrderStatus(strings.ToUpper(status))
	}

	var opts []option.QueryOption
	if customerID := strings.TrimSpace(req.CustomerID); customerID != "" {
		id, err := snowflake.ParseString(customerID)
		if err != nil {
			return orderdomain.ListResponse{}, orderdomain.ErrInvalidOrder
		}
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "customer_id",
			Operator: option.EQ,
			Value:    id,
		}))
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	opts = append(opts,
		option.WithSortBy("created_at", "desc", map[string]bool{"created_at": true}),
		option.ApplyPagination(page),
	)

	orders, err := s.store.Find(ctx, query, opts...)
	if err != nil {
		return orderdomain.ListResponse{}, err
	}

	size := page.PageSize
	if size <= 0 {
		size = 10
	}
	pageInfo := pagination.BuildCursorPageInfo(orders, int32(size), func(o *orderdomain.Order) string {
		cursor, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        o.ID.String(),
			CreatedAt: o.CreatedAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return cursor
	})
	if len(orders) > size {
		orders = orders[:size]
	}

	return orderdomain.ListResponse{Orders: orders, PageInfo: pageInfo}, nil
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, id string) (*orderdomain.Order, error) {
	orderID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return nil, orderdomain.ErrInvalidOrder
	}

	order, err := s.store.FindOne(ctx, &orderdomain.Order{ID: orderID})
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, orderdomain.ErrNotFound
	}
	return order, nil
}
