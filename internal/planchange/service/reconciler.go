package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	orderdomain "github.com/tvloop/billing/internal/order/domain"
	changedomain "github.com/tvloop/billing/internal/planchange/domain"
	"github.com/tvloop/billing/internal/proration"
)

// How long a record must sit untouched before a sweep picks it up. Keeps
// the reconciler from racing a request that is still in flight.
const resumeAfter = 5 * time.Minute

const sweepInterval = time.Minute

// Resume implements domain.Service. It walks unfinished workflow records
// oldest-first and pushes each one forward from its last recorded state.
func (s *Service) Resume(ctx context.Context) error {
	cutoff := s.clock.Now().Add(-resumeAfter)
	changes, err := s.repo.ListUnfinished(ctx, s.db, cutoff)
	if err != nil {
		return err
	}
	s.metrics.RecordReconcilerSweep(len(changes))

	for i := range changes {
		change := &changes[i]
		if err := s.resumeOne(ctx, change); err != nil {
			s.log.Warn("plan change resume failed",
				zap.String("change_id", change.ID.String()),
				zap.String("state", string(change.State)),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) resumeOne(ctx context.Context, change *changedomain.PlanChange) error {
	unlock := s.locks.lock(change.OrderID)
	defer unlock()

	order, err := s.orders.FindByID(ctx, s.db, change.OrderID)
	if err != nil {
		return err
	}
	if order == nil {
		return orderdomain.ErrNotFound
	}
	target, err := s.plans.Get(ctx, change.ToPlanID.String())
	if err != nil {
		return err
	}

	if change.State == changedomain.StatePending {
		// The gateway call's outcome is unknown: compare its current
		// subscription against what this change would have written.
		sub, err := s.gw.GetSubscription(ctx, order.GatewaySubscriptionID)
		if err != nil {
			return err
		}
		if sub.Value.Equal(change.InvoiceValue) && sameDay(sub.NextDueDate, change.EffectiveDue) {
			s.advance(ctx, change, changedomain.StateGatewayConfirmed)
		} else {
			s.advance(ctx, change, changedomain.StateAbandoned)
			s.log.Info("plan change abandoned, gateway update never landed",
				zap.String("change_id", change.ID.String()),
			)
			return nil
		}
	}

	if change.State == changedomain.StateGatewayConfirmed {
		if err := s.swapEntitlements(ctx, order.CustomerID, change.FromPlanID, change.ToPlanID); err != nil {
			s.recordFailure(ctx, change, err)
			return err
		}
		s.advance(ctx, change, changedomain.StateEntitlementApplied)
	}

	if change.State == changedomain.StateEntitlementApplied {
		result := proration.Result{
			Upgrade:          change.Upgrade,
			Deferred:         change.Deferred,
			InvoiceValue:     change.InvoiceValue,
			EffectiveDueDate: change.EffectiveDue,
		}
		if err := s.persistOrder(ctx, change.OrderID, target, result); err != nil {
			s.recordFailure(ctx, change, err)
			return fmt.Errorf("persist order on resume: %w", changedomain.ErrPersistenceFailure)
		}
		s.advance(ctx, change, changedomain.StatePersisted)
		s.log.Info("plan change resumed to completion",
			zap.String("change_id", change.ID.String()),
		)
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// RunReconciler sweeps unfinished plan changes on a fixed interval for the
// life of the application.
func RunReconciler(lc fx.Lifecycle, svc changedomain.Service, log *zap.Logger) {
	log = log.Named("planchange.reconciler")
	done := make(chan struct{})
	var cancel context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				ticker := time.NewTicker(sweepInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if err := svc.Resume(ctx); err != nil {
							log.Error("sweep failed", zap.Error(err))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
