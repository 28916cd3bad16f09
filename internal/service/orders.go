package service

import (
	"context"
	"strings"

	"posledger/internal/domain"
	"posledger/internal/feed"
)

func (s *Service) ListOrders(ctx context.Context, actor domain.Actor, query domain.OrderQuery) ([]domain.Order, error) {
	if err := requireRole(actor, orderEntryRoles); err != nil {
		return nil, err
	}
	if query.Limit < 1 || query.Limit > 500 {
		query.Limit = 200
	}
	return s.repo.ListOrders(ctx, query)
}

func (s *Service) GetOrder(ctx context.Context, actor domain.Actor, id string) (domain.Order, error) {
	if err := requireRole(actor, orderEntryRoles); err != nil {
		return domain.Order{}, err
	}
	order, err := s.repo.GetOrder(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

// CancelOrder moves a completed order to cancelled and restocks its lines.
// The store rejects anything that is not completed, so a double cancel never
// credits stock twice.
func (s *Service) CancelOrder(ctx context.Context, actor domain.Actor, id string, req domain.CancelOrderRequest) (domain.Order, []domain.InventoryRecord, error) {
	if err := requireRole(actor, orderEntryRoles); err != nil {
		return domain.Order{}, nil, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := domain.Validate(req); err != nil {
		return domain.Order{}, nil, err
	}

	entry := domain.ChangeLog{
		Type:      domain.ChangeLogCancel,
		Reason:    req.Reason,
		UpdatedAt: s.now().UTC(),
		UpdatedBy: actor.Email,
	}
	order, records, err := s.repo.CancelOrder(ctx, strings.TrimSpace(id), entry)
	if err != nil {
		return domain.Order{}, nil, err
	}

	if s.metrics != nil {
		s.metrics.OrdersCancelled.Inc()
	}
	s.countRecords(records)
	s.changed(ctx, feed.Orders, feed.Inventory, feed.Products)
	s.logger.Info().Str("order_id", order.ID).Str("by", actor.Email).Str("reason", req.Reason).Msg("order cancelled")

	return *order, records, nil
}

func (s *Service) ChangePaymentMethod(ctx context.Context, actor domain.Actor, id string, req domain.PaymentMethodRequest) (domain.Order, error) {
	if err := requireRole(actor, orderEntryRoles); err != nil {
		return domain.Order{}, err
	}
	if err := domain.Validate(req); err != nil {
		return domain.Order{}, err
	}
	method := domain.NormalizePaymentMethod(req.PaymentMethod)
	if err := domain.ValidatePaymentMethod(method); err != nil {
		return domain.Order{}, err
	}

	entry := domain.ChangeLog{
		Type:      domain.ChangeLogPaymentMethod,
		UpdatedAt: s.now().UTC(),
		UpdatedBy: actor.Email,
	}
	order, err := s.repo.UpdatePaymentMethod(ctx, strings.TrimSpace(id), method, entry)
	if err != nil {
		return domain.Order{}, err
	}

	s.changed(ctx, feed.Orders)
	return *order, nil
}
