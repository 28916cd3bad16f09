package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"posledger/internal/composer"
	"posledger/internal/domain"
	"posledger/internal/feed"
)

var ErrCategoryDisabled = errors.New("category is disabled or deleted")

func (s *Service) Draft(actor domain.Actor) (domain.DraftView, error) {
	if err := requireRole(actor, orderEntryRoles); err != nil {
		return domain.DraftView{}, err
	}
	td := s.draftFor(actor)
	td.mu.Lock()
	defer td.mu.Unlock()
	return td.draft.View(), nil
}

func (s *Service) AddDraftItem(ctx context.Context, actor domain.Actor, req domain.DraftItemRequest) (domain.DraftView, error) {
	if err := requireRole(actor, orderEntryRoles); err != nil {
		return domain.DraftView{}, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if err := domain.Validate(req); err != nil {
		return domain.DraftView{}, err
	}

	product, err := s.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return domain.DraftView{}, err
	}
	if err := s.ensureCategoryEnabled(ctx, product.Category); err != nil {
		return domain.DraftView{}, err
	}

	td := s.draftFor(actor)
	td.mu.Lock()
	defer td.mu.Unlock()
	if err := td.draft.AddItem(*product); err != nil {
		return domain.DraftView{}, err
	}
	return td.draft.View(), nil
}

func (s *Service) ensureCategoryEnabled(ctx context.Context, label string) error {
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return err
	}
	for _, c := range categories {
		if c.Name == label && c.Enabled {
			return nil
		}
	}
	// a deleted category is as unsellable as a disabled one
	return fmt.Errorf("%w: %s", ErrCategoryDisabled, label)
}

func (s *Service) ChangeDraftQuantity(actor domain.Actor, productID string, req domain.DraftQuantityRequest) (domain.DraftView, error) {
	if err := requireRole(actor, orderEntryRoles); err != nil {
		return domain.DraftView{}, err
	}
	if err := domain.Validate(req); err != nil {
		return domain.DraftView{}, err
	}

	td := s.draftFor(actor)
	td.mu.Lock()
	defer td.mu.Unlock()
	if err := td.draft.ChangeQuantity(productID, req.Delta); err != nil {
		return domain.DraftView{}, err
	}
	return td.draft.View(), nil
}

func (s *Service) RemoveDraftItem(actor domain.Actor, productID string) (domain.DraftView, error) {
	if err := requireRole(actor, orderEntryRoles); err != nil {
		return domain.DraftView{}, err
	}

	td := s.draftFor(actor)
	td.mu.Lock()
	defer td.mu.Unlock()
	removed, err := td.draft.RemoveItem(productID)
	if err != nil {
		return domain.DraftView{}, err
	}
	view := td.draft.View()
	view.Notice = fmt.Sprintf("%s removed", removed.Name)
	return view, nil
}

func (s *Service) ApplyDraftDiscount(actor domain.Actor, req domain.DraftDiscountRequest) (domain.DraftView, error) {
	if err := requireRole(actor, orderEntryRoles); err != nil {
		return domain.DraftView{}, err
	}
	if err := domain.Validate(req); err != nil {
		return domain.DraftView{}, err
	}

	td := s.draftFor(actor)
	td.mu.Lock()
	defer td.mu.Unlock()
	if err := td.draft.ApplyDiscount(req.Amount); err != nil {
		return domain.DraftView{}, err
	}
	return td.draft.View(), nil
}

func (s *Service) AddDraftExpense(actor domain.Actor, req domain.DraftExpenseRequest) (domain.DraftView, error) {
	if err := requireRole(actor, orderEntryRoles); err != nil {
		return domain.DraftView{}, err
	}
	req.Description = strings.TrimSpace(req.Description)
	if err := domain.Validate(req); err != nil {
		return domain.DraftView{}, err
	}

	td := s.draftFor(actor)
	td.mu.Lock()
	defer td.mu.Unlock()
	if err := td.draft.AddExpense(s.newID("exp"), req.Description, req.Amount); err != nil {
		return domain.DraftView{}, err
	}
	return td.draft.View(), nil
}

func (s *Service) RemoveDraftExpense(actor domain.Actor, expenseID string) (domain.DraftView, error) {
	if err := requireRole(actor, orderEntryRoles); err != nil {
		return domain.DraftView{}, err
	}

	td := s.draftFor(actor)
	td.mu.Lock()
	defer td.mu.Unlock()
	if err := td.draft.RemoveExpense(expenseID); err != nil {
		return domain.DraftView{}, err
	}
	return td.draft.View(), nil
}

func (s *Service) ClearDraft(actor domain.Actor) (domain.DraftView, error) {
	if err := requireRole(actor, orderEntryRoles); err != nil {
		return domain.DraftView{}, err
	}

	td := s.draftFor(actor)
	td.mu.Lock()
	defer td.mu.Unlock()
	td.draft.Clear()
	return td.draft.View(), nil
}

// SubmitDraft writes the draft to the ledger. The draft is cleared only once
// every order is stored; on failure it is kept so the terminal can retry.
func (s *Service) SubmitDraft(ctx context.Context, actor domain.Actor, req domain.SubmitRequest) (domain.SubmitResponse, error) {
	if err := requireRole(actor, orderEntryRoles); err != nil {
		return domain.SubmitResponse{}, err
	}

	td := s.draftFor(actor)
	td.mu.Lock()
	defer td.mu.Unlock()

	view := td.draft.View()
	if len(view.Expenses) > 0 {
		return s.submitExpenses(ctx, actor, td.draft, view)
	}

	method := domain.NormalizePaymentMethod(req.PaymentMethod)
	if err := domain.ValidatePaymentMethod(method); err != nil {
		return domain.SubmitResponse{}, err
	}
	checkout, err := td.draft.Checkout(method, s.newID, s.now().UTC())
	if err != nil {
		return domain.SubmitResponse{}, err
	}

	order := checkout.Orders[0]
	saved, records, err := s.repo.CreateOrder(ctx, order, checkout.Debits)
	if err != nil {
		s.logger.Error().Err(err).Str("session", actor.SessionID).Str("order_id", order.ID).Msg("order submit failed, draft kept")
		return domain.SubmitResponse{}, fmt.Errorf("submit order: %w", err)
	}
	td.draft.Clear()

	if s.metrics != nil {
		s.metrics.OrdersSubmitted.WithLabelValues("sale").Inc()
	}
	s.countRecords(records)
	s.changed(ctx, feed.Orders, feed.Inventory, feed.Products)
	s.logger.Info().
		Str("order_id", saved.ID).
		Str("by", actor.Email).
		Int64("final_amount", saved.FinalAmount).
		Str("payment_method", saved.PaymentMethod).
		Msg("order submitted")

	return domain.SubmitResponse{
		Orders:  []domain.Order{*saved},
		Records: records,
		Notice:  "order submitted",
	}, nil
}

// submitExpenses stores one order per draft expense. Expenses already stored
// when a later write fails are dropped from the draft so a retry does not
// record them twice.
func (s *Service) submitExpenses(ctx context.Context, actor domain.Actor, draft *composer.Draft, view domain.DraftView) (domain.SubmitResponse, error) {
	checkout, err := draft.Checkout(domain.PaymentExpense, s.newID, s.now().UTC())
	if err != nil {
		return domain.SubmitResponse{}, err
	}

	saved := make([]domain.Order, 0, len(checkout.Orders))
	for i, order := range checkout.Orders {
		created, _, err := s.repo.CreateOrder(ctx, order, nil)
		if err != nil {
			for _, done := range view.Expenses[:i] {
				_ = draft.RemoveExpense(done.ID)
			}
			if i > 0 {
				s.changed(ctx, feed.Orders)
			}
			s.logger.Error().Err(err).Str("session", actor.SessionID).Int("stored", i).Msg("expense submit failed, remaining draft kept")
			return domain.SubmitResponse{}, fmt.Errorf("submit expense: %w", err)
		}
		saved = append(saved, *created)
		if s.metrics != nil {
			s.metrics.OrdersSubmitted.WithLabelValues("expense").Inc()
		}
	}
	draft.Clear()

	s.changed(ctx, feed.Orders)
	s.logger.Info().Str("by", actor.Email).Int("count", len(saved)).Msg("expenses submitted")

	return domain.SubmitResponse{
		Orders: saved,
		Notice: fmt.Sprintf("%d expense(s) recorded", len(saved)),
	}, nil
}
