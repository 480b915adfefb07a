package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/domain"
	"github.com/prohmpiriya/booking-rush-10k-rps/backend-ticket-hold/internal/repository"
)

// eventWriter appends domain events to the outbox of the running transaction
type eventWriter struct {
	topic string
}

func (w eventWriter) hold(ctx context.Context, tx repository.Repository, t domain.EventType, h *domain.TicketHold, previous domain.HoldStatus, now time.Time) error {
	msg, err := domain.HoldOutboxEvent(t, h, previous, w.topic, now)
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", t, err)
	}
	return tx.InsertOutbox(ctx, msg)
}

func (w eventWriter) link(ctx context.Context, tx repository.Repository, t domain.EventType, l *domain.PurchaseLink, previous domain.LinkStatus, now time.Time) error {
	msg, err := domain.LinkOutboxEvent(t, l, previous, w.topic, now)
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", t, err)
	}
	return tx.InsertOutbox(ctx, msg)
}

func (w eventWriter) redemption(ctx context.Context, tx repository.Repository, p *domain.Purchase, now time.Time) error {
	msg, err := domain.RedemptionOutboxEvent(p, w.topic, now)
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", domain.EventRedemptionCommitted, err)
	}
	return tx.InsertOutbox(ctx, msg)
}
