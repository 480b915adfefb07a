package metrics

import (
	"context"
	"sync"

	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// Hold and link lifecycle counters
	HoldsCreated    *telemetry.Counter
	HoldTransitions *telemetry.Counter
	LinksCreated    *telemetry.Counter
	LinkTransitions *telemetry.Counter
	LinkAccesses    *telemetry.Counter
	CodeCollisions  *telemetry.Counter

	// Redemption counters
	RedemptionsCommitted *telemetry.Counter
	RedemptionsRejected  *telemetry.Counter
	TicketsRedeemed      *telemetry.Counter

	// Worker counters
	SweptTotal       *telemetry.Counter
	OutboxPublished  *telemetry.Counter
	OutboxFailed     *telemetry.Counter
	OutboxDeadLetter *telemetry.Counter

	// Histograms
	RedemptionDuration *telemetry.Histogram
	SweepDuration      *telemetry.Histogram

	initOnce sync.Once
	initErr  error
)

// Init registers every instrument on the global meter provider
func Init() error {
	initOnce.Do(func() {
		initErr = initMetrics()
	})
	return initErr
}

func initMetrics() error {
	counters := []struct {
		target **telemetry.Counter
		opts   telemetry.MetricOpts
	}{
		{&HoldsCreated, telemetry.MetricOpts{Name: "ticket_hold_created_total", Description: "Ticket holds created", Unit: "1"}},
		{&HoldTransitions, telemetry.MetricOpts{Name: "ticket_hold_transitions_total", Description: "Ticket hold status transitions", Unit: "1"}},
		{&LinksCreated, telemetry.MetricOpts{Name: "purchase_link_created_total", Description: "Purchase links issued", Unit: "1"}},
		{&LinkTransitions, telemetry.MetricOpts{Name: "purchase_link_transitions_total", Description: "Purchase link status transitions", Unit: "1"}},
		{&LinkAccesses, telemetry.MetricOpts{Name: "purchase_link_accesses_total", Description: "Purchase link views", Unit: "1"}},
		{&CodeCollisions, telemetry.MetricOpts{Name: "purchase_link_code_collisions_total", Description: "Generated link codes that were already taken", Unit: "1"}},
		{&RedemptionsCommitted, telemetry.MetricOpts{Name: "redemptions_committed_total", Description: "Committed redemptions", Unit: "1"}},
		{&RedemptionsRejected, telemetry.MetricOpts{Name: "redemptions_rejected_total", Description: "Rejected redemption attempts", Unit: "1"}},
		{&TicketsRedeemed, telemetry.MetricOpts{Name: "tickets_redeemed_total", Description: "Tickets redeemed through purchase links", Unit: "1"}},
		{&SweptTotal, telemetry.MetricOpts{Name: "expiry_sweeper_expired_total", Description: "Holds and links expired by the sweeper", Unit: "1"}},
		{&OutboxPublished, telemetry.MetricOpts{Name: "outbox_published_total", Description: "Outbox messages published", Unit: "1"}},
		{&OutboxFailed, telemetry.MetricOpts{Name: "outbox_failed_total", Description: "Outbox publish failures", Unit: "1"}},
		{&OutboxDeadLetter, telemetry.MetricOpts{Name: "outbox_dead_letter_total", Description: "Outbox messages sent to the dead letter topic", Unit: "1"}},
	}
	for _, c := range counters {
		counter, err := telemetry.NewCounter(c.opts)
		if err != nil {
			return err
		}
		*c.target = counter
	}

	var err error
	RedemptionDuration, err = telemetry.NewHistogram(telemetry.MetricOpts{
		Name:        "redemption_duration_seconds",
		Description: "Time to validate and commit a redemption",
		Unit:        "s",
	})
	if err != nil {
		return err
	}

	SweepDuration, err = telemetry.NewHistogram(telemetry.MetricOpts{
		Name:        "expiry_sweep_duration_seconds",
		Description: "Duration of one sweeper run",
		Unit:        "s",
	})
	return err
}

// RecordHoldCreated records a new hold
func RecordHoldCreated(ctx context.Context, eventOccurrenceID int64, allocations int) {
	HoldsCreated.Inc(ctx,
		attribute.Int64("event_occurrence_id", eventOccurrenceID),
		attribute.Int("allocations", allocations),
	)
}

// RecordHoldTransition records a hold entering status
func RecordHoldTransition(ctx context.Context, status string) {
	HoldTransitions.Inc(ctx, attribute.String("status", status))
}

func RecordLinkCreated(ctx context.Context, quantityMode string) {
	LinksCreated.Inc(ctx, attribute.String("quantity_mode", quantityMode))
}

// RecordLinkTransition records a link entering status
func RecordLinkTransition(ctx context.Context, status string) {
	LinkTransitions.Inc(ctx, attribute.String("status", status))
}

func RecordLinkAccess(ctx context.Context) {
	LinkAccesses.Inc(ctx)
}

func RecordCodeCollision(ctx context.Context) {
	CodeCollisions.Inc(ctx)
}

// RecordRedemption records a committed redemption and its latency
func RecordRedemption(ctx context.Context, tickets int, durationSeconds float64) {
	RedemptionsCommitted.Inc(ctx)
	TicketsRedeemed.Add(ctx, int64(tickets))
	RedemptionDuration.Record(ctx, durationSeconds, attribute.String("outcome", "committed"))
}

// RecordRejection records a rejected attempt by error code
func RecordRejection(ctx context.Context, reason string, durationSeconds float64) {
	RedemptionsRejected.Inc(ctx, attribute.String("reason", reason))
	RedemptionDuration.Record(ctx, durationSeconds, attribute.String("outcome", "rejected"))
}

// RecordSweep records one sweeper run
func RecordSweep(ctx context.Context, holds, links int, durationSeconds float64) {
	SweptTotal.Add(ctx, int64(holds), attribute.String("kind", "hold"))
	SweptTotal.Add(ctx, int64(links), attribute.String("kind", "link"))
	SweepDuration.Record(ctx, durationSeconds)
}

func RecordOutboxPublished(ctx context.Context, eventType string) {
	OutboxPublished.Inc(ctx, attribute.String("event_type", eventType))
}

func RecordOutboxFailed(ctx context.Context, eventType string) {
	OutboxFailed.Inc(ctx, attribute.String("event_type", eventType))
}

func RecordOutboxDeadLetter(ctx context.Context, eventType string) {
	OutboxDeadLetter.Inc(ctx, attribute.String("event_type", eventType))
}
