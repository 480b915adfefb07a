package metrics

import (
	"context"
	"testing"
)

func TestRecordersAreSafeBeforeInit(t *testing.T) {
	ctx := context.Background()
	RecordHoldCreated(ctx, 1, 2)
	RecordRedemption(ctx, 3, 0.01)
	RecordSweep(ctx, 1, 1, 0.5)
}

func TestInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if HoldsCreated == nil || RedemptionDuration == nil || SweepDuration == nil {
		t.Fatal("Init() left instruments unset")
	}
	RecordOutboxPublished(context.Background(), "hold.created")
}
