package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"unsbroker/datapoint"
)

type fakeHistorical struct {
	appended []*datapoint.DataPoint
	failNext bool
}

func (f *fakeHistorical) Append(ctx context.Context, dp *datapoint.DataPoint) error {
	if f.failNext {
		f.failNext = false
		return errors.New("boom")
	}
	f.appended = append(f.appended, dp)
	return nil
}

func TestHandleWritesRealtimeAndHistorical(t *testing.T) {
	ctx := context.Background()
	realtime := NewMemRealtimeValueStore()
	hist := &fakeHistorical{}
	sink := New(realtime, hist, nil)

	dp := &datapoint.DataPoint{Topic: "t1", Value: datapoint.Int64Value(5), Timestamp: time.Now()}
	sink.Handle(ctx, dp)

	got, ok := realtime.GetLatest(ctx, "t1")
	if !ok || got.Value.Int64 != 5 {
		t.Fatalf("GetLatest = %+v, %v", got, ok)
	}
	if len(hist.appended) != 1 {
		t.Fatalf("historical append count = %d, want 1", len(hist.appended))
	}
}

func TestHandleDeduplicatesLatestByTopic(t *testing.T) {
	ctx := context.Background()
	realtime := NewMemRealtimeValueStore()
	sink := New(realtime, nil, nil)

	sink.Handle(ctx, &datapoint.DataPoint{Topic: "t1", Value: datapoint.Int64Value(1)})
	sink.Handle(ctx, &datapoint.DataPoint{Topic: "t1", Value: datapoint.Int64Value(2)})

	got, ok := realtime.GetLatest(ctx, "t1")
	if !ok || got.Value.Int64 != 2 {
		t.Fatalf("GetLatest = %+v, want Int64Value(2)", got)
	}
}

func TestHandleHistoricalFailureDoesNotAffectRealtimeWrite(t *testing.T) {
	ctx := context.Background()
	realtime := NewMemRealtimeValueStore()
	hist := &fakeHistorical{failNext: true}
	sink := New(realtime, hist, nil)

	dp := &datapoint.DataPoint{Topic: "t1", Value: datapoint.Int64Value(9)}
	sink.Handle(ctx, dp)

	got, ok := realtime.GetLatest(ctx, "t1")
	if !ok || got.Value.Int64 != 9 {
		t.Fatalf("GetLatest = %+v, %v, want present despite historical failure", got, ok)
	}
}
