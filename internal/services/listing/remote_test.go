package listing

import (
	"context"
	"testing"
	"time"

	"github.com/rajivgeraev/flippy-market/internal/errs"
	"github.com/rajivgeraev/flippy-market/internal/models"
	"github.com/rajivgeraev/flippy-market/internal/realtime"
)

func waitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(2 * time.Second):
		t.Fatalf("snapshot not delivered")
		return nil
	}
}

func TestBusCollectionDeliversSnapshots(t *testing.T) {
	store := newMemStore(
		models.Listing{ID: "a", Category: "cars"},
		models.Listing{ID: "b", Category: "bikes"},
	)
	bus := realtime.NewLocalBus()
	coll := NewBusCollection(store, bus, nil)

	snaps := make(chan Snapshot, 8)
	errCh := make(chan error, 8)
	sub, err := coll.Subscribe(context.Background(), Scope{Category: "cars"},
		func(s Snapshot) { snaps <- s },
		func(err error) { errCh <- err })
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	first := waitSnapshot(t, snaps)
	if len(first) != 1 || first["a"].ID != "a" {
		t.Fatalf("first snapshot = %v", first)
	}

	_ = store.Create(context.Background(), &models.Listing{ID: "c", Category: "cars"})
	_ = bus.Publish(realtime.SubjectListingsChanged, models.ListingChange{ListingID: "c", Category: "cars"})
	second := waitSnapshot(t, snaps)
	if len(second) != 2 {
		t.Fatalf("second snapshot = %v", second)
	}

	bus.Connectivity().Set(false)
	select {
	case err := <-errCh:
		if !errs.Is(err, errs.KindTransient) {
			t.Fatalf("err kind = %v", errs.KindOf(err))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("disconnect not reported")
	}
	bus.Connectivity().Set(true)
	waitSnapshot(t, snaps)

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	_ = bus.Publish(realtime.SubjectListingsChanged, models.ListingChange{Category: "cars"})
	select {
	case snap := <-snaps:
		t.Fatalf("snapshot after Unsubscribe: %v", snap)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusCollectionIgnoresOtherCategories(t *testing.T) {
	store := newMemStore(models.Listing{ID: "a", Category: "cars"})
	bus := realtime.NewLocalBus()
	coll := NewBusCollection(store, bus, nil)

	snaps := make(chan Snapshot, 8)
	sub, err := coll.Subscribe(context.Background(), Scope{Category: "cars"},
		func(s Snapshot) { snaps <- s }, func(error) {})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	waitSnapshot(t, snaps)

	_ = bus.Publish(realtime.SubjectListingsChanged, models.ListingChange{Category: "bikes"})
	select {
	case snap := <-snaps:
		t.Fatalf("unexpected snapshot: %v", snap)
	case <-time.After(50 * time.Millisecond):
	}

	// Перенос из "cars" в другую категорию касается подписчиков "cars"
	_ = bus.Publish(realtime.SubjectListingsChanged, models.ListingChange{Category: "bikes", PrevCategory: "cars"})
	waitSnapshot(t, snaps)
}

func TestSynchronizerOverBusCollection(t *testing.T) {
	store := newMemStore(
		models.Listing{ID: "a", Category: "cars", City: "Lahore"},
		models.Listing{ID: "b", Category: "cars", City: "Karachi"},
	)
	bus := realtime.NewLocalBus()
	views := make(chan View, 16)
	s := NewSynchronizer(NewBusCollection(store, bus, nil), nil, func(v View) { views <- v })

	tok, err := s.Start(context.Background(), Scope{Category: "cars"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for len(s.View().Listings) != 2 {
		select {
		case <-views:
		case <-deadline:
			t.Fatalf("initial snapshot not applied")
		}
	}

	if got := ids(s.SetFilter(Criteria{City: "Karachi"})); !sameIDs(got, "b") {
		t.Fatalf("view = %v", got)
	}
	if err := s.Stop(tok); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
