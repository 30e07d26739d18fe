package dedup

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/firesentinel/firesentinel/internal/config"
	"github.com/firesentinel/firesentinel/internal/models"
	"github.com/firesentinel/firesentinel/internal/store"
)

func setupEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewEngine(st, config.Default().Dedup), st
}

func hotspot(source models.Source, lat, lon float64, acqDate string, acqTime int) models.Hotspot {
	return models.Hotspot{
		Source:     source,
		Latitude:   lat,
		Longitude:  lon,
		Brightness: 330,
		FRP:        10,
		Confidence: "n",
		Satellite:  "N",
		AcqDate:    acqDate,
		AcqTime:    acqTime,
		DayNight:   models.DetectionDay,
	}
}

func TestMinuteDiff(t *testing.T) {
	tests := []struct {
		a, b, want int
	}{
		{240, 240, 0},
		{240, 250, 10},
		{250, 240, 10},
		{1435, 5, 10}, // 23:55 vs 00:05 across midnight
		{5, 1435, 10},
		{0, 720, 720}, // exactly half a day
		{0, 721, 719},
	}
	for _, tt := range tests {
		if got := minuteDiff(tt.a, tt.b); got != tt.want {
			t.Errorf("minuteDiff(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDeduplicate_FreshBatch(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	batch := []models.Hotspot{
		hotspot(models.SourceVIIRSSNPP, -36.794, 146.977, "2026-01-15", 240),
		hotspot(models.SourceVIIRSSNPP, -36.850, 147.050, "2026-01-15", 240),
	}
	fresh, err := e.Deduplicate(ctx, batch)
	if err != nil {
		t.Fatalf("Deduplicate: %v", err)
	}
	if len(fresh) != 2 {
		t.Errorf("len(fresh) = %d, want 2", len(fresh))
	}
}

func TestDeduplicate_AgainstStored(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	seed := []models.Hotspot{hotspot(models.SourceVIIRSSNPP, -36.794, 146.977, "2026-01-15", 240)}
	if _, err := e.Store(ctx, seed); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// ~500m away, 10 minutes later: duplicate.
	near := hotspot(models.SourceVIIRSSNPP, -36.7985, 146.977, "2026-01-15", 250)
	// Same place, 40 minutes later: outside temporal tolerance.
	late := hotspot(models.SourceVIIRSSNPP, -36.794, 146.977, "2026-01-15", 280)
	// Same place and time, different source: kept.
	otherSource := hotspot(models.SourceMODIS, -36.794, 146.977, "2026-01-15", 240)
	// Same place and time, different date: kept.
	otherDate := hotspot(models.SourceVIIRSSNPP, -36.794, 146.977, "2026-01-16", 240)

	fresh, err := e.Deduplicate(ctx, []models.Hotspot{near, late, otherSource, otherDate})
	if err != nil {
		t.Fatalf("Deduplicate: %v", err)
	}
	if len(fresh) != 3 {
		t.Fatalf("len(fresh) = %d, want 3", len(fresh))
	}
	for _, h := range fresh {
		if h.Latitude == near.Latitude && h.Source == near.Source && h.AcqTime == near.AcqTime {
			t.Error("near-duplicate survived deduplication")
		}
	}
}

func TestDeduplicate_Idempotent(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	batch := []models.Hotspot{
		hotspot(models.SourceVIIRSSNPP, -36.794, 146.977, "2026-01-15", 240),
		hotspot(models.SourceVIIRSSNPP, -36.850, 147.050, "2026-01-15", 245),
		hotspot(models.SourceMODIS, -36.794, 146.977, "2026-01-15", 600),
	}
	fresh, err := e.Deduplicate(ctx, batch)
	if err != nil {
		t.Fatalf("first Deduplicate: %v", err)
	}
	if len(fresh) != 3 {
		t.Fatalf("first pass len = %d, want 3", len(fresh))
	}
	if _, err := e.Store(ctx, fresh); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// The identical batch again yields nothing new.
	again, err := e.Deduplicate(ctx, batch)
	if err != nil {
		t.Fatalf("second Deduplicate: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second pass len = %d, want 0", len(again))
	}
}

func TestDeduplicate_KeepsIntraBatchNeighbors(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	// Five detections from one overpass, a few hundred metres and
	// minutes apart. They are distinct observations of the same fire:
	// all must survive so clustering can group them into one event.
	batch := []models.Hotspot{
		hotspot(models.SourceVIIRSSNPP, -36.7940, 146.9770, "2026-01-15", 240),
		hotspot(models.SourceVIIRSSNPP, -36.7945, 146.9775, "2026-01-15", 242),
		hotspot(models.SourceVIIRSSNPP, -36.7950, 146.9765, "2026-01-15", 244),
		hotspot(models.SourceVIIRSSNPP, -36.7935, 146.9780, "2026-01-15", 246),
		hotspot(models.SourceVIIRSSNPP, -36.7942, 146.9772, "2026-01-15", 248),
	}
	fresh, err := e.Deduplicate(ctx, batch)
	if err != nil {
		t.Fatalf("Deduplicate: %v", err)
	}
	if len(fresh) != 5 {
		t.Fatalf("len(fresh) = %d, want 5 (batch members never dedup each other)", len(fresh))
	}
}

func TestDeduplicate_InclusiveBoundaries(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	base := hotspot(models.SourceVIIRSSNPP, -36.794, 146.977, "2026-01-15", 240)
	if _, err := e.Store(ctx, []models.Hotspot{base}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// Exactly at the temporal tolerance (30 min): still a duplicate.
	atTemporal := hotspot(models.SourceVIIRSSNPP, -36.794, 146.977, "2026-01-15", 270)
	fresh, err := e.Deduplicate(ctx, []models.Hotspot{atTemporal})
	if err != nil {
		t.Fatalf("Deduplicate: %v", err)
	}
	if len(fresh) != 0 {
		t.Error("pair exactly at temporal tolerance kept, want duplicate")
	}

	// Just past it: kept.
	pastTemporal := hotspot(models.SourceVIIRSSNPP, -36.794, 146.977, "2026-01-15", 271)
	fresh, err = e.Deduplicate(ctx, []models.Hotspot{pastTemporal})
	if err != nil {
		t.Fatalf("Deduplicate: %v", err)
	}
	if len(fresh) != 1 {
		t.Error("pair past temporal tolerance deduplicated, want kept")
	}
}

func TestDeduplicate_MidnightWraparound(t *testing.T) {
	e, _ := setupEngine(t)
	ctx := context.Background()

	// 23:55 stored; 00:05 candidate on the same acq_date (swath
	// timestamps wrap within a file's date).
	base := hotspot(models.SourceVIIRSSNPP, -36.794, 146.977, "2026-01-15", 1435)
	if _, err := e.Store(ctx, []models.Hotspot{base}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	wrapped := hotspot(models.SourceVIIRSSNPP, -36.794, 146.977, "2026-01-15", 5)
	fresh, err := e.Deduplicate(ctx, []models.Hotspot{wrapped})
	if err != nil {
		t.Fatalf("Deduplicate: %v", err)
	}
	if len(fresh) != 0 {
		t.Error("cross-midnight pair 10 minutes apart kept, want duplicate")
	}
}

func TestStore_AssignsIDs(t *testing.T) {
	e, st := setupEngine(t)
	ctx := context.Background()

	stored, err := e.Store(ctx, []models.Hotspot{
		hotspot(models.SourceVIIRSSNPP, -36.794, 146.977, "2026-01-15", 240),
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if stored[0].ID == "" {
		t.Error("ID not assigned")
	}
	if stored[0].IngestedAt.IsZero() {
		t.Error("IngestedAt not assigned")
	}

	n, err := st.CountHotspots(ctx)
	if err != nil {
		t.Fatalf("CountHotspots: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}
