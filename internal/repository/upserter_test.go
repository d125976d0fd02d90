package repository

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"blingsync/internal/database"
	apperrors "blingsync/internal/errors"
	"blingsync/internal/logger"
	"blingsync/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.New("sqlite://"+filepath.Join(t.TempDir(), "catalog.db"), database.Options{AutoMigrate: true})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db.DB
}

func testLogger() *logger.Logger {
	l, _ := logger.NewWithOptions(logger.Options{Level: "debug", Output: io.Discard})
	return l
}

// failCreates makes the next n INSERT statements on db fail.
func failCreates(t *testing.T, db *gorm.DB, n *int) {
	t.Helper()
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_create", func(tx *gorm.DB) {
		if *n > 0 {
			*n--
			tx.AddError(errors.New("injected failure"))
		}
	})
	if err != nil {
		t.Fatal(err)
	}
}

func product(id int64, name string) models.Product {
	return models.Product{IDBling: id, Codigo: "SKU", Nome: name, Preco: 10, Tipo: "P", Situacao: "A", Formato: "S"}
}

func TestUpsertIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	u := NewUpserter[models.Product](db, 200, testLogger())
	ctx := context.Background()

	records := []models.Product{product(1, "a"), product(2, "b"), product(3, "c")}
	for i := 0; i < 2; i++ {
		n, err := u.UpsertBatch(ctx, records, true)
		if err != nil || n != 3 {
			t.Fatalf("run %d: n=%d err=%v", i, n, err)
		}
	}

	var count int64
	db.Model(&models.Product{}).Count(&count)
	if count != 3 {
		t.Fatalf("rows = %d, want 3", count)
	}

	records[1].Nome = "b2"
	records[1].Preco = 12.5
	if _, err := u.UpsertBatch(ctx, records, true); err != nil {
		t.Fatal(err)
	}
	var got models.Product
	db.First(&got, "id_bling = ?", 2)
	if got.Nome != "b2" || got.Preco != 12.5 || got.DataAlteracao == nil {
		t.Fatalf("row 2 = %+v", got)
	}
}

func TestPlainUpsertKeepsDetailColumns(t *testing.T) {
	db := newTestDB(t)
	u := NewUpserter[models.Product](db, 200, testLogger())
	ctx := context.Background()

	full := product(7, "caneca")
	full.Imagem = "https://cdn.example/7.jpg"
	full.Largura = 10
	full.Categoria = "42"
	if _, err := u.UpsertBatch(ctx, []models.Product{full}, true); err != nil {
		t.Fatal(err)
	}

	listOnly := product(7, "renamed")
	listOnly.Estoque = 3
	if _, err := u.UpsertBatch(ctx, []models.Product{listOnly}, false); err != nil {
		t.Fatal(err)
	}

	var got models.Product
	db.First(&got, "id_bling = ?", 7)
	if got.Nome != "renamed" || got.Estoque != 3 {
		t.Fatalf("list columns not updated: %+v", got)
	}
	if got.Imagem != full.Imagem || got.Largura != 10 || got.Categoria != "42" {
		t.Fatalf("detail columns were clobbered: %+v", got)
	}
}

func TestPlainUpsertKeepsDetailTimestamp(t *testing.T) {
	db := newTestDB(t)
	u := NewUpserter[models.Product](db, 200, testLogger())
	ctx := context.Background()

	full := product(8, "prato")
	full.Imagem = "https://cdn.example/8.jpg"
	if _, err := u.UpsertBatch(ctx, []models.Product{full}, true); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-200 * time.Hour).UTC().Truncate(time.Second)
	db.Model(&models.Product{}).Where("id_bling = ?", 8).UpdateColumn("data_alteracao", old)

	if _, err := u.UpsertBatch(ctx, []models.Product{product(8, "prato fundo")}, false); err != nil {
		t.Fatal(err)
	}
	need, err := u.NeedsDetails(ctx, 8, 168*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !need {
		t.Fatal("a list-only update made a stale row look fresh")
	}

	if _, err := u.UpsertBatch(ctx, []models.Product{full}, true); err != nil {
		t.Fatal(err)
	}
	if need, _ := u.NeedsDetails(ctx, 8, 168*time.Hour); need {
		t.Fatal("an enriched write should reset the gate")
	}
}

func TestUpsertBatchCommitsInWindows(t *testing.T) {
	db := newTestDB(t)
	u := NewUpserter[models.Product](db, 200, testLogger())

	var committed []int
	u.OnCommit(func(ctx context.Context, records []models.Product) {
		committed = append(committed, len(records))
	})

	records := make([]models.Product, 450)
	for i := range records {
		records[i] = product(int64(i+1), "p")
	}
	n, err := u.UpsertBatch(context.Background(), records, false)
	if err != nil || n != 450 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if len(committed) != 3 || committed[0] != 200 || committed[2] != 50 {
		t.Fatalf("commit sizes = %v", committed)
	}
	if s := u.Stats(); s.Batches != 3 || s.Written != 450 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestFailedBatchIsRolledBackAndLaterBatchesContinue(t *testing.T) {
	db := newTestDB(t)
	u := NewUpserter[models.Product](db, 2, testLogger())

	// First window succeeds, second fails, third succeeds.
	fail := 0
	failCreates(t, db, &fail)
	u.OnCommit(func(ctx context.Context, records []models.Product) {
		if records[0].IDBling == 1 {
			fail = 1
		}
	})

	records := []models.Product{product(1, "a"), product(2, "b"), product(3, "c"), product(4, "d"), product(5, "e"), product(6, "f")}
	n, err := u.UpsertBatch(context.Background(), records, true)
	if !apperrors.Is(err, apperrors.ErrStorage) {
		t.Fatalf("expected STORAGE, got %v", err)
	}
	if n != 4 {
		t.Fatalf("written = %d, want 4", n)
	}

	var ids []int64
	db.Model(&models.Product{}).Order("id_bling").Pluck("id_bling", &ids)
	if len(ids) != 4 || ids[0] != 1 || ids[1] != 2 || ids[2] != 5 || ids[3] != 6 {
		t.Fatalf("stored ids = %v, want [1 2 5 6]", ids)
	}
	if s := u.Stats(); s.Failed != 2 || s.FailedBatches != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestConsecutiveFailuresAbort(t *testing.T) {
	db := newTestDB(t)
	u := NewUpserter[models.Product](db, 1, testLogger())
	fail := 100
	failCreates(t, db, &fail)

	records := make([]models.Product, 8)
	for i := range records {
		records[i] = product(int64(i+1), "p")
	}
	_, err := u.UpsertBatch(context.Background(), records, true)
	if !apperrors.Is(err, apperrors.ErrPersistence) {
		t.Fatalf("expected PERSISTENCE, got %v", err)
	}
	if s := u.Stats(); s.FailedBatches != 3 {
		t.Fatalf("failed batches = %d, want 3", s.FailedBatches)
	}
}

func TestAddFlushesFullBatches(t *testing.T) {
	db := newTestDB(t)
	u := NewUpserter[models.Customer](db, 2, testLogger())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		c := models.Customer{ID: int64(i), Nome: "CLIENTE", Situacao: "A"}
		if err := u.Add(ctx, c, i%2 == 0); err != nil {
			t.Fatal(err)
		}
	}
	if s := u.Stats(); s.Batches != 2 || s.Written != 4 {
		t.Fatalf("after Add: %+v", s)
	}
	if err := u.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if err := u.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	var count int64
	db.Model(&models.Customer{}).Count(&count)
	if count != 5 || u.Stats().Batches != 3 {
		t.Fatalf("rows = %d, stats = %+v", count, u.Stats())
	}
}

func TestFlushKeepsLastRecordPerID(t *testing.T) {
	db := newTestDB(t)
	u := NewUpserter[models.Product](db, 200, testLogger())
	ctx := context.Background()

	var committed []models.Product
	u.OnCommit(func(ctx context.Context, records []models.Product) {
		committed = append(committed, records...)
	})

	// Pages shifted between requests, so id 4 shows up twice in one window.
	for _, p := range []models.Product{product(4, "old"), product(5, "e"), product(4, "new")} {
		if err := u.Add(ctx, p, false); err != nil {
			t.Fatal(err)
		}
	}
	if err := u.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	if len(committed) != 2 || u.Stats().Written != 2 {
		t.Fatalf("committed %d records, stats %+v", len(committed), u.Stats())
	}
	var got models.Product
	db.First(&got, "id_bling = ?", 4)
	if got.Nome != "new" {
		t.Fatalf("row 4 = %q, want the last record", got.Nome)
	}
}

func TestNeedsDetails(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	maxAge := 168 * time.Hour
	ts := func(ago time.Duration) *time.Time {
		v := now.Add(-ago)
		return &v
	}

	tests := []struct {
		name  string
		f     Freshness
		found bool
		want  bool
	}{
		{"missing row", Freshness{}, false, true},
		{"empty image", Freshness{Enrichment: "", ModifiedAt: ts(time.Hour)}, true, true},
		{"null timestamp", Freshness{Enrichment: "a.jpg"}, true, true},
		{"stale", Freshness{Enrichment: "a.jpg", ModifiedAt: ts(200 * time.Hour)}, true, true},
		{"fresh", Freshness{Enrichment: "a.jpg", ModifiedAt: ts(time.Hour)}, true, false},
		{"placeholder image is not empty", Freshness{Enrichment: models.PlaceholderImage, ModifiedAt: ts(time.Hour)}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsDetails(tt.f, tt.found, now, maxAge); got != tt.want {
				t.Errorf("NeedsDetails = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSnapshotReflectsStoredRows(t *testing.T) {
	db := newTestDB(t)
	u := NewUpserter[models.Product](db, 200, testLogger())
	ctx := context.Background()

	withImage := product(1, "a")
	withImage.Imagem = "a.jpg"
	if _, err := u.UpsertBatch(ctx, []models.Product{withImage}, true); err != nil {
		t.Fatal(err)
	}
	if _, err := u.UpsertBatch(ctx, []models.Product{product(2, "b")}, false); err != nil {
		t.Fatal(err)
	}

	// Age row 1 past the limit.
	old := time.Now().Add(-200 * time.Hour)
	db.Model(&models.Product{}).Where("id_bling = ?", 1).UpdateColumn("data_alteracao", old)

	snap, err := u.Snapshot(ctx, []int64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 || snap[1].Enrichment != "a.jpg" || snap[1].ModifiedAt == nil {
		t.Fatalf("snapshot = %+v", snap)
	}

	for id, want := range map[int64]bool{1: true, 2: true, 3: true} {
		got, err := u.NeedsDetails(ctx, id, 168*time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("NeedsDetails(%d) = %v, want %v", id, got, want)
		}
	}

	db.Model(&models.Product{}).Where("id_bling = ?", 1).UpdateColumn("data_alteracao", time.Now().Add(-time.Hour))
	if got, _ := u.NeedsDetails(ctx, 1, 168*time.Hour); got {
		t.Errorf("a row refreshed an hour ago should not need details")
	}
}

func TestRunLog(t *testing.T) {
	db := newTestDB(t)
	log := NewRunLog(db)
	ctx := context.Background()

	run, err := log.Start(ctx, "products", "cli")
	if err != nil {
		t.Fatal(err)
	}
	if run.ID == "" || run.Status != models.SyncRunRunning {
		t.Fatalf("run = %+v", run)
	}

	run.Status = models.SyncRunPartial
	run.Written = 10
	if err := log.Finish(run); err != nil {
		t.Fatal(err)
	}
	if _, err := log.Start(ctx, "contacts", "cli"); err != nil {
		t.Fatal(err)
	}

	runs, err := log.Recent(ctx, "products", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != models.SyncRunPartial || runs[0].Written != 10 || runs[0].FinishedAt == nil {
		t.Fatalf("runs = %+v", runs)
	}
}
