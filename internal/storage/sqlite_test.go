package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

// TestIndexesExist verifies the submissions index is created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", "idx_submissions_created_at").Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	if count != 1 {
		t.Error("index idx_submissions_created_at not found")
	}
}

func TestSaveAndGetSubmission(t *testing.T) {
	s := openTestStore(t)

	created := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	if err := s.SaveSubmission(Submission{ID: "sub-1", CreatedAt: created, EvidenceKind: "url"}); err != nil {
		t.Fatalf("SaveSubmission: %v", err)
	}

	got, err := s.GetSubmission("sub-1")
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.EvidenceKind != "url" {
		t.Errorf("EvidenceKind = %q", got.EvidenceKind)
	}
	if !got.FinishedAt.IsZero() {
		t.Errorf("FinishedAt = %v, want zero", got.FinishedAt)
	}
}

func TestGetSubmission_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetSubmission("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCompleteAndFailSubmission(t *testing.T) {
	s := openTestStore(t)
	finished := time.Date(2024, 3, 5, 14, 8, 0, 0, time.UTC)
	s.now = func() time.Time { return finished }

	for _, id := range []string{"ok", "bad"} {
		if err := s.SaveSubmission(Submission{ID: id}); err != nil {
			t.Fatalf("SaveSubmission(%s): %v", id, err)
		}
	}

	if err := s.CompleteSubmission("ok", "ErrorReports!A7:E7"); err != nil {
		t.Fatalf("CompleteSubmission: %v", err)
	}
	if err := s.FailSubmission("bad", "permission denied"); err != nil {
		t.Fatalf("FailSubmission: %v", err)
	}

	ok, _ := s.GetSubmission("ok")
	if ok.Status != StatusAppended || ok.UpdatedRange != "ErrorReports!A7:E7" || !ok.FinishedAt.Equal(finished) {
		t.Errorf("ok = %+v", ok)
	}
	bad, _ := s.GetSubmission("bad")
	if bad.Status != StatusFailed || bad.Error != "permission denied" {
		t.Errorf("bad = %+v", bad)
	}

	if err := s.CompleteSubmission("missing", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteSubmission(missing) = %v, want ErrNotFound", err)
	}
}

func TestListSubmissions_NewestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		sub := Submission{ID: fmt.Sprintf("sub-%d", i), CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.SaveSubmission(sub); err != nil {
			t.Fatalf("SaveSubmission: %v", err)
		}
	}

	page, err := s.ListSubmissions(2, 0)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(page) != 2 || page[0].ID != "sub-4" || page[1].ID != "sub-3" {
		t.Fatalf("first page = %v", ids(page))
	}

	page, err = s.ListSubmissions(10, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != "sub-1" || page[1].ID != "sub-0" {
		t.Errorf("offset page = %v", ids(page))
	}
}

func TestCountSubmissions(t *testing.T) {
	s := openTestStore(t)
	s.SaveSubmission(Submission{ID: "a"})
	s.SaveSubmission(Submission{ID: "b"})
	s.SaveSubmission(Submission{ID: "c"})
	s.CompleteSubmission("a", "X!A1:E1")
	s.FailSubmission("b", "boom")

	counts, err := s.CountSubmissions()
	if err != nil {
		t.Fatalf("CountSubmissions: %v", err)
	}
	if counts[StatusAppended] != 1 || counts[StatusFailed] != 1 || counts[StatusPending] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestFailStaleAndPrune(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	old := now.Add(-48 * time.Hour)
	s.SaveSubmission(Submission{ID: "old-pending", CreatedAt: old})
	s.SaveSubmission(Submission{ID: "old-done", CreatedAt: old})
	s.CompleteSubmission("old-done", "X!A2:E2")
	s.SaveSubmission(Submission{ID: "fresh", CreatedAt: now.Add(-time.Minute)})

	n, err := s.FailStaleSubmissions(now.Add(-time.Hour), "interrupted")
	if err != nil || n != 1 {
		t.Fatalf("FailStaleSubmissions = %d, %v, want 1", n, err)
	}
	if sub, _ := s.GetSubmission("old-pending"); sub.Status != StatusFailed || sub.Error != "interrupted" {
		t.Errorf("old-pending = %+v", sub)
	}
	if sub, _ := s.GetSubmission("fresh"); sub.Status != StatusPending {
		t.Errorf("fresh should stay pending, got %q", sub.Status)
	}

	n, err = s.PruneSubmissions(now.Add(-24 * time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("PruneSubmissions = %d, %v, want 2", n, err)
	}
	if _, err := s.GetSubmission("fresh"); err != nil {
		t.Errorf("fresh should survive pruning: %v", err)
	}
}

func ids(subs []Submission) []string {
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.ID
	}
	return out
}
