package history

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleBuild(id string, when time.Time, success bool) BuildRecord {
	return BuildRecord{
		ID:         id,
		Tag:        "v1.0.0",
		Branch:     "main",
		Success:    success,
		StartedAt:  when,
		FinishedAt: when.Add(90 * time.Second),
		Jobs: []JobRecord{
			{ID: id + "-j1", Runtime: "1.23", Success: true, Duration: 40 * time.Second},
			{ID: id + "-j2", Runtime: "1.24", Success: success, FailedStage: failedStage(success), Duration: 50 * time.Second},
		},
	}
}

func failedStage(success bool) string {
	if success {
		return ""
	}
	return "script"
}

func TestStore_RecordAndGet(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.RecordBuild(sampleBuild("b-1", now, false)); err != nil {
		t.Fatalf("RecordBuild failed: %v", err)
	}

	got, err := s.GetBuild("b-1")
	if err != nil {
		t.Fatalf("GetBuild failed: %v", err)
	}
	if got.Success {
		t.Error("expected failed build")
	}
	if got.Tag != "v1.0.0" || got.Branch != "main" {
		t.Errorf("unexpected build metadata: %+v", got)
	}
	if len(got.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(got.Jobs))
	}
	// Jobs ordered by runtime.
	if got.Jobs[0].Runtime != "1.23" || got.Jobs[1].Runtime != "1.24" {
		t.Errorf("unexpected job order: %+v", got.Jobs)
	}
	if got.Jobs[1].FailedStage != "script" {
		t.Errorf("expected failed stage recorded, got %q", got.Jobs[1].FailedStage)
	}
	if got.Jobs[1].Duration != 50*time.Second {
		t.Errorf("duration did not round-trip: %v", got.Jobs[1].Duration)
	}
}

func TestStore_RecentBuilds(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		b := sampleBuild(
			string(rune('a'+i))+"-build",
			base.Add(time.Duration(i)*time.Minute),
			i%2 == 0,
		)
		if err := s.RecordBuild(b); err != nil {
			t.Fatalf("RecordBuild failed: %v", err)
		}
	}

	recent, err := s.RecentBuilds(3)
	if err != nil {
		t.Fatalf("RecentBuilds failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 builds, got %d", len(recent))
	}
	// Newest first.
	if recent[0].ID != "e-build" {
		t.Errorf("expected newest build first, got %s", recent[0].ID)
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].StartedAt.After(recent[i-1].StartedAt) {
			t.Error("builds not sorted newest-first")
		}
	}
}

func TestStore_GetBuild_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetBuild("missing"); err == nil {
		t.Error("expected error for missing build")
	}
}

func TestStore_DuplicateBuildID(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	if err := s.RecordBuild(sampleBuild("dup", now, true)); err != nil {
		t.Fatalf("first RecordBuild failed: %v", err)
	}
	if err := s.RecordBuild(sampleBuild("dup", now, true)); err == nil {
		t.Error("expected primary key violation for duplicate build id")
	}
}
