package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcher_FiresOnSettledWrite(t *testing.T) {
	tmp := t.TempDir()
	target := filepath.Join(tmp, ".gantry.yml")
	if err := os.WriteFile(target, []byte("script: [true]\n"), 0644); err != nil {
		t.Fatalf("write target: %v", err)
	}

	var mu sync.Mutex
	var fired []string
	w, err := NewWatcher([]string{tmp}, func(path string) {
		mu.Lock()
		fired = append(fired, path)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.debounceDur = 50 * time.Millisecond

	w.Start(context.Background())
	defer w.Stop()

	// A burst of writes should collapse into one callback.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(target, []byte("script: [true]\n"), 0644); err != nil {
			t.Fatalf("rewrite target: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := len(fired)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Allow any stragglers to land, then check the burst collapsed.
	time.Sleep(300 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 {
		t.Errorf("expected 1 debounced callback, got %d", len(fired))
	}
	if fired[0] != target {
		t.Errorf("expected callback for %s, got %s", target, fired[0])
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := NewWatcher([]string{t.TempDir()}, func(string) {})
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}

func TestWatcher_BadPath(t *testing.T) {
	if _, err := NewWatcher([]string{"/does/not/exist"}, func(string) {}); err == nil {
		t.Error("expected error for missing watch path")
	}
}
