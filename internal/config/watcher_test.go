package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfig(t *testing.T, path, token string) {
	t.Helper()
	data := "discord:\n  token: " + token + "\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blare.yml")
	writeConfig(t, path, "tok-1")

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Discord.Token; got != "tok-1" {
		t.Errorf("Current token = %q, want tok-1", got)
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blare.yml")
	writeConfig(t, path, "tok-1")

	var mu sync.Mutex
	var gotOld, gotNew string
	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		gotOld, gotNew = old.Discord.Token, new.Discord.Token
		mu.Unlock()
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Force a different mtime on coarse-grained filesystems.
	time.Sleep(20 * time.Millisecond)
	writeConfig(t, path, "tok-2")
	future := time.Now().Add(time.Second)
	_ = os.Chtimes(path, future, future)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().Discord.Token == "tok-2" {
			mu.Lock()
			defer mu.Unlock()
			if gotOld != "tok-1" || gotNew != "tok-2" {
				t.Errorf("onChange saw %q → %q", gotOld, gotNew)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("watcher never picked up the change")
}

func TestWatcherKeepsOldConfigOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blare.yml")
	writeConfig(t, path, "tok-1")

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("discord: ["), 0o600); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Second)
	_ = os.Chtimes(path, future, future)

	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Discord.Token; got != "tok-1" {
		t.Errorf("Current token = %q, want the last valid config", got)
	}
}
