package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// TestGateChargesOncePerAction N次计费后计数恰好加N，到上限即拒绝
func TestGateChargesOncePerAction(t *testing.T) {
	g := NewGate(NewMemStore())

	for i := 0; i < MaxFreeGenerations; i++ {
		if err := g.Allow(); err != nil {
			t.Fatalf("action %d denied early: %v", i, err)
		}
		g.Charge()
	}
	if g.Count() != MaxFreeGenerations {
		t.Fatalf("count = %d, want %d", g.Count(), MaxFreeGenerations)
	}
	if err := g.Allow(); !errors.Is(err, ErrLimitReached) {
		t.Fatalf("Allow after limit = %v, want ErrLimitReached", err)
	}
	if g.Remaining() != 0 {
		t.Fatalf("remaining = %d, want 0", g.Remaining())
	}
}

// TestGateUnlockBypasses 自有key后不计数也不拒绝
func TestGateUnlockBypasses(t *testing.T) {
	g := NewGate(NewMemStore())
	g.Unlock()

	for i := 0; i < MaxFreeGenerations*3; i++ {
		if err := g.Allow(); err != nil {
			t.Fatalf("unlocked action denied: %v", err)
		}
		g.Charge()
	}
	if g.Count() != 0 {
		t.Fatalf("count = %d, want 0 with own key", g.Count())
	}
	if g.Remaining() != -1 {
		t.Fatalf("remaining = %d, want -1 (unlimited)", g.Remaining())
	}
}

// TestFileStorePersistsAcrossGates 计数落盘，新闸门从持久值继续
func TestFileStorePersistsAcrossGates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage", "count.json")
	store := NewFileStore(path)

	g1 := NewGate(store)
	g1.Charge()
	g1.Charge()
	g1.Charge()

	g2 := NewGate(store)
	if g2.Count() != 3 {
		t.Fatalf("reloaded count = %d, want 3", g2.Count())
	}
	if g2.Remaining() != MaxFreeGenerations-3 {
		t.Fatalf("remaining = %d, want %d", g2.Remaining(), MaxFreeGenerations-3)
	}
}

func TestFileStoreMissingFileIsZero(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope.json"))
	count, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
}

func TestEnvKeyProvider(t *testing.T) {
	withKey := NewEnvKeyProvider("sk-123")
	if ok, _ := withKey.HasSelectedKey(context.Background()); !ok {
		t.Fatal("expected key present")
	}
	if err := withKey.OpenSelectKey(context.Background()); err != nil {
		t.Fatalf("OpenSelectKey error = %v", err)
	}

	without := NewEnvKeyProvider("")
	if ok, _ := without.HasSelectedKey(context.Background()); ok {
		t.Fatal("expected no key")
	}
	if err := without.OpenSelectKey(context.Background()); err == nil {
		t.Fatal("expected error when no key configured")
	}
}
