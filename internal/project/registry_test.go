package project

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProject(t *testing.T, root, name, binding string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if binding != "" {
		if err := os.WriteFile(filepath.Join(dir, "discord.json"), []byte(binding), 0o644); err != nil {
			t.Fatalf("write binding: %v", err)
		}
	}
}

func TestNewRegistry_EmptyRoot(t *testing.T) {
	if _, err := NewRegistry(""); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestDiscover_RegistersProjects(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root, "alpha", `{"channelId":"100","model":"claude-sonnet-4-5","permissionMode":"acceptEdits","maxBudgetUsd":2.5}`)
	writeProject(t, root, "beta", `{"channelId":"200"}`)
	writeProject(t, root, "no-binding", "")

	r, err := NewRegistry(root)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	n, err := r.Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if n != 2 {
		t.Fatalf("Discover = %d projects, want 2", n)
	}

	alpha := r.ByChannel("100")
	if alpha == nil {
		t.Fatal("ByChannel(100) = nil")
	}
	if alpha.Name != "alpha" {
		t.Errorf("name = %q, want alpha", alpha.Name)
	}
	if alpha.PermissionMode != PermissionAcceptEdits {
		t.Errorf("permission mode = %q, want acceptEdits", alpha.PermissionMode)
	}
	if alpha.MaxBudgetUSD != 2.5 {
		t.Errorf("budget = %v, want 2.5", alpha.MaxBudgetUSD)
	}

	beta := r.ByChannel("200")
	if beta == nil {
		t.Fatal("ByChannel(200) = nil")
	}
	if beta.PermissionMode != PermissionDefault {
		t.Errorf("default permission mode = %q, want default", beta.PermissionMode)
	}
}

func TestDiscover_SkipsDuplicateChannel(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root, "first", `{"channelId":"100"}`)
	writeProject(t, root, "second", `{"channelId":"100"}`)

	r, _ := NewRegistry(root)
	n, err := r.Discover()
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if n != 1 {
		t.Errorf("Discover = %d, want 1 (duplicate channel skipped)", n)
	}
}

func TestDiscover_SkipsMissingChannelID(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root, "broken", `{"model":"claude-sonnet-4-5"}`)

	r, _ := NewRegistry(root)
	n, _ := r.Discover()
	if n != 0 {
		t.Errorf("Discover = %d, want 0", n)
	}
}

func TestDiscover_InvalidPermissionModeFallsBack(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root, "p", `{"channelId":"1","permissionMode":"yolo"}`)

	r, _ := NewRegistry(root)
	r.Discover()
	cfg := r.ByChannel("1")
	if cfg == nil {
		t.Fatal("project not registered")
	}
	if cfg.PermissionMode != PermissionDefault {
		t.Errorf("permission mode = %q, want default fallback", cfg.PermissionMode)
	}
}

func TestDiscover_MissingRoot(t *testing.T) {
	r, _ := NewRegistry(filepath.Join(t.TempDir(), "nope"))
	if _, err := r.Discover(); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestDiscover_RescanDropsRemoved(t *testing.T) {
	root := t.TempDir()
	writeProject(t, root, "alpha", `{"channelId":"100"}`)

	r, _ := NewRegistry(root)
	r.Discover()
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}

	if err := os.RemoveAll(filepath.Join(root, "alpha")); err != nil {
		t.Fatalf("remove project: %v", err)
	}
	r.Discover()
	if r.Count() != 0 {
		t.Errorf("Count after rescan = %d, want 0", r.Count())
	}
	if r.ByChannel("100") != nil {
		t.Error("removed project should not resolve")
	}
}
