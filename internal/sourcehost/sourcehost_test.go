package sourcehost

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// initRepo creates a local repository with one commit.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("worktree: %v", err)
	}
	if _, err := wt.Add("README.md"); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	return dir
}

func TestLocalHostCreateBranch(t *testing.T) {
	dir := initRepo(t)
	h := NewLocalHost()

	branch := "agent/senior-developer/u-1-12345"
	if err := h.CreateBranch(dir, branch); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), false)
	if err != nil {
		t.Fatalf("branch ref missing: %v", err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if ref.Hash() != head.Hash() {
		t.Errorf("branch hash = %s, want HEAD %s", ref.Hash(), head.Hash())
	}

	// Re-creating the same branch is a no-op.
	if err := h.CreateBranch(dir, branch); err != nil {
		t.Fatalf("CreateBranch again: %v", err)
	}
}

func TestLocalHostCreateBranchBadRepo(t *testing.T) {
	h := NewLocalHost()
	if err := h.CreateBranch(t.TempDir(), "b"); err == nil {
		t.Fatal("expected error for non-repository path")
	}
}

func TestLocalHostCreatePullRequest(t *testing.T) {
	dir := initRepo(t)
	h := NewLocalHost()

	branch := "agent/test-engineer/u-2-67890"
	if err := h.CreateBranch(dir, branch); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}

	path, err := h.CreatePullRequest(dir, branch, "Add coverage", "covers the auth module")
	if err != nil {
		t.Fatalf("CreatePullRequest: %v", err)
	}
	if !strings.HasPrefix(path, filepath.Join(dir, ".wrangler", "prs")) {
		t.Errorf("pr path = %q, want under .wrangler/prs", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pr record: %v", err)
	}
	for _, want := range []string{"Add coverage", branch, "covers the auth module"} {
		if !strings.Contains(string(content), want) {
			t.Errorf("pr record missing %q", want)
		}
	}
}

func TestLocalHostCreatePullRequestUnknownBranch(t *testing.T) {
	dir := initRepo(t)
	h := NewLocalHost()

	if _, err := h.CreatePullRequest(dir, "missing-branch", "t", "b"); err == nil {
		t.Fatal("expected error for unknown branch")
	}
}
