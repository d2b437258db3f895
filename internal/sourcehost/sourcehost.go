// Package sourcehost abstracts the branch and pull-request surface the
// orchestrator drives after mutating stages. LocalHost works against a
// plain local git repository; a hosted-forge implementation can be swapped
// in without touching the pipeline.
package sourcehost

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/forgecrew/wrangler/internal/errors"
)

// SourceHost creates branches and pull requests for completed work.
type SourceHost interface {
	// CreateBranch creates branch at the repository's current HEAD.
	// Creating a branch that already exists is a no-op.
	CreateBranch(repoPath, branch string) error

	// CreatePullRequest records a pull request for the branch and returns
	// a reference to it (URL or local path).
	CreatePullRequest(repoPath, branch, title, body string) (string, error)
}

// LocalHost implements SourceHost against a local git repository using
// go-git. Pull requests are recorded as markdown files under
// .wrangler/prs/ inside the repository.
type LocalHost struct {
	now func() time.Time
}

// NewLocalHost creates a LocalHost.
func NewLocalHost() *LocalHost {
	return &LocalHost{now: time.Now}
}

// CreateBranch creates the branch at HEAD if it does not already exist.
func (h *LocalHost) CreateBranch(repoPath, branch string) error {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("open repository %s: %w", repoPath, err)
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Reference(branchRef, false); err == nil {
		return nil
	}

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("resolve HEAD of %s: %w", repoPath, err)
	}
	ref := plumbing.NewHashReference(branchRef, head.Hash())
	if err := repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("create branch %s: %w", branch, err)
	}
	return nil
}

// CreatePullRequest writes the PR record and returns its path.
func (h *LocalHost) CreatePullRequest(repoPath, branch, title, body string) (string, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", fmt.Errorf("open repository %s: %w", repoPath, err)
	}
	branchRef := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Reference(branchRef, false); err != nil {
		return "", errors.NewNotFoundError("branch", branch).WithCause(err)
	}

	prDir := filepath.Join(repoPath, ".wrangler", "prs")
	if err := os.MkdirAll(prDir, 0o755); err != nil {
		return "", fmt.Errorf("create pr directory: %w", err)
	}

	path := filepath.Join(prDir, sanitize(branch)+".md")
	content := fmt.Sprintf("# %s\n\nBranch: %s\nOpened: %s\n\n%s\n",
		title, branch, h.now().UTC().Format(time.RFC3339), body)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write pr record: %w", err)
	}
	return path, nil
}

func sanitize(branch string) string {
	return strings.NewReplacer("/", "-", " ", "-").Replace(branch)
}

// NopHost is a SourceHost that does nothing, for runs without a
// repository checkout.
type NopHost struct{}

// CreateBranch implements SourceHost.
func (NopHost) CreateBranch(string, string) error { return nil }

// CreatePullRequest implements SourceHost.
func (NopHost) CreatePullRequest(string, string, string, string) (string, error) {
	return "", nil
}
