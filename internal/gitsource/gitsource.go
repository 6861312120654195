// Package gitsource records the storage root in a local git repository so
// changes to highlights, flashcards and exports can be reviewed as history.
package gitsource

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNothingToCommit is returned by Snapshot when the worktree is clean.
var ErrNothingToCommit = errors.New("nothing to commit")

// Author is recorded on every snapshot commit.
var Author = object.Signature{Name: "knolmark", Email: "knolmark@localhost"}

// Snapshot commits everything under root. The repository is initialised on
// first use. It returns the new commit hash.
func Snapshot(root, message string, when time.Time) (string, error) {
	repo, err := git.PlainOpen(root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		slog.Info("Initialising snapshot repository", "root", root)
		repo, err = git.PlainInit(root, false)
	}
	if err != nil {
		return "", fmt.Errorf("failed to open repository at %s: %w", root, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree for repository at %s: %w", root, err)
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage changes: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return "", fmt.Errorf("failed to read worktree status: %w", err)
	}
	if status.IsClean() {
		return "", ErrNothingToCommit
	}

	author := Author
	author.When = when
	hash, err := worktree.Commit(message, &git.CommitOptions{Author: &author})
	if err != nil {
		return "", fmt.Errorf("failed to commit snapshot: %w", err)
	}
	slog.Info("Snapshot committed", "root", root, "commit", hash.String())
	return hash.String(), nil
}
