// Package gitstats reads change statistics for a commit produced by the
// coding assistant, for display in the request history table.
package gitstats

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"

	"github.com/nolight-dev/nolight/internal/domain"
)

// ForCommit returns line and file change counts for the given commit hash
// in the repository at repoPath. The hash may be abbreviated, as the
// assistant usually prints only the first seven characters.
func ForCommit(repoPath, hash string) (*domain.CommitStats, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", repoPath, err)
	}

	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return nil, fmt.Errorf("resolving commit %s: %w", hash, err)
	}

	commit, err := repo.CommitObject(*resolved)
	if err != nil {
		return nil, fmt.Errorf("reading commit %s: %w", resolved, err)
	}

	stats := &domain.CommitStats{
		Description: title(commit.Message),
	}

	fileStats, err := commit.Stats()
	if err != nil {
		return nil, fmt.Errorf("computing diff stats: %w", err)
	}
	for _, fs := range fileStats {
		stats.LinesAdded += fs.Addition
		stats.LinesRemoved += fs.Deletion
	}

	if err := classifyFiles(commit, stats); err != nil {
		return nil, err
	}

	return stats, nil
}

// classifyFiles counts added, removed and modified files by diffing the
// commit tree against its first parent. Root commits diff against the
// empty tree, so every file counts as added.
func classifyFiles(commit *object.Commit, stats *domain.CommitStats) error {
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("reading commit tree: %w", err)
	}

	var parentTree *object.Tree
	if commit.NumParents() > 0 {
		parent, err := commit.Parent(0)
		if err != nil {
			return fmt.Errorf("reading parent commit: %w", err)
		}
		parentTree, err = parent.Tree()
		if err != nil {
			return fmt.Errorf("reading parent tree: %w", err)
		}
	}

	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return fmt.Errorf("diffing trees: %w", err)
	}

	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return err
		}
		switch action {
		case merkletrie.Insert:
			stats.FilesAdded++
		case merkletrie.Delete:
			stats.FilesRemoved++
		default: // modifications, renames, copies
			stats.FilesModified++
		}
	}

	return nil
}

// title returns the first line of a commit message.
func title(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return strings.TrimSpace(message[:i])
	}
	return strings.TrimSpace(message)
}
