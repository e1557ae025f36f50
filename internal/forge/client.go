package forge

import (
	"context"
	"errors"

	"github.com/catherinevee/driftcert/internal/models"
)

// Distinct failure classes surfaced to callers. Auth and permission failures
// are terminal; not-found triggers the group-to-user fallback at call sites.
var (
	ErrAuth       = errors.New("forge: authentication failed")
	ErrPermission = errors.New("forge: permission denied")
	ErrNotFound   = errors.New("forge: not found")
)

// TreeEntry is one blob in a branch tree listing
type TreeEntry struct {
	Mode string
	Hash string
	Path string
}

// CheckoutResult is a materialised sparse checkout
type CheckoutResult struct {
	Dir   string
	Files []string
}

// Client is the forge capability set the pipeline consumes
type Client interface {
	// ListGroupProjects enumerates a group's projects, falling back to the
	// user namespace when the group does not exist.
	ListGroupProjects(ctx context.Context, group string) ([]models.Project, error)

	// ProjectHasBranch probes for a branch, skipping the API call when the
	// project's default branch already equals the target.
	ProjectHasBranch(ctx context.Context, project models.Project, branch string) (bool, error)

	// FilterProjectsWithBranch keeps only projects possessing the branch,
	// probing in parallel with a bounded worker count.
	FilterProjectsWithBranch(ctx context.Context, projects []models.Project, branch string) ([]models.Project, error)

	// SparseCheckout materialises the subset of a branch matching the
	// patterns (non-cone mode), optionally filtered to one environment.
	// The caller owns cleanup of the returned directory.
	SparseCheckout(ctx context.Context, repoURL, branch string, patterns []string, envFilter string) (*CheckoutResult, error)

	// Cleanup removes a checkout directory
	Cleanup(result *CheckoutResult)

	// ListTree returns the full recursive tree of a branch
	ListTree(ctx context.Context, repoURL, branch string) ([]TreeEntry, error)

	// CreateOrphanBranch builds a parentless commit containing exactly the
	// filtered subset of srcBranch's tree, preserving mode and blob identity,
	// and pushes it as newBranch.
	CreateOrphanBranch(ctx context.Context, repoURL, srcBranch, newBranch string, patterns []string, envFilter string) error

	// DeleteBranch removes a remote branch
	DeleteBranch(ctx context.Context, repoURL, branch string) error
}
