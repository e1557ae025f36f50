package forge

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/catherinevee/driftcert/internal/classifier"
	"github.com/catherinevee/driftcert/internal/logger"
)

// CommandError wraps a failed git invocation with its captured output
type CommandError struct {
	Args   []string
	Stdout string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += ": " + strings.TrimSpace(e.Stderr)
	}
	return msg
}

// gitRunner executes git wire operations in per-call temp directories
type gitRunner struct {
	creds    Credentials
	tempRoot string
	log      logger.Logger
}

func newGitRunner(creds Credentials, tempRoot string) *gitRunner {
	return &gitRunner{
		creds:    creds,
		tempRoot: resolveTempRoot(tempRoot),
		log:      logger.New("forge.git"),
	}
}

// resolveTempRoot picks the base for working directories:
// env override, then project-relative ./temp, then the system temp dir.
func resolveTempRoot(configured string) string {
	if configured != "" {
		return configured
	}
	if v := os.Getenv("DRIFTCERT_TEMP_DIR"); v != "" {
		return v
	}
	if info, err := os.Stat("./temp"); err == nil && info.IsDir() {
		return "./temp"
	}
	return os.TempDir()
}

func runGit(ctx context.Context, dir string, args ...string) (string, string, error) {
	base := []string{
		"-c", "maintenance.auto=0",
		"-c", "gc.auto=0",
	}
	if dir != "" {
		base = append([]string{"-C", dir}, base...)
	}
	cmd := exec.CommandContext(ctx, "git", append(base, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	outStr := stdout.String()
	errStr := stderr.String()
	if err != nil {
		return outStr, errStr, &CommandError{Args: args, Stdout: outStr, Stderr: errStr, Err: err}
	}
	return outStr, errStr, nil
}

// authURL injects credentials into the clone URL. Token becomes an oauth2
// bearer user; otherwise user:password.
func (g *gitRunner) authURL(repoURL string) string {
	u, err := url.Parse(repoURL)
	if err != nil {
		return repoURL
	}
	if g.creds.Token != "" {
		u.User = url.UserPassword("oauth2", g.creds.Token)
	} else if g.creds.User != "" {
		u.User = url.UserPassword(g.creds.User, g.creds.Password)
	}
	return u.String()
}

func (g *gitRunner) mkTempDir(prefix string) (string, error) {
	if err := os.MkdirAll(g.tempRoot, 0755); err != nil {
		return "", err
	}
	return os.MkdirTemp(g.tempRoot, prefix)
}

func (g *gitRunner) cleanup(result *CheckoutResult) {
	if result != nil && result.Dir != "" {
		os.RemoveAll(result.Dir)
	}
}

// sparseCheckout performs a depth-1 clone with non-cone sparse-checkout and
// returns the materialised file list.
func (g *gitRunner) sparseCheckout(ctx context.Context, repoURL, branch string, patterns []string, envFilter string) (*CheckoutResult, error) {
	dir, err := g.mkTempDir("checkout-")
	if err != nil {
		return nil, err
	}
	failed := true
	defer func() {
		if failed {
			os.RemoveAll(dir)
		}
	}()

	if _, _, err := runGit(ctx, "",
		"clone", "--depth", "1", "--no-checkout", "--filter=blob:none",
		"--branch", branch, g.authURL(repoURL), dir); err != nil {
		return nil, err
	}
	if _, _, err := runGit(ctx, dir, "sparse-checkout", "init", "--no-cone"); err != nil {
		return nil, err
	}
	setArgs := append([]string{"sparse-checkout", "set", "--no-cone"}, patterns...)
	if _, _, err := runGit(ctx, dir, setArgs...); err != nil {
		return nil, err
	}
	if _, _, err := runGit(ctx, dir, "checkout", branch); err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel == ".git" || strings.HasPrefix(rel, ".git/") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(rel, ".git/") {
			return nil
		}
		if envFilter != "" && !classifier.BelongsToEnv(rel, envFilter) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	failed = false
	return &CheckoutResult{Dir: dir, Files: files}, nil
}

// listTree clones without checkout and lists the full recursive tree
func (g *gitRunner) listTree(ctx context.Context, repoURL, branch string) ([]TreeEntry, error) {
	dir, err := g.mkTempDir("tree-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	if _, _, err := runGit(ctx, "",
		"clone", "--depth", "1", "--no-checkout",
		"--branch", branch, g.authURL(repoURL), dir); err != nil {
		return nil, err
	}
	return lsTree(ctx, dir, branch)
}

func lsTree(ctx context.Context, dir, ref string) ([]TreeEntry, error) {
	out, _, err := runGit(ctx, dir, "ls-tree", "-r", ref)
	if err != nil {
		return nil, err
	}

	var entries []TreeEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		// Format: <mode> <type> <hash>\t<path>
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			continue
		}
		meta := strings.Fields(line[:tab])
		if len(meta) != 3 || meta[1] != "blob" {
			continue
		}
		entries = append(entries, TreeEntry{Mode: meta[0], Hash: meta[2], Path: line[tab+1:]})
	}
	return entries, nil
}

// createOrphanBranch builds an env-filtered baseline from srcBranch:
// the surviving tree entries are written into a fresh empty index with their
// original mode and blob hash, committed with no parent, and pushed.
func (g *gitRunner) createOrphanBranch(ctx context.Context, repoURL, srcBranch, newBranch string, patterns []string, envFilter string) error {
	dir, err := g.mkTempDir("orphan-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if _, _, err := runGit(ctx, "",
		"clone", "--depth", "1", "--no-checkout",
		"--branch", srcBranch, g.authURL(repoURL), dir); err != nil {
		return err
	}

	entries, err := lsTree(ctx, dir, srcBranch)
	if err != nil {
		return err
	}

	selected := filterTreeEntries(entries, patterns, envFilter)
	if len(selected) == 0 {
		return fmt.Errorf("no files match patterns for branch %s (env %q)", newBranch, envFilter)
	}

	if _, _, err := runGit(ctx, dir, "read-tree", "--empty"); err != nil {
		return err
	}
	for _, e := range selected {
		cacheinfo := fmt.Sprintf("%s,%s,%s", e.Mode, e.Hash, e.Path)
		if _, _, err := runGit(ctx, dir, "update-index", "--add", "--cacheinfo", cacheinfo); err != nil {
			return err
		}
	}

	treeHash, _, err := runGit(ctx, dir, "write-tree")
	if err != nil {
		return err
	}
	commitMsg := fmt.Sprintf("baseline %s from %s", newBranch, srcBranch)
	commitHash, _, err := runGit(ctx, dir,
		"-c", "user.name="+committerName(),
		"-c", "user.email="+committerEmail(),
		"commit-tree", strings.TrimSpace(treeHash), "-m", commitMsg)
	if err != nil {
		return err
	}

	ref := strings.TrimSpace(commitHash) + ":refs/heads/" + newBranch
	_, _, err = runGit(ctx, dir, "push", "origin", ref)
	return err
}

func filterTreeEntries(entries []TreeEntry, patterns []string, envFilter string) []TreeEntry {
	var out []TreeEntry
	for _, e := range entries {
		if strings.HasPrefix(e.Path, ".git/") {
			continue
		}
		if !matchesAny(e.Path, patterns) {
			continue
		}
		if envFilter != "" && !classifier.BelongsToEnv(e.Path, envFilter) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func matchesAny(path string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
	}
	return false
}

// deleteBranch removes the branch on the remote without a full clone
func (g *gitRunner) deleteBranch(ctx context.Context, repoURL, branch string) error {
	dir, err := g.mkTempDir("delete-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if _, _, err := runGit(ctx, "", "init", "--quiet", dir); err != nil {
		return err
	}
	_, _, err = runGit(ctx, dir, "push", g.authURL(repoURL), "--delete", branch)
	return err
}

func committerName() string {
	if v := os.Getenv("GIT_COMMITTER_NAME"); v != "" {
		return v
	}
	return "driftcert"
}

func committerEmail() string {
	if v := os.Getenv("GIT_COMMITTER_EMAIL"); v != "" {
		return v
	}
	return "driftcert@local"
}
