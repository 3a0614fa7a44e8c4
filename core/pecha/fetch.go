package pecha

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/FocuswithJustin/PechaStam/core/errors"
	"github.com/FocuswithJustin/PechaStam/internal/logging"
	"github.com/FocuswithJustin/PechaStam/internal/validation"
)

// DefaultOrg is the organisation converted pechas are published under.
const DefaultOrg = "PechaData"

// Fetcher makes a document repository available locally and returns its
// directory.
type Fetcher interface {
	Fetch(ctx context.Context, org, id string) (string, error)
}

// LocalFetcher serves repositories already present under Root. The org is
// ignored.
type LocalFetcher struct {
	Root string
}

// Fetch returns <Root>/<id> if it is a directory.
func (f LocalFetcher) Fetch(_ context.Context, org, id string) (string, error) {
	if err := validation.ValidateID(id); err != nil {
		return "", err
	}
	dir := filepath.Join(f.Root, id)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", &errors.RepoError{Org: org, Repo: id, Err: errors.ErrRepoNotFound}
	}
	return dir, nil
}

// GitFetcher clones repositories with the git command line into Dest.
// Already cloned repositories are reused.
type GitFetcher struct {
	BaseURL string // e.g. https://github.com
	Token   string // optional, sent as an HTTP authorization header
	Dest    string
	Timeout time.Duration
}

// runGit is injectable for testing.
var runGit = func(ctx context.Context, dir string, env []string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C"), env...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return stderr.Bytes(), err
	}
	return out, nil
}

// Fetch clones <BaseURL>/<org>/<id>.git into <Dest>/<id> unless that
// directory exists. A remote that does not exist yields ErrRepoNotFound,
// any other git failure ErrClone.
func (f GitFetcher) Fetch(ctx context.Context, org, id string) (string, error) {
	if err := validation.ValidateID(id); err != nil {
		return "", err
	}
	dest := filepath.Join(f.Dest, id)
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return dest, nil
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}
	if err := os.MkdirAll(f.Dest, 0755); err != nil {
		return "", errors.NewIO("create directory", f.Dest, err)
	}

	url, env := f.url(org, id), f.env()
	start := time.Now()
	if out, err := runGit(ctx, f.Dest, env, "ls-remote", "--heads", url); err != nil {
		if notFound(out) {
			return "", &errors.RepoError{Org: org, Repo: id, Err: errors.ErrRepoNotFound}
		}
		return "", &errors.RepoError{Org: org, Repo: id, Err: fmt.Errorf("%w: %v", errors.ErrClone, err)}
	}
	if out, err := runGit(ctx, f.Dest, env, "clone", "--depth", "1", url, dest); err != nil {
		os.RemoveAll(dest)
		return "", &errors.RepoError{Org: org, Repo: id, Err: fmt.Errorf("%w: %v: %s", errors.ErrClone, err, strings.TrimSpace(string(out)))}
	}
	logging.Info("repository cloned", "org", org, "repo", id, "dest", dest, "duration", time.Since(start))
	return dest, nil
}

func (f GitFetcher) url(org, id string) string {
	base := strings.TrimSuffix(f.BaseURL, "/")
	if base == "" {
		base = "https://github.com"
	}
	return base + "/" + org + "/" + id + ".git"
}

// env carries the token as an extra HTTP header through git's environment
// config. The clone URL stays free of credentials.
func (f GitFetcher) env() []string {
	if f.Token == "" {
		return nil
	}
	cred := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + f.Token))
	return []string{
		"GIT_CONFIG_COUNT=1",
		"GIT_CONFIG_KEY_0=http.extraHeader",
		"GIT_CONFIG_VALUE_0=Authorization: Basic " + cred,
	}
}

func notFound(stderr []byte) bool {
	s := strings.ToLower(string(stderr))
	return strings.Contains(s, "not found") || strings.Contains(s, "does not exist")
}

// FromID opens pecha id under root, fetching it from org first when it is
// not present locally.
func FromID(ctx context.Context, id, root, org string, fetcher Fetcher) (*Pecha, error) {
	dir := filepath.Join(root, id)
	if _, err := os.Stat(dir); err != nil {
		if fetcher == nil {
			return nil, &errors.RepoError{Org: org, Repo: id, Err: errors.ErrRepoNotFound}
		}
		if dir, err = fetcher.Fetch(ctx, org, id); err != nil {
			return nil, err
		}
	}
	return Open(id, dir)
}
