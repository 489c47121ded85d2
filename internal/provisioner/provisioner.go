// Package provisioner implements C1, the Base-Repo Provisioner: a single
// idempotent Ensure operation guaranteeing a ready, authenticated base
// repository (spec.md §4.1). Grounded on
// original_source/src/worktree_manager.py's ensure_base_repo_cloned.
package provisioner

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/conveyor-forge/conveyor/internal/errs"
	"github.com/conveyor-forge/conveyor/internal/telemetry"
	"github.com/conveyor-forge/conveyor/internal/vcs"
)

// tracer is the tracer provider Ensure opens its span through (SPEC_FULL.md
// §9.1). internal/cli/app.go calls SetTracer once at startup when tracing
// is enabled.
var tracer = telemetry.NewNoop()

// SetTracer installs the tracer provider used by Ensure.
func SetTracer(p *telemetry.Provider) {
	tracer = p
}

// TokenURL builds an HTTPS remote URL with the access token embedded,
// following the scheme original_source uses for authenticated pushes.
func TokenURL(repoRef, token string) string {
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", token, repoRef)
}

// Ensure guarantees path holds a ready clone of repoRef with its origin
// remote pointed at a URL carrying the current token, refreshed from
// origin within this call. If path does not yet exist, it is created by a
// full clone; otherwise only the remote URL is rewritten and a fetch is
// performed.
//
// On failure, the path is left absent (first-time clone failure) or
// unchanged (subsequent fetch failure) — Ensure never leaves a
// half-initialized directory behind.
func Ensure(repoRef, token, path string) (string, error) {
	_, span := tracer.StartProvision(context.Background())
	defer span.End()

	url := TokenURL(repoRef, token)
	repo := vcs.NewRepo(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := repo.Clone(url); err != nil {
			return "", &errs.ProvisionFailed{Repo: repoRef, Err: err}
		}
		return path, nil
	} else if err != nil {
		return "", &errs.ProvisionFailed{Repo: repoRef, Err: err}
	}

	if err := repo.SetRemoteURL("origin", url); err != nil {
		return "", &errs.ProvisionFailed{Repo: repoRef, Err: err}
	}
	if err := repo.Fetch("origin"); err != nil {
		return "", &errs.ProvisionFailed{Repo: repoRef, Err: err}
	}
	return path, nil
}

// RefreshRemote rewrites origin's URL with a freshly obtained token,
// without performing a fetch, since tokens may be short-lived. The merge
// serializer does not call this; it rewrites the URL itself through its
// own remote-URL builder before each merge attempt.
func RefreshRemote(path, repoRef, token string) error {
	repo := vcs.NewRepo(path)
	return repo.SetRemoteURL("origin", TokenURL(repoRef, token))
}

// RedactedURL returns a remote URL with any embedded token masked, for
// safe inclusion in logs or error messages.
func RedactedURL(url string) string {
	idx := strings.Index(url, "@")
	if idx == -1 {
		return url
	}
	schemeIdx := strings.Index(url, "://")
	if schemeIdx == -1 || schemeIdx+3 > idx {
		return url
	}
	return url[:schemeIdx+3] + "***" + url[idx:]
}
