package buildinfo

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/nulzo/query-router/internal/httpclient"
)

// Version is set at build time with -ldflags "-X .../buildinfo.Version=v1.2.3".
var Version = "v0.0.0"

const releasesURL = "https://api.github.com/repos/nulzo/query-router/releases/latest"

type GitHubRelease struct {
	TagName string `json:"tag_name"`
}

// UpdateInfo describes a newer release, if any.
type UpdateInfo struct {
	Current string
	Latest  string
}

// Outdated reports whether current is older than latest. Unparseable
// versions are never outdated.
func Outdated(current, latest string) bool {
	c, err := version.NewVersion(current)
	if err != nil {
		return false
	}
	l, err := version.NewVersion(latest)
	if err != nil {
		return false
	}
	return c.LessThan(l)
}

// CheckForUpdates queries the release feed at url (releasesURL when empty)
// and returns non-nil info when a newer release exists.
func CheckForUpdates(ctx context.Context, client httpclient.HTTPClient, url string) (*UpdateInfo, error) {
	if url == "" {
		url = releasesURL
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}

	var release GitHubRelease
	headers := map[string]string{"Accept": "application/vnd.github+json"}
	if err := httpclient.SendRequest(ctx, client, http.MethodGet, url, headers, nil, &release); err != nil {
		return nil, fmt.Errorf("update check: %w", err)
	}

	if !Outdated(Version, release.TagName) {
		return nil, nil
	}
	return &UpdateInfo{Current: Version, Latest: release.TagName}, nil
}
