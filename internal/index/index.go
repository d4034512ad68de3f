// Package index queries package indexes for known release versions.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/config"
	"github.com/k8ika0s/s390x-wheel-refinery/internal/wheel"
)

// Client resolves the known version set of a project from the configured
// indexes. Results are memoized per process; a failed lookup memoizes the
// empty set rather than retrying on every requirement.
type Client struct {
	Settings   config.IndexSettings
	HTTPClient *http.Client

	mu    sync.Mutex
	cache map[string][]wheel.Version
}

// New creates a client for the given index settings.
func New(settings config.IndexSettings) *Client {
	return &Client{Settings: settings}
}

// Versions returns every known release version of project, best effort.
func (c *Client) Versions(ctx context.Context, project string) []wheel.Version {
	name := wheel.NormalizeName(project)
	c.mu.Lock()
	if c.cache == nil {
		c.cache = map[string][]wheel.Version{}
	}
	if cached, ok := c.cache[name]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	versions := c.fetch(ctx, name)
	c.mu.Lock()
	c.cache[name] = versions
	c.mu.Unlock()
	return versions
}

// Latest returns the greatest known version of project.
func (c *Client) Latest(ctx context.Context, project string) (wheel.Version, error) {
	best, ok := wheel.MaxVersion(c.Versions(ctx, project))
	if !ok {
		return wheel.Version{}, fmt.Errorf("no versions found for %s", project)
	}
	return best, nil
}

func (c *Client) fetch(ctx context.Context, name string) []wheel.Version {
	for _, base := range c.bases() {
		versions, err := c.fetchJSON(ctx, base, name)
		if err != nil {
			log.Printf("index: %s lookup via %s failed: %v", name, base, err)
			continue
		}
		if len(versions) > 0 {
			return versions
		}
	}
	return nil
}

func (c *Client) bases() []string {
	var out []string
	if c.Settings.IndexURL != "" {
		out = append(out, c.Settings.IndexURL)
	}
	out = append(out, c.Settings.ExtraIndexURLs...)
	if len(out) == 0 {
		out = append(out, "https://pypi.org")
	}
	return out
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *Client) fetchJSON(ctx context.Context, base, name string) ([]wheel.Version, error) {
	base = strings.TrimRight(base, "/")
	base = strings.TrimSuffix(base, "/simple")
	url := fmt.Sprintf("%s/pypi/%s/json", base, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("index status %d for %s", resp.StatusCode, name)
	}
	var payload struct {
		Releases map[string]json.RawMessage `json:"releases"`
		Info     struct {
			Version string `json:"version"`
		} `json:"info"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	var versions []wheel.Version
	for raw := range payload.Releases {
		v, err := wheel.ParseVersion(raw)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	if len(versions) == 0 && payload.Info.Version != "" {
		if v, err := wheel.ParseVersion(payload.Info.Version); err == nil {
			versions = append(versions, v)
		}
	}
	return versions, nil
}
