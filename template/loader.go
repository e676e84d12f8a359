// Package template resolves the message boilerplate and static resources
// used when composing route notifications. Bundles are keyed by an opaque
// content-type; the mapping is explicit configuration handed to the loader,
// never global state, so tests run against in-memory fixtures.
package template

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/fleetnav/navserver/request"
)

// ContentType names a message flavour. The engine treats it as opaque; the
// product configuration decides which bundles exist.
type ContentType string

const (
	ContentHTML ContentType = "html"
	ContentWML  ContentType = "wml"
	ContentSMIL ContentType = "smil"
)

// ErrUnknownContentType is returned when no bundle is configured for the
// requested content type.
var ErrUnknownContentType = errors.New("unknown message content type")

// Config maps content types to their bundles, with an optional reduced
// overview-only variant per type.
type Config struct {
	Bundles         map[ContentType]*request.MessageBundle
	OverviewBundles map[ContentType]*request.MessageBundle
}

// Loader resolves content types to bundles through a small LRU; bundle
// resources can be large and the same few content types are requested
// constantly.
type Loader struct {
	cfg   Config
	cache *lru.Cache
}

const cacheEntries = 16

// NewLoader builds a loader over the given configuration.
func NewLoader(cfg Config) *Loader {
	cache, _ := lru.New(cacheEntries)
	return &Loader{cfg: cfg, cache: cache}
}

type cacheKey struct {
	content  ContentType
	overview bool
}

// Load resolves the bundle for a content type. With overviewOnly set the
// reduced overview variant is preferred, falling back to the full bundle.
func (l *Loader) Load(content ContentType, overviewOnly bool) (*request.MessageBundle, error) {
	key := cacheKey{content, overviewOnly}
	if cached, ok := l.cache.Get(key); ok {
		return cached.(*request.MessageBundle), nil
	}

	var bundle *request.MessageBundle
	if overviewOnly {
		bundle = l.cfg.OverviewBundles[content]
	}
	if bundle == nil {
		bundle = l.cfg.Bundles[content]
	}
	if bundle == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownContentType, content)
	}

	l.cache.Add(key, bundle)
	return bundle, nil
}

// DefaultConfig is a minimal plain-text bundle set, enough to run the server
// without product templates installed.
func DefaultConfig() Config {
	plain := &request.MessageBundle{
		StartFmt:   "Your route:\n",
		RestartFmt: "Your route (continued):\n",
		TurnFmt:    "- %s\n",
		EndFmt:     "End of route.\n",
		ContFmt:    "(continued in next message)\n",
	}
	return Config{
		Bundles: map[ContentType]*request.MessageBundle{
			ContentHTML: plain,
			ContentWML:  plain,
			ContentSMIL: plain,
		},
	}
}
