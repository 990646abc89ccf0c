package executor

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/flowrun/flowrun/internal/domain/errors"
)

// credentialRefPattern matches config values shaped like "cred://name",
// the reference syntax every node-config string is checked against before
// being handed to an executor. Anything not matching this shape is treated
// as a literal value, not a reference.
var credentialRefPattern = regexp.MustCompile(`^cred://([A-Za-z0-9_.\-]+)$`)

// CredentialProvider is the vault-side half of the resolve-by-reference
// contract: given a credential name, return its secret value. Vault
// internals (storage, rotation, access control) are out of scope here —
// this interface is the entire surface the execution engine depends on.
type CredentialProvider interface {
	GetCredential(ctx context.Context, name string) (string, error)
}

// CredentialResolver resolves "cred://name" references in a node's config
// to secret values, caching resolutions per execution so a credential used
// by multiple nodes in one run is fetched from the provider once.
// Generalizes the source's per-executor resolveAPIKey priority chain
// (config value, then execution-context variable, then a constructor-
// supplied default) into a single reusable pass applied uniformly by the
// engine's executor wrapper, per the dynamic-dispatch design note that
// credential resolution is add-on behavior rather than something each
// executor reimplements.
type CredentialResolver struct {
	provider CredentialProvider

	mu     sync.Mutex
	caches map[uuid.UUID]map[string]string // executionID -> name -> value
}

// NewCredentialResolver creates a resolver backed by provider. provider may
// be nil, in which case any "cred://" reference fails to resolve — useful
// for workflows that don't use credentials at all.
func NewCredentialResolver(provider CredentialProvider) *CredentialResolver {
	return &CredentialResolver{
		provider: provider,
		caches:   make(map[uuid.UUID]map[string]string),
	}
}

// ResolveConfig returns a copy of config with every top-level string value
// matching the "cred://name" reference syntax replaced by its resolved
// secret value. Non-string and non-matching values pass through unchanged.
func (cr *CredentialResolver) ResolveConfig(ctx context.Context, executionID uuid.UUID, config map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(config))

	for k, v := range config {
		str, ok := v.(string)
		if !ok {
			resolved[k] = v
			continue
		}

		match := credentialRefPattern.FindStringSubmatch(str)
		if match == nil {
			resolved[k] = v
			continue
		}

		value, err := cr.resolve(ctx, executionID, match[1])
		if err != nil {
			return nil, fmt.Errorf("resolving credential for config key %q: %w", k, err)
		}
		resolved[k] = value
	}

	return resolved, nil
}

func (cr *CredentialResolver) resolve(ctx context.Context, executionID uuid.UUID, name string) (string, error) {
	cr.mu.Lock()
	cache, ok := cr.caches[executionID]
	if !ok {
		cache = make(map[string]string)
		cr.caches[executionID] = cache
	}
	if value, cached := cache[name]; cached {
		cr.mu.Unlock()
		return value, nil
	}
	cr.mu.Unlock()

	if cr.provider == nil {
		return "", errors.NewConfigurationError("credential-resolver", fmt.Sprintf("no credential provider configured, cannot resolve %q", name))
	}

	value, err := cr.provider.GetCredential(ctx, name)
	if err != nil {
		return "", errors.NewConfigurationError("credential-resolver", fmt.Sprintf("failed to resolve credential %q", name))
	}

	cr.mu.Lock()
	cr.caches[executionID][name] = value
	cr.mu.Unlock()

	return value, nil
}

// ClearCache drops an execution's cached credential values. The engine
// calls this once a run reaches a terminal state, since the cache is
// process-local and scoped to a single run, never shared or persisted
// across runs.
func (cr *CredentialResolver) ClearCache(executionID uuid.UUID) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	delete(cr.caches, executionID)
}

// Redact replaces every value the resolver has cached for executionID with
// a fixed placeholder wherever it appears in text, so a node's error
// message or logged output never surfaces a resolved secret verbatim.
func (cr *CredentialResolver) Redact(executionID uuid.UUID, text string) string {
	cr.mu.Lock()
	cache := cr.caches[executionID]
	values := make([]string, 0, len(cache))
	for _, v := range cache {
		if v != "" {
			values = append(values, v)
		}
	}
	cr.mu.Unlock()

	for _, v := range values {
		if v != "" {
			text = strings.ReplaceAll(text, v, "***REDACTED***")
		}
	}
	return text
}
