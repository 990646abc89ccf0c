package executor_test

import (
	"context"
	"errors"
	"testing"

	"github.com/flowrun/flowrun/internal/application/executor"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeCredentialProvider struct {
	values map[string]string
	calls  map[string]int
}

func newFakeCredentialProvider(values map[string]string) *fakeCredentialProvider {
	return &fakeCredentialProvider{values: values, calls: make(map[string]int)}
}

func (f *fakeCredentialProvider) GetCredential(ctx context.Context, name string) (string, error) {
	f.calls[name]++
	v, ok := f.values[name]
	if !ok {
		return "", errors.New("no such credential: " + name)
	}
	return v, nil
}

func TestCredentialResolver_ResolvesReferenceSyntax(t *testing.T) {
	provider := newFakeCredentialProvider(map[string]string{"openai_key": "sk-secret"})
	cr := executor.NewCredentialResolver(provider)

	resolved, err := cr.ResolveConfig(context.Background(), uuid.New(), map[string]any{
		"api_key": "cred://openai_key",
		"model":   "gpt-4o",
	})
	require.NoError(t, err)
	require.Equal(t, "sk-secret", resolved["api_key"])
	require.Equal(t, "gpt-4o", resolved["model"])
}

func TestCredentialResolver_NonMatchingStringsPassThrough(t *testing.T) {
	cr := executor.NewCredentialResolver(nil)

	resolved, err := cr.ResolveConfig(context.Background(), uuid.New(), map[string]any{
		"url": "https://example.com/cred://not-a-ref",
	})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/cred://not-a-ref", resolved["url"])
}

func TestCredentialResolver_CachesPerExecution(t *testing.T) {
	provider := newFakeCredentialProvider(map[string]string{"k": "v"})
	cr := executor.NewCredentialResolver(provider)
	executionID := uuid.New()

	_, err := cr.ResolveConfig(context.Background(), executionID, map[string]any{"a": "cred://k"})
	require.NoError(t, err)
	_, err = cr.ResolveConfig(context.Background(), executionID, map[string]any{"b": "cred://k"})
	require.NoError(t, err)

	require.Equal(t, 1, provider.calls["k"])
}

func TestCredentialResolver_DifferentExecutionsDoNotShareCache(t *testing.T) {
	provider := newFakeCredentialProvider(map[string]string{"k": "v"})
	cr := executor.NewCredentialResolver(provider)

	_, err := cr.ResolveConfig(context.Background(), uuid.New(), map[string]any{"a": "cred://k"})
	require.NoError(t, err)
	_, err = cr.ResolveConfig(context.Background(), uuid.New(), map[string]any{"a": "cred://k"})
	require.NoError(t, err)

	require.Equal(t, 2, provider.calls["k"])
}

func TestCredentialResolver_MissingProviderFails(t *testing.T) {
	cr := executor.NewCredentialResolver(nil)
	_, err := cr.ResolveConfig(context.Background(), uuid.New(), map[string]any{"a": "cred://k"})
	require.Error(t, err)
}

func TestCredentialResolver_UnknownCredentialFails(t *testing.T) {
	provider := newFakeCredentialProvider(map[string]string{})
	cr := executor.NewCredentialResolver(provider)
	_, err := cr.ResolveConfig(context.Background(), uuid.New(), map[string]any{"a": "cred://missing"})
	require.Error(t, err)
}

func TestCredentialResolver_ClearCacheForcesReResolution(t *testing.T) {
	provider := newFakeCredentialProvider(map[string]string{"k": "v"})
	cr := executor.NewCredentialResolver(provider)
	executionID := uuid.New()

	_, err := cr.ResolveConfig(context.Background(), executionID, map[string]any{"a": "cred://k"})
	require.NoError(t, err)
	cr.ClearCache(executionID)
	_, err = cr.ResolveConfig(context.Background(), executionID, map[string]any{"a": "cred://k"})
	require.NoError(t, err)

	require.Equal(t, 2, provider.calls["k"])
}

func TestCredentialResolver_RedactsResolvedSecretsFromText(t *testing.T) {
	provider := newFakeCredentialProvider(map[string]string{"k": "sk-topsecret"})
	cr := executor.NewCredentialResolver(provider)
	executionID := uuid.New()

	_, err := cr.ResolveConfig(context.Background(), executionID, map[string]any{"a": "cred://k"})
	require.NoError(t, err)

	redacted := cr.Redact(executionID, "request failed with key sk-topsecret attached")
	require.NotContains(t, redacted, "sk-topsecret")
	require.Contains(t, redacted, "***REDACTED***")
}
