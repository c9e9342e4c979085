package plugins

import (
	"context"
	"testing"

	"github.com/lesleslie/oneiric/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubFactory(ctx context.Context, settings types.Settings) (types.Instance, error) {
	return struct{}{}, nil
}

func TestAddAndLookup_FindsRegisteredFactory(t *testing.T) {
	reg := New()
	reg.Add(types.DomainAdapter, "memory", stubFactory)

	factory, ok := reg.Lookup(types.DomainAdapter, "memory")
	assert.True(t, ok)
	assert.NotNil(t, factory)
}

func TestLookup_MissesUnregisteredProvider(t *testing.T) {
	reg := New()
	_, ok := reg.Lookup(types.DomainAdapter, "memory")
	assert.False(t, ok)
}

func TestLookup_DistinguishesByDomain(t *testing.T) {
	reg := New()
	reg.Add(types.DomainAdapter, "cache", stubFactory)

	_, ok := reg.Lookup(types.DomainService, "cache")
	assert.False(t, ok)
}

func TestLoadDynamic_EmptyDirIsNotAnError(t *testing.T) {
	reg := New()
	require.NoError(t, LoadDynamic("", reg))
}

func TestLoadDynamic_MissingDirIsNotAnError(t *testing.T) {
	reg := New()
	require.NoError(t, LoadDynamic("/nonexistent/oneiric/plugin/dir", reg))
}
