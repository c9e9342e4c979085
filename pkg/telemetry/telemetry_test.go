package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lesleslie/oneiric/pkg/config"
	"github.com/lesleslie/oneiric/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSync_WritesJSONAndLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "remote_status.json")
	w := NewWriter(config.RuntimePaths{RemoteStatusJSON: path})

	require.NoError(t, w.WriteSync(SyncResult{SourceURI: "https://example.com/manifest.yaml", Changed: true, EntriesApplied: 3, At: time.Now()}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got SyncResult
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.Changed)
	assert.Equal(t, 3, got.EntriesApplied)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteTelemetry_WritesJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime_telemetry.json")
	w := NewWriter(config.RuntimePaths{TelemetryJSON: path})

	snap := TelemetrySnapshot{
		GeneratedAt:     time.Now(),
		CandidateCounts: map[string]int{"adapter": 2},
		LifecycleCounts: map[string]int{"ready": 2},
	}
	require.NoError(t, w.WriteTelemetry(snap))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got TelemetrySnapshot
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 2, got.CandidateCounts["adapter"])
}

func TestWriteSync_EmptyPathIsNoop(t *testing.T) {
	w := NewWriter(config.RuntimePaths{})
	assert.NoError(t, w.WriteSync(SyncResult{}))
}

func TestNewSyncError_LiftsTypesErrorKind(t *testing.T) {
	err := types.NewError(types.KindSignatureInvalid, "bad signature")
	se := NewSyncError(err)
	require.NotNil(t, se)
	assert.Equal(t, "SignatureInvalid", se.Kind)
	assert.Contains(t, se.Message, "bad signature")
}

func TestNewSyncError_UsesOutermostTypesErrorKind(t *testing.T) {
	inner := types.NewError(types.KindDigestMismatch, "digest mismatch")
	wrapped := types.WrapError(types.KindConfigError, "outer", inner)
	se := NewSyncError(wrapped)
	require.NotNil(t, se)
	assert.Equal(t, "ConfigError", se.Kind)
}

func TestNewSyncError_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, NewSyncError(nil))
}

func TestWriteSync_PersistsStructuredLastError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "remote_status.json")
	w := NewWriter(config.RuntimePaths{RemoteStatusJSON: path})

	err := types.NewError(types.KindSignatureInvalid, "bad signature")
	require.NoError(t, w.WriteSync(SyncResult{SourceURI: "https://example.com/manifest.yaml", LastError: NewSyncError(err), At: time.Now()}))

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)

	var got SyncResult
	require.NoError(t, json.Unmarshal(data, &got))
	require.NotNil(t, got.LastError)
	assert.Equal(t, "SignatureInvalid", got.LastError.Kind)
}
