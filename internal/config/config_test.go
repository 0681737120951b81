package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults_ValidatesClean(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, ValidatePool(cfg.Pool))
	require.NoError(t, ValidateSession(cfg.Session))
	require.NoError(t, ValidateOracle(cfg.Oracle))
	require.NoError(t, ValidateSessionStorage(cfg.SessionStorage))
	require.NoError(t, ValidateTracing(cfg.Tracing))
	require.NoError(t, Validate(cfg))
}

func TestValidatePool_NegativeMaxWorkers(t *testing.T) {
	err := ValidatePool(PoolConfig{MaxWorkers: -1})
	require.Error(t, err)
	require.Contains(t, err.Error(), "max_workers")
}

func TestValidateSession_EmptyCommand(t *testing.T) {
	err := ValidateSession(SessionConfig{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "command")
}

func TestValidateSession_ExpectTimeoutTooLarge(t *testing.T) {
	err := ValidateSession(SessionConfig{
		Command:       []string{"claude"},
		ExpectTimeout: 5 * time.Second,
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "expect_timeout")
}

func TestValidateOracle_UnknownKind(t *testing.T) {
	err := ValidateOracle(OracleConfig{Kind: "telepathy"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "oracle.kind")
}

func TestValidateOracle_SubprocessRequiresCommand(t *testing.T) {
	err := ValidateOracle(OracleConfig{Kind: "subprocess"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "oracle.command")
}

func TestValidateOracle_MockNeedsNoCommand(t *testing.T) {
	err := ValidateOracle(OracleConfig{Kind: "mock"})
	require.NoError(t, err)
}

func TestValidateSessionStorage_RelativeBaseDirRejected(t *testing.T) {
	err := ValidateSessionStorage(SessionStorageConfig{BaseDir: "relative/dir"})
	require.Error(t, err)
}

func TestValidateSessionStorage_HomeTildeAccepted(t *testing.T) {
	err := ValidateSessionStorage(SessionStorageConfig{BaseDir: "~/.conductor/sessions"})
	require.NoError(t, err)
}

func TestValidateTracing_SampleRateOutOfRange(t *testing.T) {
	err := ValidateTracing(TracingConfig{SampleRate: 1.5})
	require.Error(t, err)
	require.Contains(t, err.Error(), "sample_rate")
}

func TestValidateTracing_UnknownExporter(t *testing.T) {
	err := ValidateTracing(TracingConfig{Exporter: "carrier-pigeon"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "exporter")
}

func TestValidateTracing_EnabledFileRequiresPath(t *testing.T) {
	err := ValidateTracing(TracingConfig{Enabled: true, Exporter: "file"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "file_path")
}

func TestValidateTracing_EnabledOTLPRequiresEndpoint(t *testing.T) {
	err := ValidateTracing(TracingConfig{Enabled: true, Exporter: "otlp"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "otlp_endpoint")
}

func TestWriteDefaultConfig_CreatesFileAndParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	err := WriteDefaultConfig(path)
	require.NoError(t, err)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "workspace_root")
}

func TestDefaultSessionStorageBaseDir_EndsInConductorSessions(t *testing.T) {
	dir := DefaultSessionStorageBaseDir()
	if dir == "" {
		t.Skip("no home directory available")
	}
	require.Equal(t, ".conductor", filepath.Base(filepath.Dir(dir)))
	require.Equal(t, "sessions", filepath.Base(dir))
}
