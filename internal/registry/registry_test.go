package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMetadata = `
components:
  ATDome:
    schema_version: "1.0.0"
    commands:
      setLogLevel:
        fields:
          level: {type: int, required: true}
          subsystems: {type: string}
      moveAzimuth:
        timeout: 30s
        fields:
          azimuth: {type: float, required: true}
    events:
      summaryState:
        fields:
          summaryState: {type: int, required: true}
      heartbeat:
        fields: {}
    telemetry:
      position:
        fields:
          azimuthPosition: {type: float}
  ScriptQueue:
    schema_version: "2.1.0"
    commands:
      add:
        fields:
          path: {type: string, required: true}
          isStandard: {type: bool}
`

func loadTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Parse([]byte(testMetadata))
	require.NoError(t, err)
	return r
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testMetadata), 0o644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ATDome", "ScriptQueue"}, r.ComponentNames())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_RejectsUnknownFieldType(t *testing.T) {
	_, err := Parse([]byte(`
components:
  ATDome:
    commands:
      park:
        fields:
          mode: {type: enum}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported type")
}

func TestParse_RejectsBadTimeout(t *testing.T) {
	_, err := Parse([]byte(`
components:
  ATDome:
    commands:
      park:
        timeout: thirty seconds
        fields: {}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timeout")
}

func TestParse_RejectsEmptyMetadata(t *testing.T) {
	_, err := Parse([]byte("components: {}\n"))
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	r := loadTestRegistry(t)

	desc, err := r.Describe("ATDome")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", desc.SchemaVersion)
	assert.Equal(t, []string{"moveAzimuth", "setLogLevel"}, desc.CommandNames)
	assert.Equal(t, []string{"heartbeat", "summaryState"}, desc.EventNames)
	assert.Equal(t, []string{"position"}, desc.TelemetryNames)

	_, err = r.Describe("NoSuchCSC")
	assert.ErrorIs(t, err, ErrUnknownComponent)
}

func TestTopic_UnknownTopic(t *testing.T) {
	r := loadTestRegistry(t)

	_, err := r.Topic("ATDome", Command, "selfDestruct")
	assert.ErrorIs(t, err, ErrUnknownTopic)

	_, err = r.Topic("ATDome", Telemetry, "setLogLevel")
	assert.ErrorIs(t, err, ErrUnknownTopic)
}

func TestCommandTimeout(t *testing.T) {
	r := loadTestRegistry(t)

	assert.Equal(t, 30*time.Second, r.CommandTimeout("ATDome", "moveAzimuth", 5*time.Second))
	assert.Equal(t, 5*time.Second, r.CommandTimeout("ATDome", "setLogLevel", 5*time.Second))
	assert.Equal(t, 5*time.Second, r.CommandTimeout("ATDome", "noSuchCmd", 5*time.Second))
}

func TestValidate_OK(t *testing.T) {
	r := loadTestRegistry(t)

	err := r.Validate("ATDome", Command, "setLogLevel", map[string]any{
		"level":      float64(10), // JSON decoding yields float64
		"subsystems": "all",
	})
	assert.NoError(t, err)

	err = r.Validate("ATDome", Command, "setLogLevel", map[string]any{
		"level": 10,
	})
	assert.NoError(t, err)
}

func TestValidate_MissingRequiredField(t *testing.T) {
	r := loadTestRegistry(t)

	err := r.Validate("ATDome", Command, "setLogLevel", map[string]any{
		"subsystems": "all",
	})
	require.ErrorIs(t, err, ErrSchema)
	assert.Contains(t, err.Error(), "level")
}

func TestValidate_WrongType(t *testing.T) {
	r := loadTestRegistry(t)

	err := r.Validate("ATDome", Command, "setLogLevel", map[string]any{
		"level": "verbose",
	})
	assert.ErrorIs(t, err, ErrSchema)

	// Non-integral float does not coerce to int.
	err = r.Validate("ATDome", Command, "setLogLevel", map[string]any{
		"level": 10.5,
	})
	assert.ErrorIs(t, err, ErrSchema)

	// Ints coerce to float.
	err = r.Validate("ATDome", Command, "moveAzimuth", map[string]any{
		"azimuth": 180,
	})
	assert.NoError(t, err)
}

func TestValidate_UndeclaredField(t *testing.T) {
	r := loadTestRegistry(t)

	err := r.Validate("ScriptQueue", Command, "add", map[string]any{
		"path":  "standard/script.py",
		"bogus": true,
	})
	require.ErrorIs(t, err, ErrSchema)
	assert.Contains(t, err.Error(), "bogus")
}

func TestValidate_UnknownComponentOrTopic(t *testing.T) {
	r := loadTestRegistry(t)

	err := r.Validate("NoSuchCSC", Command, "park", nil)
	assert.ErrorIs(t, err, ErrUnknownComponent)

	err = r.Validate("ATDome", Command, "park", nil)
	assert.ErrorIs(t, err, ErrUnknownTopic)
}
