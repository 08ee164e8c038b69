package chatconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatgateway/agent"
)

func TestLoadMissingFileYieldsEmptyConfig(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, cfg.Channels)
}

func TestGetCreatesDefaultEntry(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	e := cfg.Get("123")
	assert.Equal(t, agent.DefaultType, e.BackendType)
	assert.True(t, e.MentionOnly)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)

	e := cfg.Get("42")
	e.BackendType = agent.TypeStream
	e.SessionID = "sess-abc"
	cfg.Set("42", e)
	require.NoError(t, cfg.Save())

	reloaded, err := Load(dir)
	require.NoError(t, err)
	got := reloaded.Get("42")
	assert.Equal(t, agent.TypeStream, got.BackendType)
	assert.Equal(t, "sess-abc", got.SessionID)
}

func TestLegacySessionIDKeyAliasedOnRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "channels.json")
	raw := `{"channels":{"7":{"backend_type":"stream","kilo_session_id":"legacy-sess"}}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	e := cfg.Get("7")
	assert.Equal(t, "legacy-sess", e.SessionID)
}

func TestLegacyAliasDoesNotOverrideExplicitSessionID(t *testing.T) {
	var e Entry
	raw := `{"session_id":"current","kilo_session_id":"legacy"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	assert.Equal(t, "current", e.SessionID)
}

func TestSaveWritesSessionIDNeverLegacyAlias(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	require.NoError(t, err)

	e := cfg.Get("9")
	e.SessionID = "new-session"
	cfg.Set("9", e)
	require.NoError(t, cfg.Save())

	data, err := os.ReadFile(filepath.Join(dir, "channels.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session_id": "new-session"`)
	assert.NotContains(t, string(data), "kilo_session_id")
}

func TestSanitizeAssistantNameStripsControlAndBackticks(t *testing.T) {
	out, ok := SanitizeAssistantName("Hello\x07World`tick`")
	require.True(t, ok)
	assert.Equal(t, "HelloWorldtick", out)
}

func TestSanitizeAssistantNameNeutralizesMentions(t *testing.T) {
	out, ok := SanitizeAssistantName("@everyone")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(out, "@"))
	assert.NotEqual(t, "@everyone", out)
	assert.True(t, len([]rune(out)) > len("everyone"))
}

func TestSanitizeAssistantNameRejectsAllWhitespace(t *testing.T) {
	_, ok := SanitizeAssistantName("   \t  ")
	assert.False(t, ok)
}

func TestSanitizeAssistantNameCapsAt48Runes(t *testing.T) {
	out, ok := SanitizeAssistantName(strings.Repeat("a", 100))
	require.True(t, ok)
	assert.Equal(t, assistantNameMaxRunes, len([]rune(out)))
}
