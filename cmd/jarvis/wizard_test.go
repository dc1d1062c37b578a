package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"jarvis/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWizard_WritesAnswers(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "jarvis", "config.json")
	answers := strings.Join([]string{
		"2",                             // ollama
		"2250700000001, 2250700000002 ", // admins
		"Acme",                          // company
		"",                              // timezone: keep default
		"n",                             // voice
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runWizard(strings.NewReader(answers), &out, cfgPath))
	assert.Contains(t, out.String(), "Config saved to "+cfgPath)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.General.DefaultProvider)
	assert.True(t, cfg.Providers["ollama"].Enabled)
	assert.Equal(t, []string{"2250700000001", "2250700000002"}, []string(cfg.Admin.Numbers))
	assert.Equal(t, "Acme", cfg.Business.Company)
	assert.Equal(t, "Africa/Abidjan", cfg.Business.Timezone)
	assert.False(t, cfg.Interaction.Voice.Enabled)
	assert.False(t, cfg.Interaction.Features.VoiceMessages)
}

func TestRunWizard_EmptyInputKeepsDefaults(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")

	require.NoError(t, runWizard(strings.NewReader(""), &bytes.Buffer{}, cfgPath))

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.General.DefaultProvider)
	assert.Equal(t, "Nourx", cfg.Business.Company)
	assert.True(t, cfg.Interaction.Voice.Enabled)
}

func TestRunWizard_InvalidTimezone(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.json")
	answers := "1\nsk-test\n\nAcme\nMars/Olympus\n"

	err := runWizard(strings.NewReader(answers), &bytes.Buffer{}, cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "business.timezone")
}
