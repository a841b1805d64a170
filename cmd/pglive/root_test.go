package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "pglive", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "explain"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	f := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, f)
	assert.Equal(t, "c", f.Shorthand)
	assert.Equal(t, "", f.DefValue)
}

func TestServeRequiresDSN(t *testing.T) {
	t.Setenv("PGLIVE_DSN", "")
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"serve"})
	cmd.SilenceErrors = true
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn is required")
}

func TestExplainNeedsQuery(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"explain"})
	cmd.SilenceErrors = true
	assert.Error(t, cmd.Execute())
}
