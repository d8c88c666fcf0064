package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistration(t *testing.T) {
	root := GetRootCmd()
	assert.Equal(t, "maestro", root.Use)
	assert.Equal(t, GetVersion(), root.Version)

	names := map[string]bool{}
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"run", "fuse", "status", "configure"} {
		assert.True(t, names[want], "expected subcommand %s", want)
	}
}

func TestGlobalFlags(t *testing.T) {
	root := GetRootCmd()

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)

	flag = root.PersistentFlags().Lookup("log-level")
	require.NotNil(t, flag)
	assert.Equal(t, "info", flag.DefValue)
}
