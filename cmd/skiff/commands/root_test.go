package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoot(t *testing.T) {
	cmd := Root()

	require.NotNil(t, cmd)
	assert.Equal(t, "skiff", cmd.Use)
	assert.Equal(t, "Provision and manage batch compute fleets on Azure", cmd.Short)
}

func TestRoot_HasSubcommands(t *testing.T) {
	cmd := Root()

	expectedSubcommands := []string{
		"pool",
		"images",
		"keyvault",
		"storage",
		"version",
	}

	subcommands := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		subcommands[sub.Name()] = true
	}

	for _, expected := range expectedSubcommands {
		assert.True(t, subcommands[expected], "Expected subcommand %s not found", expected)
	}
}

func TestPool_HasSubcommands(t *testing.T) {
	cmd := Pool()

	expectedSubcommands := []string{
		"add",
		"del",
		"resize",
		"listskus",
		"listnodes",
		"grls",
		"nodes",
		"useradd",
	}

	subcommands := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		subcommands[sub.Name()] = true
	}

	for _, expected := range expectedSubcommands {
		assert.True(t, subcommands[expected], "Expected subcommand %s not found", expected)
	}
}

func TestPoolAdd_Flags(t *testing.T) {
	cmd := Pool()
	add, _, err := cmd.Find([]string{"add"})
	require.NoError(t, err)

	config := add.Flags().Lookup("config")
	require.NotNil(t, config)
	assert.Equal(t, "fleet.yaml", config.DefValue)
	assert.NotNil(t, add.Flags().Lookup("resources"))
	assert.NotNil(t, add.Flags().Lookup("yes"))
	assert.NotNil(t, add.Flags().Lookup("wait"))
}
