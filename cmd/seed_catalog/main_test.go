package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supercopa/totem/internal/catalog"
)

func TestRows(t *testing.T) {
	cat := catalog.Default()
	teams, idols := rows(cat)

	require.Len(t, teams, len(cat.Teams()))
	require.Len(t, idols, len(cat.Idols()))

	known := make(map[string]bool, len(teams))
	for _, team := range teams {
		known[team.ID] = true
	}
	for _, idol := range idols {
		assert.True(t, known[idol.TeamID], "idol %s references unknown team %s", idol.ID, idol.TeamID)
	}
}

func TestLoadCatalog_Default(t *testing.T) {
	cat, err := loadCatalog("")
	require.NoError(t, err)
	assert.NotEmpty(t, cat.Teams())
}

func TestLoadCatalog_MissingFile(t *testing.T) {
	_, err := loadCatalog("does-not-exist.yaml")
	assert.Error(t, err)
}
