package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/items"
	"github.com/Adithya-Monish-Kumar-K/lostfound-matcher/internal/matcher"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestNormalizeCommand(t *testing.T) {
	out, err := execute(t, "normalize", "Black leather wallet", "with ID cards")
	require.NoError(t, err)
	assert.Equal(t, "black leather wallet id card\n", out)

	out, err = execute(t, "normalize", "--json", "the and of")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestLoadItems(t *testing.T) {
	list, err := loadItems(filepath.Join("testdata", "items.yaml"))
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.True(t, list[0].Active)
	assert.Equal(t, items.TypeFound, list[2].Type)
	assert.False(t, list[3].Active)
}

func TestLoadItemsRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing id":   "items:\n  - type: lost\n    description: x\n",
		"bad type":     "items:\n  - id: a\n    type: stolen\n",
		"duplicate id": "items:\n  - id: a\n    type: lost\n  - id: a\n    type: found\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := loadItems(path)
		assert.Error(t, err, name)
	}
}

func TestMatchCommand(t *testing.T) {
	path := filepath.Join("testdata", "items.yaml")

	out, err := execute(t, "match", "--items", path, "a")
	require.NoError(t, err)
	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, "Found a black wallet containing cards")
	assert.NotContains(t, out, "Blue water bottle")

	out, err = execute(t, "match", "--items", path, "--json", "--threshold", "0", "a")
	require.NoError(t, err)
	var res matcher.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "b", res.Matches[0].ItemID)
	assert.Equal(t, "c", res.Matches[1].ItemID)

	_, err = execute(t, "match", "--items", path, "d")
	assert.Error(t, err)

	_, err = execute(t, "match", "a")
	assert.Error(t, err)

	_, err = execute(t, "match", "--items", path, "--threshold", "NaN", "a")
	assert.ErrorContains(t, err, "threshold must be between 0 and 1")
}
