package items

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseType(t *testing.T) {
	lost, err := ParseType(" LOST ")
	require.NoError(t, err)
	assert.Equal(t, TypeLost, lost)

	found, err := ParseType("found")
	require.NoError(t, err)
	assert.Equal(t, TypeFound, found)

	_, err = ParseType("misplaced")
	assert.Error(t, err)
}

func TestOpposite(t *testing.T) {
	assert.Equal(t, TypeFound, TypeLost.Opposite())
	assert.Equal(t, TypeLost, TypeFound.Opposite())
}

func TestMatchText(t *testing.T) {
	it := Item{Name: "Wallet", Description: "black leather", Place: "library"}

	assert.Equal(t, "Wallet black leather library", it.MatchText(TextFields{Name: true, Place: true}))
	assert.Equal(t, "black leather", it.MatchText(TextFields{}))
	assert.Equal(t, "", Item{}.MatchText(TextFields{Name: true, Place: true}))
}

func TestChangeEventValidate(t *testing.T) {
	assert.NoError(t, ChangeEvent{ItemID: "a", Kind: ChangeKindChanged}.Validate())
	assert.NoError(t, ChangeEvent{ItemID: "a", Kind: ChangeKindRemoved}.Validate())
	assert.Error(t, ChangeEvent{ItemID: " ", Kind: ChangeKindChanged}.Validate())
	assert.Error(t, ChangeEvent{ItemID: "a", Kind: "archived"}.Validate())
}
