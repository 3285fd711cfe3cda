package metadata_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanaya/osu-elastic-indexer/metadata"
)

func TestStateMachineForwardOnly(t *testing.T) {
	cases := []struct {
		from, to metadata.State
		ok       bool
	}{
		{metadata.StateBuilding, metadata.StateReady, true},
		{metadata.StateBuilding, metadata.StateAliased, true},
		{metadata.StateBuilding, metadata.StateClosed, false},
		{metadata.StateReady, metadata.StateAliased, true},
		{metadata.StateReady, metadata.StateBuilding, false},
		{metadata.StateAliased, metadata.StateAliased, true},
		{metadata.StateAliased, metadata.StateClosed, true},
		{metadata.StateClosed, metadata.StateAliased, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanAdvance(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestAdvanceRejectsInvalidTransition(t *testing.T) {
	m := &metadata.Metadata{State: metadata.StateClosed}
	err := m.Advance(metadata.StateReady)
	require.Error(t, err)
	var ite *metadata.InvalidTransitionError
	assert.ErrorAs(t, err, &ite)
}

func TestAdvanceLastIDNeverRegresses(t *testing.T) {
	m := &metadata.Metadata{LastID: 100}
	m.AdvanceLastID(50)
	assert.Equal(t, int64(100), m.LastID)
	m.AdvanceLastID(150)
	assert.Equal(t, int64(150), m.LastID)
}
