package greensplit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anggasct/greensplit"
)

func TestEndToEnd(t *testing.T) {
	validation := greensplit.NewValidationObserver()
	recorder := greensplit.NewRecordingObserver(0)

	script := &greensplit.Script{Cycles: []greensplit.ScriptCycle{
		{Arrivals: []greensplit.Arrival{
			{Node: 0, Kind: "vehicle", Count: 10},
			{Node: 1, Kind: "pedestrian", Count: 10},
		}},
	}}

	c, err := greensplit.New(greensplit.DefaultSettings(),
		greensplit.WithSource(greensplit.NewScriptedSource(script)),
		greensplit.WithObserver(validation),
		greensplit.WithObserver(recorder))
	require.NoError(t, err)

	report, err := c.RunCycle(context.Background())
	require.NoError(t, err)

	shares := map[int]float64{}
	for _, n := range report.Nodes {
		shares[n.ID] = n.GreenTime
	}
	assert.InDelta(t, 42.0, shares[0], 1e-9)
	assert.InDelta(t, 18.0, shares[1], 1e-9)
	assert.Equal(t, 0.0, shares[2])
	assert.Equal(t, 0.0, shares[3])
	assert.Equal(t, 10.0, report.TotalPriority)
	assert.Equal(t, greensplit.PhaseIdle, c.Phase())

	// an idle cycle applies the equal split
	report, err = c.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Degenerate)
	for _, n := range report.Nodes {
		assert.InDelta(t, 15.0, n.GreenTime, 1e-9)
	}

	assert.False(t, validation.HasViolations(), validation.GetViolations())
	assert.Len(t, recorder.Reports(), 2)
}

func TestStandaloneAllocation(t *testing.T) {
	nodes := []*greensplit.Node{
		greensplit.NewNode(0, greensplit.DefaultWeights()),
		greensplit.NewNode(1, greensplit.DefaultWeights()),
	}
	require.NoError(t, nodes[1].RecordDemand(greensplit.Vehicle, 2))
	require.NoError(t, nodes[0].RecordDemand(greensplit.Vehicle, 1))

	ranked := greensplit.Rank(nodes)
	require.Len(t, ranked, 2)
	assert.Equal(t, 1, ranked[0].ID)

	result, err := greensplit.Allocate(ranked, nodes, 60, greensplit.EqualSplit)
	require.NoError(t, err)
	assert.InDelta(t, 60.0, result.Sum(), 1e-9)
	assert.InDelta(t, 40.0, nodes[1].GreenTime(), 1e-9)
	assert.InDelta(t, 20.0, nodes[0].GreenTime(), 1e-9)

	err = nodes[0].RecordDemand(greensplit.Vehicle, -1)
	assert.True(t, errors.Is(err, greensplit.ErrNegativeCount))
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, greensplit.Seconds(1.5))
}
