package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.IncrementAnswers()
	m.IncrementAnswers()
	m.IncrementAnalysesConcluded(3)
	m.IncrementCardsDeleted()
	m.IncrementGeneration("monitoria", true, false)
	m.IncrementGeneration("monitoria", false, false)
	m.IncrementGeneration("habilitacao", false, true)

	snap := m.GetSnapshot()
	assert.EqualValues(t, 2, snap.AnswersRecorded)
	assert.EqualValues(t, 1, snap.AnalysesConcluded)
	assert.EqualValues(t, 3, snap.CardsSaved)
	assert.EqualValues(t, 1, snap.CardsDeleted)
	assert.EqualValues(t, 2, snap.GenerationsTotal)
	assert.EqualValues(t, 1, snap.GenerationsSucceeded)
	assert.EqualValues(t, 1, snap.GenerationsRefused)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.answers))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.cards.WithLabelValues("saved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("habilitacao", "refused")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.Len(t, families, 4)
}

func TestSeparateInstancesDoNotShareRegistry(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()
	a.IncrementAnswers()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.answers))
}
