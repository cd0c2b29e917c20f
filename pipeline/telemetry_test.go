package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aouyang1/go-ensembler/uplift"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetry(t *testing.T) {
	tel := NewTelemetry()
	tel.ObserveFit("knn", nil)
	tel.ObserveFit("knn", nil)
	tel.ObserveFit("gbt", errors.New("boom"))
	tel.ObserveCrossings(3)
	tel.ObserveMerge(uplift.ActionMerged)
	tel.Stage(StageSplit)()

	assert.Equal(t, 2.0, testutil.ToFloat64(tel.modelFits.WithLabelValues("knn", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.modelFits.WithLabelValues("gbt", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(tel.crossings))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.upliftMerges.WithLabelValues("merged")))
	assert.Equal(t, 1, testutil.CollectAndCount(tel.stageDuration))

	filename := filepath.Join(t.TempDir(), "ensembler.prom")
	require.Nil(t, tel.WriteTextfile(filename))
	data, err := os.ReadFile(filename)
	require.Nil(t, err)
	assert.True(t, strings.Contains(string(data), "ensembler_model_fits_total"))
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NotPanics(t, func() {
		tel.ObserveFit("knn", nil)
		tel.ObserveCrossings(1)
		tel.ObserveMerge(uplift.ActionSkipped)
		tel.Stage(StageLoad)()
	})
	assert.Nil(t, tel.WriteTextfile("ignored.prom"))
}
