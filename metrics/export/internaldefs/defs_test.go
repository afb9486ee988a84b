package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/tokengate"
)

func TestEveryCounterHasADefinition(t *testing.T) {
	snapshot := tokengate.NewMetrics(tokengate.MetricsConfig{Enabled: true}).Snapshot()

	defined := make(map[tokengate.MetricID]bool, len(CounterDefs))
	names := make(map[string]bool, len(CounterDefs))
	for _, def := range CounterDefs {
		if defined[def.ID] || names[def.Name] {
			t.Fatalf("duplicate definition %s", def.Name)
		}
		if !strings.HasPrefix(def.Name, "tokengate_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("unexpected counter name %s", def.Name)
		}
		defined[def.ID] = true
		names[def.Name] = true
	}

	for id := range snapshot.Counters {
		if !defined[id] {
			t.Fatalf("metric id %d has no export definition", id)
		}
	}
	for id := range snapshot.Histograms {
		found := false
		for _, def := range HistogramDefs {
			found = found || def.ID == id
		}
		if !found {
			t.Fatalf("histogram id %d has no export definition", id)
		}
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
	if len(HistogramUpperBounds)+1 != len(HistogramBoundSuffix) {
		t.Fatal("bounds and suffixes out of sync")
	}
}
