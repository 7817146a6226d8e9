package netreplica

import "testing"

func TestNewMetricsRegistersWithoutPanicking(t *testing.T) {
	m := NewMetrics("test", "go1.23")
	if m.Registry == nil {
		t.Fatalf("expected a non-nil isolated registry")
	}

	m.LinksOpenedTotal.WithLabelValues("Server").Inc()
	m.LiveReplicas.Set(3)

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected at least one registered metric family")
	}
}
