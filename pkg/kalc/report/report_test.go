package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kalc-io/kalc/pkg/kalc/metrics"
)

func TestRender(t *testing.T) {
	before := metrics.Result{
		Deployments: []metrics.DeploymentFaultTolerance{
			{FaultToleranceResult: metrics.FaultToleranceResult{Name: "default/web", Pods: 2, Nodes: 1, Square: 1}},
		},
		Oversubscription: metrics.OversubscriptionResult{
			Nodes: []metrics.NodeOversubscription{{Name: "node-0", CPU: 0.5, Mem: 0.25, Average: 0.375}},
		},
		Composite: 0.4,
	}
	after := before
	after.Oversubscription.Nodes = []metrics.NodeOversubscription{{Name: "node-1", CPU: 0.1, Mem: 0.1, Average: 0.1}}

	var b bytes.Buffer
	if err := Render(&b, "kalc report", Snapshot{Label: "before", Result: before}, Snapshot{Label: "after", Result: after}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := b.String()
	for _, s := range []string{"kalc report", "Node oversubscription", "Deployment fault tolerance", "node-0", "node-1", "after cpu"} {
		if !strings.Contains(out, s) {
			t.Errorf("report does not contain %q", s)
		}
	}
}

func TestRenderEmpty(t *testing.T) {
	if err := Render(&bytes.Buffer{}, "empty"); err == nil {
		t.Error("expected an error without snapshots")
	}
}
