package search_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalc-io/kalc/pkg/kalc/model"
	"github.com/kalc-io/kalc/pkg/kalc/search"
)

func lineCluster(nodes int) *model.Cluster {
	c := model.NewCluster()
	for i := 0; i < nodes; i++ {
		c.AddNode(&model.Node{ObjectMeta: model.ObjectMeta{Name: fmt.Sprintf("node-%d", i)}})
	}
	c.AddPod(&model.Pod{ObjectMeta: model.ObjectMeta{Name: "walker", Namespace: "default"}, AtNode: 0, ReplicaSet: model.None, Deployment: model.None})
	return c
}

// step moves the pod to the next node; jump moves it anywhere at a higher cost.
func lineTransitions() []search.Transition {
	return []search.Transition{
		{
			Name: "step",
			Params: []search.Param{
				{Name: "pod", Kind: model.KindPod},
				{Name: "to", Kind: model.KindNode},
			},
			Guard: func(c *model.Cluster, b search.Binding) bool {
				return int(c.Pods[b[0]].AtNode)+1 == b[1]
			},
			Apply: func(c *model.Cluster, b search.Binding) {
				c.MutablePod(model.PodID(b[0])).AtNode = model.NodeID(b[1])
			},
		},
		{
			Name: "jump",
			Params: []search.Param{
				{Name: "pod", Kind: model.KindPod},
				{Name: "to", Kind: model.KindNode, From: func(c *model.Cluster, bound search.Binding) []int {
					var ids []int
					for _, id := range search.All(c, model.KindNode) {
						if id != int(c.Pods[bound[0]].AtNode) {
							ids = append(ids, id)
						}
					}
					return ids
				}},
			},
			Apply: func(c *model.Cluster, b search.Binding) {
				c.MutablePod(model.PodID(b[0])).AtNode = model.NodeID(b[1])
			},
			Cost: 2.5,
		},
	}
}

func atNode(id model.NodeID) search.Goal {
	return search.Goal{
		Name:      fmt.Sprintf("walker-on-%d", id),
		Satisfied: func(c *model.Cluster) bool { return c.Pods[0].AtNode == id },
	}
}

func names(plan *search.Plan) []string {
	var out []string
	for _, s := range plan.Steps {
		out = append(out, s.String())
	}
	return out
}

func TestSearchFindsCheapestPlan(t *testing.T) {
	scenarios := []struct {
		name     string
		target   model.NodeID
		costs    map[string]float64
		expected []string
		cost     float64
	}{
		{
			name:     "StepsAreCheaperForShortDistances",
			target:   2,
			expected: []string{"step[default/walker node-1]", "step[default/walker node-2]"},
			cost:     2,
		},
		{
			name:     "JumpIsCheaperForLongDistances",
			target:   4,
			expected: []string{"jump[default/walker node-4]"},
			cost:     2.5,
		},
		{
			name:     "CostOverride",
			target:   2,
			costs:    map[string]float64{"jump": 0.5},
			expected: []string{"jump[default/walker node-2]"},
			cost:     0.5,
		},
		{
			name:   "AlreadySatisfied",
			target: 0,
		},
	}

	for _, tc := range scenarios {
		t.Run(tc.name, func(t *testing.T) {
			c := lineCluster(5)
			engine := search.New(context.Background(), lineTransitions(), search.Options{Costs: tc.costs}, nil)
			plan, err := engine.Search(context.Background(), c, atNode(tc.target))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.expected, names(plan)); diff != "" {
				t.Errorf("plan mismatch (-want +got):\n%s", diff)
			}
			if plan.Cost != tc.cost {
				t.Errorf("cost = %v, want %v", plan.Cost, tc.cost)
			}
			if plan.Final.Pods[0].AtNode != tc.target {
				t.Errorf("final state has walker on %d", plan.Final.Pods[0].AtNode)
			}
			if c.Pods[0].AtNode != 0 {
				t.Error("search modified the initial cluster")
			}
		})
	}
}

func TestSearchParallelMatchesSequential(t *testing.T) {
	for _, target := range []model.NodeID{1, 2, 3, 5} {
		c := lineCluster(6)
		seq, err := search.New(context.Background(), lineTransitions(), search.Options{Workers: 1}, nil).Search(context.Background(), c, atNode(target))
		if err != nil {
			t.Fatal(err)
		}
		par, err := search.New(context.Background(), lineTransitions(), search.Options{Workers: 4}, nil).Search(context.Background(), c, atNode(target))
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(names(seq), names(par)); diff != "" {
			t.Errorf("target %d: parallel plan differs (-seq +par):\n%s", target, diff)
		}
		if seq.Expanded != par.Expanded {
			t.Errorf("target %d: expanded %d sequentially and %d in parallel", target, seq.Expanded, par.Expanded)
		}
	}
}

func TestSearchPlanNotFound(t *testing.T) {
	impossible := search.Goal{Name: "nowhere", Satisfied: func(*model.Cluster) bool { return false }}

	t.Run("Exhausted", func(t *testing.T) {
		engine := search.New(context.Background(), lineTransitions(), search.Options{}, nil)
		_, err := engine.Search(context.Background(), lineCluster(3), impossible)
		var notFound *search.PlanNotFoundError
		if !errors.As(err, &notFound) || notFound.Reason != search.ReasonExhausted {
			t.Fatalf("expected exhausted PlanNotFoundError, got %v", err)
		}
		// One state per node.
		if notFound.Expanded != 3 {
			t.Errorf("expanded %d states, want 3", notFound.Expanded)
		}
	})

	t.Run("Budget", func(t *testing.T) {
		engine := search.New(context.Background(), lineTransitions(), search.Options{MaxExpanded: 2}, nil)
		_, err := engine.Search(context.Background(), lineCluster(10), impossible)
		var notFound *search.PlanNotFoundError
		if !errors.As(err, &notFound) || notFound.Reason != search.ReasonBudget {
			t.Fatalf("expected budget PlanNotFoundError, got %v", err)
		}
		if notFound.Expanded != 2 {
			t.Errorf("expanded %d states, want 2", notFound.Expanded)
		}
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		engine := search.New(ctx, lineTransitions(), search.Options{}, nil)
		_, err := engine.Search(ctx, lineCluster(3), impossible)
		var notFound *search.PlanNotFoundError
		if !errors.As(err, &notFound) || notFound.Reason != search.ReasonCancelled {
			t.Fatalf("expected cancelled PlanNotFoundError, got %v", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Error("cancelled error should wrap the context error")
		}
	})
}

type recordingObserver struct {
	expanded int
	results  []string
}

func (r *recordingObserver) ObserveExpanded(n int) { r.expanded += n }

func (r *recordingObserver) ObservePlan(result string, _ time.Duration) {
	r.results = append(r.results, result)
}

func TestSearchReportsToObserver(t *testing.T) {
	obs := &recordingObserver{}
	engine := search.New(context.Background(), lineTransitions(), search.Options{}, obs)
	if _, err := engine.Search(context.Background(), lineCluster(3), atNode(1)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{search.ResultFound}, obs.results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
	if obs.expanded == 0 {
		t.Error("expected expanded states to be reported")
	}
}
