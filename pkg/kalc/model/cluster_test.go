package model_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kalc-io/kalc/pkg/kalc/model"
)

func newTestCluster() *model.Cluster {
	c := model.NewCluster()
	n0 := c.AddNode(&model.Node{ObjectMeta: model.ObjectMeta{Name: "node-0"}, CPUCapacity: 10, MemCapacity: 10})
	c.AddNode(&model.Node{ObjectMeta: model.ObjectMeta{Name: "node-1"}, CPUCapacity: 10, MemCapacity: 10})
	c.AddPod(&model.Pod{ObjectMeta: model.ObjectMeta{Name: "pod-a", Namespace: "default"}, AtNode: n0, CPURequest: 2, MemRequest: 2})
	c.AddPod(&model.Pod{ObjectMeta: model.ObjectMeta{Name: "pod-b", Namespace: "default"}, AtNode: model.None})
	c.AddService(&model.Service{ObjectMeta: model.ObjectMeta{Name: "svc", Namespace: "default"}})
	return c
}

func TestLookupByKey(t *testing.T) {
	c := newTestCluster()

	if id, ok := c.NodeByName("node-1"); !ok || id != 1 {
		t.Errorf("NodeByName(node-1) = %d,%v want 1,true", id, ok)
	}
	if id, ok := c.PodByKey("default", "pod-b"); !ok || id != 1 {
		t.Errorf("PodByKey(default/pod-b) = %d,%v want 1,true", id, ok)
	}
	if _, ok := c.PodByKey("other", "pod-b"); ok {
		t.Error("PodByKey must be namespace scoped")
	}
	if _, ok := c.ServiceByKey("default", "svc"); !ok {
		t.Error("expected service lookup to succeed")
	}
}

func TestCloneIsCopyOnWrite(t *testing.T) {
	c := newTestCluster()
	clone := c.Clone()

	if clone.Pods[0] != c.Pods[0] {
		t.Fatal("clone should share untouched pods with its source")
	}

	p := clone.MutablePod(0)
	p.AtNode = 1
	p.NotOnSameNode.Insert(1)
	clone.MutableService(0).AmountOfPodsOnDifferentNodes = 2
	clone.MutableScheduler().Enqueue(1)
	clone.MutableGlobal().AntiAffinityPreferedPolicyMet = true

	if c.Pods[0].AtNode != 0 {
		t.Errorf("source pod moved to %d, mutations leaked from clone", c.Pods[0].AtNode)
	}
	if c.Pods[0].NotOnSameNode.Len() != 0 {
		t.Error("relation set mutation leaked from clone")
	}
	if c.Services[0].AmountOfPodsOnDifferentNodes != 0 {
		t.Error("service mutation leaked from clone")
	}
	if c.Scheduler.QueueLength != 0 || c.Scheduler.Status != model.SchedulerClean {
		t.Error("scheduler mutation leaked from clone")
	}
	if c.Global.AntiAffinityPreferedPolicyMet {
		t.Error("global mutation leaked from clone")
	}
	if clone.Pods[1] != c.Pods[1] {
		t.Error("untouched pod should still be shared")
	}

	// A second write on the clone reuses its private copy.
	if clone.MutablePod(0) != p {
		t.Error("repeated MutablePod should return the same private copy")
	}
}

func TestSourceWritesAfterCloneDoNotLeak(t *testing.T) {
	c := newTestCluster()
	clone := c.Clone()

	c.MutableNode(0).CurrentFormalCPUConsumption = 7
	if clone.Nodes[0].CurrentFormalCPUConsumption != 0 {
		t.Error("source mutation after clone leaked into the clone")
	}
}

func TestStateKeyTracksPlannerState(t *testing.T) {
	c := newTestCluster()
	base := c.StateKey()

	same := c.Clone()
	if same.StateKey() != base {
		t.Error("a fresh clone must have the same state key")
	}

	moved := c.Clone()
	moved.MutablePod(0).AtNode = 1
	if moved.StateKey() == base {
		t.Error("moving a pod must change the state key")
	}

	edge := c.Clone()
	edge.MutablePod(0).NotOnSameNode.Insert(1)
	if edge.StateKey() == base {
		t.Error("adding an anti-affinity edge must change the state key")
	}
}

func TestPodPlacements(t *testing.T) {
	c := newTestCluster()
	orphan := c.AddPod(&model.Pod{ObjectMeta: model.ObjectMeta{Name: "pod-c", Namespace: "jobs"}, AtNode: model.None, NodeName: "gone", ReplicaSet: model.None, Deployment: model.None})

	scenarios := []struct {
		name  string
		match func(*model.Pod) bool
		want  []string
	}{
		{
			name: "All",
			want: []string{"default/pod-a node-0", "default/pod-b ", "jobs/pod-c gone"},
		},
		{
			name:  "Namespace",
			match: func(p *model.Pod) bool { return p.Namespace == "jobs" },
			want:  []string{"jobs/pod-c gone"},
		},
	}
	for _, tc := range scenarios {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, c.PodPlacements(tc.match)); diff != "" {
				t.Errorf("placements mismatch (-want +got):\n%s", diff)
			}
		})
	}
	if c.Pods[orphan].Scheduled() {
		t.Error("a pod naming an unknown node is not scheduled")
	}
}
