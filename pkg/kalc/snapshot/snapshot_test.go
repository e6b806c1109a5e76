package snapshot

import (
	"bytes"
	"context"
	"strings"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	v1 "k8s.io/api/core/v1"
	schedulingv1 "k8s.io/api/scheduling/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/utils/ptr"

	"github.com/kalc-io/kalc/pkg/kalc/builder"
)

func testObjects() []runtime.Object {
	node := &v1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "node-0", ManagedFields: []metav1.ManagedFieldsEntry{{Manager: "kubelet"}}},
		Status: v1.NodeStatus{
			Allocatable: v1.ResourceList{v1.ResourceCPU: resource.MustParse("4"), v1.ResourceMemory: resource.MustParse("8Gi")},
			Conditions:  []v1.NodeCondition{{Type: v1.NodeReady, Status: v1.ConditionTrue}},
		},
	}
	deployment := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "shop", UID: "d-1", Labels: map[string]string{"app": "web"}},
		Spec:       appsv1.DeploymentSpec{Replicas: ptr.To[int32](1)},
	}
	rs := &appsv1.ReplicaSet{
		ObjectMeta: metav1.ObjectMeta{
			Name: "web-1", Namespace: "shop", UID: "rs-1", Labels: map[string]string{"app": "web"},
			OwnerReferences: []metav1.OwnerReference{{Kind: "Deployment", Name: "web", UID: "d-1"}},
		},
		Spec: appsv1.ReplicaSetSpec{Replicas: ptr.To[int32](1)},
	}
	pod := &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: "web-1-a", Namespace: "shop", Labels: map[string]string{"app": "web"},
			OwnerReferences: []metav1.OwnerReference{{Kind: "ReplicaSet", Name: "web-1", UID: "rs-1"}},
		},
		Spec: v1.PodSpec{
			NodeName: "node-0",
			Containers: []v1.Container{{
				Name: "app",
				Resources: v1.ResourceRequirements{Requests: v1.ResourceList{
					v1.ResourceCPU: resource.MustParse("500m"), v1.ResourceMemory: resource.MustParse("1Gi"),
				}},
			}},
		},
		Status: v1.PodStatus{Phase: v1.PodRunning},
	}
	service := &v1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "shop"},
		Spec:       v1.ServiceSpec{Selector: map[string]string{"app": "web"}},
	}
	other := &v1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: "batch", Namespace: "jobs", Labels: map[string]string{"app": "batch"}},
		Status:     v1.PodStatus{Phase: v1.PodPending},
	}
	priority := &schedulingv1.PriorityClass{ObjectMeta: metav1.ObjectMeta{Name: "high"}, Value: 1000}
	return []runtime.Object{node, deployment, rs, pod, service, other, priority}
}

func TestDumpLoadsIntoBuilder(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset(testObjects()...)

	var b bytes.Buffer
	n, err := Dump(ctx, client, &b, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Errorf("dumped %d documents, want 7", n)
	}
	if strings.Contains(b.String(), "managedFields") {
		t.Error("managed fields should be stripped")
	}

	kb := builder.New(ctx)
	if err := kb.Load(&b, builder.ModeLoad); err != nil {
		t.Fatal(err)
	}
	c, err := kb.Build(ctx)
	if err != nil {
		t.Fatalf("unexpected build error: %v", err)
	}
	if len(kb.Warnings()) != 0 {
		t.Errorf("unexpected warnings: %v", kb.Warnings())
	}
	id, ok := c.PodByKey("shop", "web-1-a")
	if !ok {
		t.Fatal("pod not built")
	}
	pod := c.Pods[id]
	if !pod.Scheduled() || c.Nodes[pod.AtNode].Name != "node-0" {
		t.Error("pod not linked to its node")
	}
	if pod.ReplicaSet == -1 || pod.Deployment == -1 {
		t.Error("pod owners not resolved")
	}
	if pod.Services.Len() != 1 {
		t.Errorf("pod belongs to %d services, want 1", pod.Services.Len())
	}
	if len(c.PriorityClasses) != 1 {
		t.Errorf("built %d priority classes, want 1", len(c.PriorityClasses))
	}
}

func TestDumpFilters(t *testing.T) {
	scenarios := []struct {
		name     string
		opts     Options
		expected int
	}{
		// cluster-scoped kinds are always dumped
		{name: "Namespace", opts: Options{Namespace: "jobs"}, expected: 3},
		{name: "LabelSelector", opts: Options{LabelSelector: "app=web"}, expected: 6},
	}
	for _, tc := range scenarios {
		t.Run(tc.name, func(t *testing.T) {
			client := fake.NewSimpleClientset(testObjects()...)
			n, err := Dump(context.Background(), client, &bytes.Buffer{}, tc.opts)
			if err != nil {
				t.Fatal(err)
			}
			if n != tc.expected {
				t.Errorf("dumped %d documents, want %d", n, tc.expected)
			}
		})
	}
}
