/*
Copyright 2024 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/


// Package synthetic generates seeded random cluster manifests for tests and benchmarks.
package synthetic

import (
	"fmt"
	"io"
	"strconv"

	"golang.org/x/exp/rand"
	appsv1 "k8s.io/api/apps/v1"
	v1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	"github.com/kalc-io/kalc/pkg/kalc/builder"
)

var (
	cpuRequests = []string{"100m", "250m", "500m", "1"}
	memRequests = []string{"128Mi", "256Mi", "512Mi", "1Gi"}
)

// Config shapes a generated cluster.
type Config struct {
	Seed        uint64
	Namespace   string
	Nodes       int
	Deployments int
	// Replicas per deployment are drawn from [MinReplicas, MaxReplicas].
	MinReplicas int
	MaxReplicas int
	NodeCPU     string
	NodeMemory  string
	// PendingRatio of pods are left unscheduled.
	PendingRatio float64
	// AntiAffinity annotates every service with a spread target.
	AntiAffinity bool
}

// DefaultConfig is a small cluster that builds without warnings.
func DefaultConfig() Config {
	return Config{
		Seed:        1,
		Namespace:   "default",
		Nodes:       3,
		Deployments: 2,
		MinReplicas: 2,
		MaxReplicas: 3,
		NodeCPU:     "4",
		NodeMemory:  "16Gi",
	}
}

func (c Config) validate() error {
	if c.Nodes <= 0 {
		return fmt.Errorf("need at least one node, got %d", c.Nodes)
	}
	if c.Deployments < 0 {
		return fmt.Errorf("negative deployment count %d", c.Deployments)
	}
	if c.MinReplicas < 0 || c.MaxReplicas < c.MinReplicas {
		return fmt.Errorf("invalid replica range [%d, %d]", c.MinReplicas, c.MaxReplicas)
	}
	if c.PendingRatio < 0 || c.PendingRatio > 1 {
		return fmt.Errorf("pending ratio %v outside [0, 1]", c.PendingRatio)
	}
	if _, err := resource.ParseQuantity(c.NodeCPU); err != nil {
		return fmt.Errorf("node cpu: %w", err)
	}
	if _, err := resource.ParseQuantity(c.NodeMemory); err != nil {
		return fmt.Errorf("node memory: %w", err)
	}
	return nil
}

// Generate returns nodes followed by a service, deployment, replica set and pods per deployment.
// The same config always yields the same objects.
func Generate(cfg Config) ([]runtime.Object, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Namespace == "" {
		cfg.Namespace = metav1.NamespaceDefault
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	var objects []runtime.Object
	nodes := make([]string, cfg.Nodes)
	for i := range nodes {
		nodes[i] = fmt.Sprintf("node-%d", i)
		objects = append(objects, node(nodes[i], cfg))
	}

	for d := 0; d < cfg.Deployments; d++ {
		name := fmt.Sprintf("app-%d", d)
		labels := map[string]string{"app": name}
		replicas := cfg.MinReplicas
		if cfg.MaxReplicas > cfg.MinReplicas {
			replicas += rng.Intn(cfg.MaxReplicas - cfg.MinReplicas + 1)
		}

		svc := &v1.Service{
			TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: cfg.Namespace},
			Spec:       v1.ServiceSpec{Selector: labels},
		}
		if cfg.AntiAffinity && replicas >= 2 {
			svc.Annotations = map[string]string{
				builder.AnnotationAntiAffinity: "true",
				builder.AnnotationTargetPods:   strconv.Itoa(min(replicas, cfg.Nodes, 5)),
			}
		}

		deployUID := types.UID(fmt.Sprintf("%s-deployment", name))
		deploy := &appsv1.Deployment{
			TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
			ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: cfg.Namespace, UID: deployUID, Labels: labels},
			Spec: appsv1.DeploymentSpec{
				Replicas: ptr.To(int32(replicas)),
				Selector: &metav1.LabelSelector{MatchLabels: labels},
			},
		}

		rsName := fmt.Sprintf("%s-%06x", name, rng.Intn(1<<24))
		rsUID := types.UID(rsName)
		rs := &appsv1.ReplicaSet{
			TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: "ReplicaSet"},
			ObjectMeta: metav1.ObjectMeta{
				Name: rsName, Namespace: cfg.Namespace, UID: rsUID, Labels: labels,
				OwnerReferences: []metav1.OwnerReference{{APIVersion: "apps/v1", Kind: "Deployment", Name: name, UID: deployUID, Controller: ptr.To(true)}},
			},
			Spec: appsv1.ReplicaSetSpec{
				Replicas: ptr.To(int32(replicas)),
				Selector: &metav1.LabelSelector{MatchLabels: labels},
			},
		}
		objects = append(objects, svc, deploy, rs)

		cpu := cpuRequests[rng.Intn(len(cpuRequests))]
		mem := memRequests[rng.Intn(len(memRequests))]
		for r := 0; r < replicas; r++ {
			p := &v1.Pod{
				TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Pod"},
				ObjectMeta: metav1.ObjectMeta{
					Name: fmt.Sprintf("%s-%05x", rsName, rng.Intn(1<<20)), Namespace: cfg.Namespace, Labels: labels,
					OwnerReferences: []metav1.OwnerReference{{APIVersion: "apps/v1", Kind: "ReplicaSet", Name: rsName, UID: rsUID, Controller: ptr.To(true)}},
				},
				Spec: v1.PodSpec{
					Containers: []v1.Container{{
						Name:  "app",
						Image: "registry.k8s.io/pause:3.10",
						Resources: v1.ResourceRequirements{Requests: v1.ResourceList{
							v1.ResourceCPU:    resource.MustParse(cpu),
							v1.ResourceMemory: resource.MustParse(mem),
						}},
					}},
				},
				Status: v1.PodStatus{Phase: v1.PodPending},
			}
			if rng.Float64() >= cfg.PendingRatio {
				p.Spec.NodeName = nodes[rng.Intn(len(nodes))]
				p.Status.Phase = v1.PodRunning
			}
			objects = append(objects, p)
		}
	}
	return objects, nil
}

func node(name string, cfg Config) *v1.Node {
	capacity := v1.ResourceList{
		v1.ResourceCPU:    resource.MustParse(cfg.NodeCPU),
		v1.ResourceMemory: resource.MustParse(cfg.NodeMemory),
		v1.ResourcePods:   resource.MustParse("110"),
	}
	return &v1.Node{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Node"},
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: map[string]string{v1.LabelHostname: name}},
		Status: v1.NodeStatus{
			Capacity:    capacity,
			Allocatable: capacity,
			Conditions:  []v1.NodeCondition{{Type: v1.NodeReady, Status: v1.ConditionTrue}},
		},
	}
}

// Write generates a cluster and writes it as a multi-document YAML stream.
func Write(w io.Writer, cfg Config) (int, error) {
	objects, err := Generate(cfg)
	if err != nil {
		return 0, err
	}
	for i, obj := range objects {
		data, err := yaml.Marshal(obj)
		if err != nil {
			return i, fmt.Errorf("encoding document %d: %w", i, err)
		}
		if _, err := fmt.Fprintf(w, "---\n%s", data); err != nil {
			return i, err
		}
	}
	return len(objects), nil
}
