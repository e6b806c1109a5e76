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

package search

import (
	"fmt"

	"github.com/kalc-io/kalc/pkg/kalc/model"
)

// DefaultCost is the cost of a transition that does not declare one.
const DefaultCost = 1.0

// Binding holds the handles chosen for a transition's parameters, in parameter order.
type Binding []int

// Param is one typed parameter of a transition.
type Param struct {
	Name string
	Kind model.Kind
	// From narrows the domain using the parameters bound so far.
	// When nil every object of Kind is a candidate.
	From func(c *model.Cluster, bound Binding) []int
}

func (p Param) domain(c *model.Cluster, bound Binding) []int {
	if p.From != nil {
		return p.From(c, bound)
	}
	return All(c, p.Kind)
}

// Transition is a guarded action over the cluster.
type Transition struct {
	Name   string
	Params []Param
	// Guard reports whether the transition applies to a binding. It must not modify the cluster.
	Guard func(c *model.Cluster, b Binding) bool
	// Apply mutates a private copy of the cluster through its Mutable accessors.
	Apply func(c *model.Cluster, b Binding)
	// Cost of one application; DefaultCost when not positive.
	Cost float64
}

// Goal is the predicate a plan must reach.
type Goal struct {
	Name      string
	Satisfied func(c *model.Cluster) bool
}

// Step is one applied transition of a plan.
type Step struct {
	Transition string
	// Args are the keys of the bound objects.
	Args    []string
	Binding Binding
	Cost    float64
}

func (s Step) String() string {
	return fmt.Sprintf("%s%v", s.Transition, s.Args)
}

// Plan is an ordered sequence of steps reaching a goal.
type Plan struct {
	Goal     string
	Steps    []Step
	Cost     float64
	Expanded int
	// Final is the state the plan reaches.
	Final *model.Cluster
}

// All returns every handle of a kind.
func All(c *model.Cluster, kind model.Kind) []int {
	var n int
	switch kind {
	case model.KindNode:
		n = len(c.Nodes)
	case model.KindPod:
		n = len(c.Pods)
	case model.KindService:
		n = len(c.Services)
	case model.KindReplicaSet:
		n = len(c.ReplicaSets)
	case model.KindDeployment:
		n = len(c.Deployments)
	case model.KindPriorityClass:
		n = len(c.PriorityClasses)
	}
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

// ObjectName returns the key of a bound object.
func ObjectName(c *model.Cluster, kind model.Kind, id int) string {
	switch kind {
	case model.KindNode:
		return c.Nodes[id].Key()
	case model.KindPod:
		return c.Pods[id].Key()
	case model.KindService:
		return c.Services[id].Key()
	case model.KindReplicaSet:
		return c.ReplicaSets[id].Key()
	case model.KindDeployment:
		return c.Deployments[id].Key()
	case model.KindPriorityClass:
		return c.PriorityClasses[id].Key()
	}
	return fmt.Sprintf("%s#%d", kind, id)
}
