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

package policy

import (
	"github.com/kalc-io/kalc/pkg/kalc/model"
	"github.com/kalc-io/kalc/pkg/kalc/search"
)

// Guard is a precondition over a binding.
type Guard func(c *model.Cluster, b search.Binding) bool

// CombineGuards returns a guard that holds when every guard holds.
func CombineGuards(guards ...Guard) Guard {
	return func(c *model.Cluster, b search.Binding) bool {
		for _, g := range guards {
			if !g(c, b) {
				return false
			}
		}
		return true
	}
}

// SchedulerClean holds when no pod waits in the scheduling queue.
func SchedulerClean(c *model.Cluster, _ search.Binding) bool {
	return c.Scheduler.Status == model.SchedulerClean
}

// consuming reports whether a pod counts against its node.
func consuming(p *model.Pod) bool {
	return p.Scheduled() && (p.Status == model.PodRunning || p.Status == model.PodPending)
}

// consumingPodsOn returns the pods counted against a node.
func consumingPodsOn(c *model.Cluster, id model.NodeID) []model.PodID {
	var ids []model.PodID
	for _, pod := range c.PodsOnNode(id) {
		if consuming(c.Pods[pod]) {
			ids = append(ids, pod)
		}
	}
	return ids
}

// fits reports whether a pod's requests fit the free capacity of a node.
func fits(n *model.Node, p *model.Pod) bool {
	if n.CurrentFormalCPUConsumption+p.CPURequest > n.CPUCapacity {
		return false // CPU capacity exceeded
	}
	if n.CurrentFormalMemConsumption+p.MemRequest > n.MemCapacity {
		return false // Memory capacity exceeded
	}
	return true
}

// separated reports whether pod may share node with every pod already there.
func separated(c *model.Cluster, pod *model.Pod, node model.NodeID) bool {
	for _, other := range c.Pods {
		if other.ID == pod.ID || other.AtNode != node {
			continue
		}
		if pod.NotOnSameNode.Has(other.ID) || other.NotOnSameNode.Has(pod.ID) {
			return false
		}
	}
	return true
}

// WithinCapacity holds when no active node is loaded beyond its capacity.
func WithinCapacity(c *model.Cluster) bool {
	for _, n := range c.Nodes {
		if n.Status != model.NodeActive {
			continue
		}
		if n.CurrentFormalCPUConsumption > n.CPUCapacity || n.CurrentFormalMemConsumption > n.MemCapacity {
			return false
		}
	}
	return true
}
