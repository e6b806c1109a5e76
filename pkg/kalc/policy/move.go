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

const (
	MovePodToNode = "move_pod_to_node"
	DrainNode     = "drain_node"
)

// MoveTransitions returns the pod migration and node drain family.
func MoveTransitions() []search.Transition {
	return []search.Transition{movePodToNode(), drainNode()}
}

func movePodToNode() search.Transition {
	return search.Transition{
		Name: MovePodToNode,
		Params: []search.Param{
			{Name: "pod", Kind: model.KindPod, From: func(c *model.Cluster, _ search.Binding) []int {
				var ids []int
				for _, p := range c.Pods {
					if consuming(p) {
						ids = append(ids, int(p.ID))
					}
				}
				return ids
			}},
			{Name: "to", Kind: model.KindNode, From: func(c *model.Cluster, bound search.Binding) []int {
				from := c.Pods[bound[0]].AtNode
				var ids []int
				for _, id := range c.ActiveNodes() {
					if id != from {
						ids = append(ids, int(id))
					}
				}
				return ids
			}},
		},
		Guard: CombineGuards(
			SchedulerClean,
			func(c *model.Cluster, b search.Binding) bool {
				return fits(c.Nodes[b[1]], c.Pods[b[0]])
			},
			func(c *model.Cluster, b search.Binding) bool {
				return separated(c, c.Pods[b[0]], model.NodeID(b[1]))
			},
		),
		Apply: func(c *model.Cluster, b search.Binding) {
			p := c.MutablePod(model.PodID(b[0]))
			from := c.MutableNode(p.AtNode)
			from.CurrentFormalCPUConsumption -= p.CPURequest
			from.CurrentFormalMemConsumption -= p.MemRequest
			from.AmountOfActivePods--

			to := c.MutableNode(model.NodeID(b[1]))
			to.CurrentFormalCPUConsumption += p.CPURequest
			to.CurrentFormalMemConsumption += p.MemRequest
			to.AmountOfActivePods++
			p.AtNode = to.ID
			p.NodeName = to.Name

			// Spread recorded for the pod's services may no longer hold.
			for _, id := range p.Services.UnsortedList() {
				if s := c.Services[id]; s.AmountOfPodsOnDifferentNodes > 0 || s.AntiAffinityPreferedPolicyMet {
					ms := c.MutableService(id)
					ms.AmountOfPodsOnDifferentNodes = 0
					ms.AntiAffinityPreferedPolicyMet = false
				}
			}
		},
	}
}

func drainNode() search.Transition {
	return search.Transition{
		Name:   DrainNode,
		Params: []search.Param{{Name: "node", Kind: model.KindNode}},
		Guard: func(c *model.Cluster, b search.Binding) bool {
			id := model.NodeID(b[0])
			return c.Nodes[id].Status == model.NodeActive && len(consumingPodsOn(c, id)) == 0
		},
		Apply: func(c *model.Cluster, b search.Binding) {
			c.MutableNode(model.NodeID(b[0])).Status = model.NodeInactive
			g := c.MutableGlobal()
			g.DrainedNodes++
			g.IsNodeDisrupted = true
		},
	}
}
