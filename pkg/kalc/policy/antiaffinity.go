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
	"fmt"

	"github.com/kalc-io/kalc/pkg/kalc/model"
	"github.com/kalc-io/kalc/pkg/kalc/search"
)

const (
	AddPodsToAntiAffinityGroup    = "add_pods_to_antiaffinity_group"
	MarkAntiAffinityPolicyMet     = "mark_antiaffinity_prefered_policy_met"
	MarkAntiAffinityPolicyEnabled = "mark_antiaffinity_prefered_policy_enabled"

	// MinSpread and MaxSpread bound the pod counts of the mark_N_pods transitions.
	MinSpread = 2
	MaxSpread = 5
)

// MarkPodsNotAtSameNode is the name of the transition recording n service pods on distinct nodes.
func MarkPodsNotAtSameNode(n int) string {
	return fmt.Sprintf("mark_%d_pods_of_service_as_not_at_same_node", n)
}

// AntiAffinityTransitions returns the anti-affinity family.
func AntiAffinityTransitions() []search.Transition {
	transitions := []search.Transition{
		addPodsToAntiAffinityGroup(),
		markAntiAffinityPolicyMet(),
		markAntiAffinityPolicyEnabled(),
	}
	for n := MinSpread; n <= MaxSpread; n++ {
		transitions = append(transitions, markPodsNotAtSameNode(n))
	}
	return transitions
}

func addPodsToAntiAffinityGroup() search.Transition {
	return search.Transition{
		Name: AddPodsToAntiAffinityGroup,
		Params: []search.Param{
			{Name: "pod", Kind: model.KindPod},
			{Name: "podOther", Kind: model.KindPod, From: func(c *model.Cluster, bound search.Binding) []int {
				pod := c.Pods[bound[0]]
				var ids []int
				for _, other := range c.Pods {
					if other.ID != pod.ID && !pod.NotOnSameNode.Has(other.ID) {
						ids = append(ids, int(other.ID))
					}
				}
				return ids
			}},
		},
		Apply: func(c *model.Cluster, b search.Binding) {
			c.MutablePod(model.PodID(b[0])).NotOnSameNode.Insert(model.PodID(b[1]))
		},
	}
}

func markAntiAffinityPolicyMet() search.Transition {
	return search.Transition{
		Name:   MarkAntiAffinityPolicyMet,
		Params: []search.Param{{Name: "service", Kind: model.KindService}},
		Guard: func(c *model.Cluster, b search.Binding) bool {
			s := c.Services[b[0]]
			return s.AntiAffinity &&
				s.AmountOfPodsOnDifferentNodes == s.TargetAmountOfPodsOnDifferentNodes &&
				!s.AntiAffinityPreferedPolicyMet
		},
		Apply: func(c *model.Cluster, b search.Binding) {
			c.MutableService(model.ServiceID(b[0])).AntiAffinityPreferedPolicyMet = true
		},
	}
}

// markAntiAffinityPolicyEnabled lifts a met service policy to the cluster-wide flag.
func markAntiAffinityPolicyEnabled() search.Transition {
	return search.Transition{
		Name:   MarkAntiAffinityPolicyEnabled,
		Params: []search.Param{{Name: "service", Kind: model.KindService}},
		Guard: func(c *model.Cluster, b search.Binding) bool {
			return c.Services[b[0]].AntiAffinityPreferedPolicyMet && !c.Global.AntiAffinityPreferedPolicyMet
		},
		Apply: func(c *model.Cluster, _ search.Binding) {
			c.MutableGlobal().AntiAffinityPreferedPolicyMet = true
		},
	}
}

// servicePodsAfter lists the pods of the bound service with a handle above the last bound pod.
// Binding pods in ascending order enumerates each pod set once.
func servicePodsAfter(c *model.Cluster, bound search.Binding) []int {
	s := c.Services[bound[0]]
	last := -1
	if len(bound) > 1 {
		last = bound[len(bound)-1]
	}
	var ids []int
	for _, id := range s.Pods.SortedList() {
		if int(id) > last {
			ids = append(ids, int(id))
		}
	}
	return ids
}

func markPodsNotAtSameNode(n int) search.Transition {
	params := []search.Param{{Name: "service", Kind: model.KindService}}
	for i := 1; i <= n; i++ {
		params = append(params, search.Param{Name: fmt.Sprintf("pod%d", i), Kind: model.KindPod, From: servicePodsAfter})
	}

	distinctNodes := func(c *model.Cluster, b search.Binding) bool {
		s := c.Services[b[0]]
		pods := b[1:]
		for i, a := range pods {
			pa := c.Pods[a]
			if !pa.Scheduled() || !s.Pods.Has(pa.ID) {
				return false
			}
			for _, other := range pods[i+1:] {
				pb := c.Pods[other]
				if !pb.Scheduled() || !c.Nodes[pa.AtNode].DifferentThan.Has(pb.AtNode) {
					return false
				}
			}
		}
		return true
	}
	below := func(c *model.Cluster, b search.Binding) bool {
		return c.Services[b[0]].AmountOfPodsOnDifferentNodes < n
	}

	return search.Transition{
		Name:   MarkPodsNotAtSameNode(n),
		Params: params,
		Guard:  CombineGuards(SchedulerClean, below, distinctNodes),
		Apply: func(c *model.Cluster, b search.Binding) {
			c.MutableService(model.ServiceID(b[0])).AmountOfPodsOnDifferentNodes = n
		},
	}
}
