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
	SchedulePod           = "schedule_pod"
	SchedulerCantPlacePod = "scheduler_cant_place_pod"

	// UnschedulableCost makes leaving a queued pod unplaced the last resort.
	UnschedulableCost = 100.0
)

// ScheduleTransitions returns the family that drains the scheduling queue.
// Pods leave the queue in order: bound to a node or given up on.
func ScheduleTransitions() []search.Transition {
	return []search.Transition{schedulePod(), schedulerCantPlacePod()}
}

// queueHead binds the first pod of the scheduling queue.
func queueHead(c *model.Cluster, _ search.Binding) []int {
	if len(c.Scheduler.Queue) == 0 {
		return nil
	}
	return []int{int(c.Scheduler.Queue[0])}
}

// dequeue removes the head of the queue and marks the scheduler Clean once it is empty.
func dequeue(c *model.Cluster) {
	s := c.MutableScheduler()
	s.Queue = s.Queue[1:]
	s.QueueLength = len(s.Queue)
	if s.QueueLength == 0 {
		s.Status = model.SchedulerClean
	}
}

func schedulePod() search.Transition {
	return search.Transition{
		Name: SchedulePod,
		Params: []search.Param{
			{Name: "pod", Kind: model.KindPod, From: queueHead},
			{Name: "node", Kind: model.KindNode, From: func(c *model.Cluster, _ search.Binding) []int {
				var ids []int
				for _, id := range c.ActiveNodes() {
					ids = append(ids, int(id))
				}
				return ids
			}},
		},
		Guard: CombineGuards(
			func(c *model.Cluster, b search.Binding) bool {
				return fits(c.Nodes[b[1]], c.Pods[b[0]])
			},
			func(c *model.Cluster, b search.Binding) bool {
				return separated(c, c.Pods[b[0]], model.NodeID(b[1]))
			},
		),
		Apply: func(c *model.Cluster, b search.Binding) {
			p := c.MutablePod(model.PodID(b[0]))
			n := c.MutableNode(model.NodeID(b[1]))
			n.CurrentFormalCPUConsumption += p.CPURequest
			n.CurrentFormalMemConsumption += p.MemRequest
			n.AmountOfActivePods++
			p.AtNode = n.ID
			p.NodeName = n.Name
			p.Status = model.PodRunning
			dequeue(c)
		},
	}
}

// schedulerCantPlacePod leaves the head of the queue Pending and unbound.
func schedulerCantPlacePod() search.Transition {
	return search.Transition{
		Name:   SchedulerCantPlacePod,
		Params: []search.Param{{Name: "pod", Kind: model.KindPod, From: queueHead}},
		Apply: func(c *model.Cluster, _ search.Binding) {
			dequeue(c)
		},
		Cost: UnschedulableCost,
	}
}
