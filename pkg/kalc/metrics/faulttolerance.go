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

package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"k8s.io/utils/set"

	"github.com/kalc-io/kalc/pkg/kalc/model"
)

// FaultToleranceResult describes how the pods of one controller are spread over nodes.
type FaultToleranceResult struct {
	Name  string
	Pods  int // scheduled pods only
	Nodes int // distinct nodes hosting them

	// Square is sqrt(sum(p_i^2)) over the per-node shares p_i.
	// It is 1 when every pod shares a node and 1/sqrt(k) for an even spread over k nodes.
	Square float64
	// Geom is prod(p_i)^Nodes.
	Geom float64
}

// DeploymentFaultTolerance is the fault tolerance of one deployment.
type DeploymentFaultTolerance struct {
	Deployment model.DeploymentID
	FaultToleranceResult
}

// ReplicaSetFaultTolerance is the fault tolerance of one replica set.
type ReplicaSetFaultTolerance struct {
	ReplicaSet model.ReplicaSetID
	FaultToleranceResult
}

// FaultTolerance computes the spread of a deployment. ok is false when none of its pods is scheduled.
func FaultTolerance(c *model.Cluster, id model.DeploymentID) (DeploymentFaultTolerance, bool) {
	d := c.Deployments[id]
	result, ok := spread(c, d.Name, d.Pods)
	return DeploymentFaultTolerance{Deployment: id, FaultToleranceResult: result}, ok
}

// ReplicaSetFaultToleranceOf computes the spread of a replica set. ok is false when none of its pods is scheduled.
func ReplicaSetFaultToleranceOf(c *model.Cluster, id model.ReplicaSetID) (ReplicaSetFaultTolerance, bool) {
	r := c.ReplicaSets[id]
	result, ok := spread(c, r.Name, r.Pods)
	return ReplicaSetFaultTolerance{ReplicaSet: id, FaultToleranceResult: result}, ok
}

func spread(c *model.Cluster, name string, pods set.Set[model.PodID]) (FaultToleranceResult, bool) {
	result := FaultToleranceResult{Name: name}

	// Group scheduled pods by node
	perNode := make(map[model.NodeID]int)
	for _, id := range pods.UnsortedList() {
		p := c.Pods[id]
		if !p.Scheduled() {
			continue
		}
		perNode[p.AtNode]++
		result.Pods++
	}
	if result.Pods == 0 {
		return result, false
	}
	result.Nodes = len(perNode)

	nodes := make([]model.NodeID, 0, len(perNode))
	for n := range perNode {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })

	shares := make([]float64, len(nodes))
	for i, n := range nodes {
		shares[i] = float64(perNode[n]) / float64(result.Pods)
	}

	result.Square = math.Sqrt(floats.Dot(shares, shares))
	result.Geom = math.Pow(floats.Prod(shares), float64(result.Nodes))
	return result, true
}
