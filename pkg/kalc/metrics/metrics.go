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

// Package metrics scores a cluster snapshot for fault tolerance and node oversubscription.
// Compute never modifies the cluster; Annotate writes the controller metrics back.
package metrics

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kalc-io/kalc/pkg/kalc/model"
)

// Result is the full scoring of one snapshot.
type Result struct {
	Deployments []DeploymentFaultTolerance
	ReplicaSets []ReplicaSetFaultTolerance

	// Mean and worst Square over deployments with scheduled pods.
	MeanFaultTolerance    float64
	WorstFaultTolerance   float64
	FaultToleranceDefined bool

	Oversubscription        OversubscriptionResult
	OversubscriptionDefined bool

	// Composite is (RMSD + MD + mean fault tolerance + worst fault tolerance + mean oversubscription) / 5.
	// Undefined terms contribute 0.
	Composite float64
}

// Compute scores the cluster.
func Compute(c *model.Cluster) Result {
	var result Result

	squares := make([]float64, 0, len(c.Deployments))
	for _, d := range c.Deployments {
		ft, ok := FaultTolerance(c, d.ID)
		if !ok {
			continue
		}
		result.Deployments = append(result.Deployments, ft)
		squares = append(squares, ft.Square)
	}
	for _, r := range c.ReplicaSets {
		if ft, ok := ReplicaSetFaultToleranceOf(c, r.ID); ok {
			result.ReplicaSets = append(result.ReplicaSets, ft)
		}
	}
	if len(squares) > 0 {
		result.FaultToleranceDefined = true
		result.MeanFaultTolerance = stat.Mean(squares, nil)
		result.WorstFaultTolerance = floats.Max(squares)
	}

	over, err := Oversubscription(c)
	if err == nil {
		result.Oversubscription = over
		result.OversubscriptionDefined = true
	}

	result.Composite = (result.Oversubscription.RMSD +
		result.Oversubscription.MD +
		result.MeanFaultTolerance +
		result.WorstFaultTolerance +
		result.Oversubscription.Mean) / 5
	return result
}

// Annotate stores each controller's fault tolerance in its Metric field.
func Annotate(c *model.Cluster, result Result) {
	for _, d := range result.Deployments {
		c.MutableDeployment(d.Deployment).Metric = d.Square
	}
	for _, r := range result.ReplicaSets {
		c.MutableReplicaSet(r.ReplicaSet).Metric = r.Square
	}
}
