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
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/kalc-io/kalc/pkg/kalc/model"
)

// ErrOversubscriptionUndefined is returned when the cluster has no active node to measure.
var ErrOversubscriptionUndefined = errors.New("oversubscription undefined: no active nodes")

// NodeOversubscription is the load of one active node relative to its capacity.
type NodeOversubscription struct {
	Node    model.NodeID
	Name    string
	CPU     float64
	Mem     float64
	Average float64
}

// OversubscriptionResult contains the per-node ratios and their dispersion.
type OversubscriptionResult struct {
	Nodes []NodeOversubscription

	MeanCPU float64
	MeanMem float64
	Mean    float64

	// RMSD is the root-mean-square deviation of the per-node averages from Mean.
	RMSD float64
	// MD is the largest absolute deviation from the dimension mean, over CPU and memory.
	MD float64
}

// Oversubscription computes formal consumption over capacity for every active node.
// A capacity that normalized to 0 counts as 1.
func Oversubscription(c *model.Cluster) (OversubscriptionResult, error) {
	active := c.ActiveNodes()
	if len(active) == 0 {
		return OversubscriptionResult{}, ErrOversubscriptionUndefined
	}

	result := OversubscriptionResult{Nodes: make([]NodeOversubscription, len(active))}
	cpu := make([]float64, len(active))
	mem := make([]float64, len(active))
	avg := make([]float64, len(active))

	for i, id := range active {
		n := c.Nodes[id]
		cpu[i] = ratio(n.CurrentFormalCPUConsumption, n.CPUCapacity)
		mem[i] = ratio(n.CurrentFormalMemConsumption, n.MemCapacity)
		avg[i] = (cpu[i] + mem[i]) / 2
		result.Nodes[i] = NodeOversubscription{Node: id, Name: n.Name, CPU: cpu[i], Mem: mem[i], Average: avg[i]}
	}

	result.MeanCPU = stat.Mean(cpu, nil)
	result.MeanMem = stat.Mean(mem, nil)
	result.Mean = stat.Mean(avg, nil)

	// Deviations from the mean
	dev := make([]float64, len(avg))
	copy(dev, avg)
	floats.AddConst(-result.Mean, dev)
	result.RMSD = math.Sqrt(floats.Dot(dev, dev) / float64(len(dev)))

	result.MD = math.Max(maxAbsDeviation(cpu, result.MeanCPU), maxAbsDeviation(mem, result.MeanMem))
	return result, nil
}

func ratio(consumption, capacity int64) float64 {
	if capacity < 1 {
		capacity = 1
	}
	return float64(consumption) / float64(capacity)
}

func maxAbsDeviation(values []float64, mean float64) float64 {
	dev := make([]float64, len(values))
	for i, v := range values {
		dev[i] = math.Abs(v - mean)
	}
	return floats.Max(dev)
}
