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

package model

import (
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"k8s.io/utils/set"

	"github.com/kalc-io/kalc/pkg/kalc/units"
)

var generation atomic.Uint64

// Cluster is one snapshot of the object graph.
//
// Clones share every object with their source until an object is requested
// through one of the Mutable accessors, which copies it first. Objects must
// only be modified through those accessors once a clone exists. A cluster is
// not safe for concurrent use, Clone included.
type Cluster struct {
	Nodes           []*Node
	Pods            []*Pod
	Services        []*Service
	ReplicaSets     []*ReplicaSet
	Deployments     []*Deployment
	PriorityClasses []*PriorityClass

	Scheduler *Scheduler
	Global    *GlobalVar

	Units units.Context

	gen         uint64
	index       map[Kind]map[string]int
	sharedIndex bool
}

// NewCluster returns an empty cluster with fresh Scheduler and GlobalVar singletons.
func NewCluster() *Cluster {
	gen := generation.Add(1)
	return &Cluster{
		Scheduler: &Scheduler{Status: SchedulerClean, gen: gen},
		Global:    &GlobalVar{gen: gen},
		gen:       gen,
		index:     make(map[Kind]map[string]int),
	}
}

// Clone returns a copy-on-write copy of the cluster.
func (c *Cluster) Clone() *Cluster {
	n := &Cluster{
		Nodes:           append([]*Node(nil), c.Nodes...),
		Pods:            append([]*Pod(nil), c.Pods...),
		Services:        append([]*Service(nil), c.Services...),
		ReplicaSets:     append([]*ReplicaSet(nil), c.ReplicaSets...),
		Deployments:     append([]*Deployment(nil), c.Deployments...),
		PriorityClasses: c.PriorityClasses,
		Scheduler:       c.Scheduler,
		Global:          c.Global,
		Units:           c.Units,
		gen:             generation.Add(1),
		index:           c.index,
		sharedIndex:     true,
	}
	// The source gives up ownership too, so later writes on either side copy.
	c.gen = generation.Add(1)
	c.sharedIndex = true
	return n
}

func (c *Cluster) register(kind Kind, key string, id int) {
	if c.sharedIndex {
		copied := make(map[Kind]map[string]int, len(c.index))
		for k, m := range c.index {
			inner := make(map[string]int, len(m))
			for name, v := range m {
				inner[name] = v
			}
			copied[k] = inner
		}
		c.index = copied
		c.sharedIndex = false
	}
	if c.index[kind] == nil {
		c.index[kind] = make(map[string]int)
	}
	c.index[kind][key] = id
}

func (c *Cluster) lookup(kind Kind, key string) (int, bool) {
	id, ok := c.index[kind][key]
	return id, ok
}

// AddNode appends a node to the arena and returns its handle.
func (c *Cluster) AddNode(n *Node) NodeID {
	n.ID = NodeID(len(c.Nodes))
	n.gen = c.gen
	if n.DifferentThan == nil {
		n.DifferentThan = set.New[NodeID]()
	}
	c.Nodes = append(c.Nodes, n)
	c.register(KindNode, n.Key(), int(n.ID))
	return n.ID
}

// AddPod appends a pod to the arena and returns its handle.
func (c *Cluster) AddPod(p *Pod) PodID {
	p.ID = PodID(len(c.Pods))
	p.gen = c.gen
	if p.NotOnSameNode == nil {
		p.NotOnSameNode = set.New[PodID]()
	}
	if p.Services == nil {
		p.Services = set.New[ServiceID]()
	}
	c.Pods = append(c.Pods, p)
	c.register(KindPod, p.Key(), int(p.ID))
	return p.ID
}

// AddService appends a service to the arena and returns its handle.
func (c *Cluster) AddService(s *Service) ServiceID {
	s.ID = ServiceID(len(c.Services))
	s.gen = c.gen
	if s.Pods == nil {
		s.Pods = set.New[PodID]()
	}
	c.Services = append(c.Services, s)
	c.register(KindService, s.Key(), int(s.ID))
	return s.ID
}

// AddReplicaSet appends a replica set to the arena and returns its handle.
func (c *Cluster) AddReplicaSet(r *ReplicaSet) ReplicaSetID {
	r.ID = ReplicaSetID(len(c.ReplicaSets))
	r.gen = c.gen
	if r.Pods == nil {
		r.Pods = set.New[PodID]()
	}
	c.ReplicaSets = append(c.ReplicaSets, r)
	c.register(KindReplicaSet, r.Key(), int(r.ID))
	return r.ID
}

// AddDeployment appends a deployment to the arena and returns its handle.
func (c *Cluster) AddDeployment(d *Deployment) DeploymentID {
	d.ID = DeploymentID(len(c.Deployments))
	d.gen = c.gen
	if d.Pods == nil {
		d.Pods = set.New[PodID]()
	}
	if d.ReplicaSets == nil {
		d.ReplicaSets = set.New[ReplicaSetID]()
	}
	c.Deployments = append(c.Deployments, d)
	c.register(KindDeployment, d.Key(), int(d.ID))
	return d.ID
}

// AddPriorityClass appends a priority class to the arena and returns its handle.
func (c *Cluster) AddPriorityClass(p *PriorityClass) PriorityClassID {
	p.ID = PriorityClassID(len(c.PriorityClasses))
	c.PriorityClasses = append(c.PriorityClasses, p)
	c.register(KindPriorityClass, p.Key(), int(p.ID))
	return p.ID
}

func (c *Cluster) NodeByName(name string) (NodeID, bool) {
	id, ok := c.lookup(KindNode, name)
	return NodeID(id), ok
}

func (c *Cluster) PodByKey(namespace, name string) (PodID, bool) {
	id, ok := c.lookup(KindPod, ObjectKey(namespace, name))
	return PodID(id), ok
}

func (c *Cluster) ServiceByKey(namespace, name string) (ServiceID, bool) {
	id, ok := c.lookup(KindService, ObjectKey(namespace, name))
	return ServiceID(id), ok
}

func (c *Cluster) ReplicaSetByKey(namespace, name string) (ReplicaSetID, bool) {
	id, ok := c.lookup(KindReplicaSet, ObjectKey(namespace, name))
	return ReplicaSetID(id), ok
}

func (c *Cluster) DeploymentByKey(namespace, name string) (DeploymentID, bool) {
	id, ok := c.lookup(KindDeployment, ObjectKey(namespace, name))
	return DeploymentID(id), ok
}

func (c *Cluster) PriorityClassByName(name string) (PriorityClassID, bool) {
	id, ok := c.lookup(KindPriorityClass, name)
	return PriorityClassID(id), ok
}

// MutableNode returns a node owned by this cluster, copying it first if it is shared.
func (c *Cluster) MutableNode(id NodeID) *Node {
	if n := c.Nodes[id]; n.gen != c.gen {
		n = n.clone()
		n.gen = c.gen
		c.Nodes[id] = n
	}
	return c.Nodes[id]
}

// MutablePod returns a pod owned by this cluster, copying it first if it is shared.
func (c *Cluster) MutablePod(id PodID) *Pod {
	if p := c.Pods[id]; p.gen != c.gen {
		p = p.clone()
		p.gen = c.gen
		c.Pods[id] = p
	}
	return c.Pods[id]
}

// MutableService returns a service owned by this cluster, copying it first if it is shared.
func (c *Cluster) MutableService(id ServiceID) *Service {
	if s := c.Services[id]; s.gen != c.gen {
		s = s.clone()
		s.gen = c.gen
		c.Services[id] = s
	}
	return c.Services[id]
}

// MutableReplicaSet returns a replica set owned by this cluster, copying it first if it is shared.
func (c *Cluster) MutableReplicaSet(id ReplicaSetID) *ReplicaSet {
	if r := c.ReplicaSets[id]; r.gen != c.gen {
		r = r.clone()
		r.gen = c.gen
		c.ReplicaSets[id] = r
	}
	return c.ReplicaSets[id]
}

// MutableDeployment returns a deployment owned by this cluster, copying it first if it is shared.
func (c *Cluster) MutableDeployment(id DeploymentID) *Deployment {
	if d := c.Deployments[id]; d.gen != c.gen {
		d = d.clone()
		d.gen = c.gen
		c.Deployments[id] = d
	}
	return c.Deployments[id]
}

// MutableScheduler returns the scheduler singleton owned by this cluster.
func (c *Cluster) MutableScheduler() *Scheduler {
	if c.Scheduler.gen != c.gen {
		s := c.Scheduler.clone()
		s.gen = c.gen
		c.Scheduler = s
	}
	return c.Scheduler
}

// MutableGlobal returns the global variables singleton owned by this cluster.
func (c *Cluster) MutableGlobal() *GlobalVar {
	if c.Global.gen != c.gen {
		g := *c.Global
		g.gen = c.gen
		c.Global = &g
	}
	return c.Global
}

// ActiveNodes returns the handles of every node with Active status.
func (c *Cluster) ActiveNodes() []NodeID {
	ids := make([]NodeID, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		if n.Status == NodeActive {
			ids = append(ids, n.ID)
		}
	}
	return ids
}

// PodsOnNode returns the pods currently bound to a node.
func (c *Cluster) PodsOnNode(id NodeID) []PodID {
	var ids []PodID
	for _, p := range c.Pods {
		if p.AtNode == id {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// StateKey returns a canonical encoding of every value the planner can change.
// Two clusters with equal keys are the same search state.
func (c *Cluster) StateKey() string {
	var b strings.Builder
	b.Grow(16 * (len(c.Pods) + len(c.Nodes) + len(c.Services)))

	b.WriteString("p")
	for _, p := range c.Pods {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(int(p.AtNode)))
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(int(p.Status)))
		if p.NotOnSameNode.Len() > 0 {
			for _, other := range p.NotOnSameNode.SortedList() {
				b.WriteByte(',')
				b.WriteString(strconv.Itoa(int(other)))
			}
		}
	}
	b.WriteString("#n")
	for _, n := range c.Nodes {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(int(n.Status)))
		b.WriteByte(',')
		b.WriteString(strconv.FormatInt(n.CurrentFormalCPUConsumption, 10))
		b.WriteByte(',')
		b.WriteString(strconv.FormatInt(n.CurrentFormalMemConsumption, 10))
	}
	b.WriteString("#s")
	for _, s := range c.Services {
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(s.AmountOfPodsOnDifferentNodes))
		b.WriteByte(',')
		b.WriteString(strconv.FormatBool(s.AntiAffinityPreferedPolicyMet))
	}
	b.WriteString("#g|")
	b.WriteString(strconv.Itoa(int(c.Scheduler.Status)))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(c.Scheduler.QueueLength))
	b.WriteByte(',')
	b.WriteString(strconv.FormatBool(c.Global.IsServiceInterrupted))
	b.WriteByte(',')
	b.WriteString(strconv.FormatBool(c.Global.IsNodeDisrupted))
	b.WriteByte(',')
	b.WriteString(strconv.FormatBool(c.Global.AntiAffinityPreferedPolicyMet))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(c.Global.DrainedNodes))
	return b.String()
}

// PodPlacements returns sorted "namespace/pod node" lines for the pods accepted by match,
// every pod when match is nil. A pod bound to a node missing from the snapshot keeps the
// name from its manifest; pods never scheduled carry an empty node name.
func (c *Cluster) PodPlacements(match func(*Pod) bool) []string {
	lines := make([]string, 0, len(c.Pods))
	for _, p := range c.Pods {
		if match != nil && !match(p) {
			continue
		}
		node := p.NodeName
		if p.Scheduled() {
			node = c.Nodes[p.AtNode].Name
		}
		lines = append(lines, p.Key()+" "+node)
	}
	sort.Strings(lines)
	return lines
}
