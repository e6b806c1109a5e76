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

// Package model holds the in-memory object graph of a cluster snapshot.
//
// Objects live in per-kind arenas owned by a Cluster and refer to each other
// through integer handles, never through pointers. Relations are handle sets.
package model

import (
	"fmt"

	v1 "k8s.io/api/core/v1"
	"k8s.io/utils/set"
)

// Kind is the Kubernetes object type tag of a manifest.
type Kind string

const (
	KindPriorityClass Kind = "PriorityClass"
	KindService       Kind = "Service"
	KindNode          Kind = "Node"
	KindPod           Kind = "Pod"
	KindReplicaSet    Kind = "ReplicaSet"
	KindDeployment    Kind = "Deployment"
)

// Handles into the per-kind arenas. None marks an unset relation.
type (
	NodeID          int
	PodID           int
	ServiceID       int
	ReplicaSetID    int
	DeploymentID    int
	PriorityClassID int
)

const None = -1

// NodeStatus is the lifecycle state of a node.
type NodeStatus int

const (
	NodeActive NodeStatus = iota
	NodeInactive
)

func (s NodeStatus) String() string {
	switch s {
	case NodeActive:
		return "Active"
	case NodeInactive:
		return "Inactive"
	}
	return fmt.Sprintf("NodeStatus(%d)", int(s))
}

// PodStatus mirrors the pod phase.
type PodStatus int

const (
	PodPending PodStatus = iota
	PodRunning
	PodSucceeded
	PodFailed
	PodUnknown
)

func (s PodStatus) String() string {
	switch s {
	case PodPending:
		return "Pending"
	case PodRunning:
		return "Running"
	case PodSucceeded:
		return "Succeeded"
	case PodFailed:
		return "Failed"
	case PodUnknown:
		return "Unknown"
	}
	return fmt.Sprintf("PodStatus(%d)", int(s))
}

// PodStatusFromPhase converts a manifest phase. An empty phase is Pending.
func PodStatusFromPhase(phase v1.PodPhase) PodStatus {
	switch phase {
	case v1.PodRunning:
		return PodRunning
	case v1.PodSucceeded:
		return PodSucceeded
	case v1.PodFailed:
		return PodFailed
	case v1.PodUnknown:
		return PodUnknown
	}
	return PodPending
}

// SchedulerStatus is Clean when no pod waits in the scheduling queue.
type SchedulerStatus int

const (
	SchedulerClean SchedulerStatus = iota
	SchedulerChanged
)

func (s SchedulerStatus) String() string {
	if s == SchedulerClean {
		return "Clean"
	}
	return "Changed"
}

// ObjectMeta is the identifying part of a manifest.
type ObjectMeta struct {
	Name        string
	Namespace   string
	UID         string
	Labels      map[string]string
	Annotations map[string]string
}

// Key returns namespace/name, or just name for cluster-scoped objects.
func (m ObjectMeta) Key() string {
	return ObjectKey(m.Namespace, m.Name)
}

// ObjectKey joins a namespace and a name the way ObjectMeta.Key does.
func ObjectKey(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "/" + name
}

// OwnerRef is an owner reference read from a manifest, resolved after ingestion.
type OwnerRef struct {
	Kind Kind
	Name string
	UID  string
}

type Node struct {
	ObjectMeta
	ID NodeID

	// Normalized capacity and formal consumption derived from scheduled pods.
	CPUCapacity                 int64
	MemCapacity                 int64
	CurrentFormalCPUConsumption int64
	CurrentFormalMemConsumption int64
	AmountOfActivePods          int

	Status        NodeStatus
	DifferentThan set.Set[NodeID]

	gen uint64
}

func (n *Node) clone() *Node {
	c := *n
	c.DifferentThan = n.DifferentThan.Clone()
	return &c
}

type Pod struct {
	ObjectMeta
	ID PodID

	// Normalized requests; the raw millicores and bytes are kept for reporting.
	CPURequest    int64
	MemRequest    int64
	RawCPURequest int64
	RawMemRequest int64

	AtNode            NodeID
	NodeName          string
	Status            PodStatus
	Priority          int
	PriorityClassName string

	NotOnSameNode set.Set[PodID]
	Services      set.Set[ServiceID]
	OwnerRefs     []OwnerRef
	ReplicaSet    ReplicaSetID
	Deployment    DeploymentID

	// PreferredAntiAffinity is set when the pod declares preferred pod anti-affinity terms.
	PreferredAntiAffinity bool

	gen uint64
}

func (p *Pod) clone() *Pod {
	c := *p
	c.NotOnSameNode = p.NotOnSameNode.Clone()
	c.Services = p.Services.Clone()
	return &c
}

// Scheduled reports whether the pod is bound to a node.
func (p *Pod) Scheduled() bool {
	return p.AtNode != None
}

type ReplicaSet struct {
	ObjectMeta
	ID ReplicaSetID

	Replicas   int32
	Pods       set.Set[PodID]
	Deployment DeploymentID
	OwnerRefs  []OwnerRef
	Metric     float64

	gen uint64
}

func (r *ReplicaSet) clone() *ReplicaSet {
	c := *r
	c.Pods = r.Pods.Clone()
	return &c
}

type Deployment struct {
	ObjectMeta
	ID DeploymentID

	Replicas    int32
	Pods        set.Set[PodID]
	ReplicaSets set.Set[ReplicaSetID]
	Metric      float64

	gen uint64
}

func (d *Deployment) clone() *Deployment {
	c := *d
	c.Pods = d.Pods.Clone()
	c.ReplicaSets = d.ReplicaSets.Clone()
	return &c
}

type Service struct {
	ObjectMeta
	ID ServiceID

	Selector map[string]string
	Pods     set.Set[PodID]

	AntiAffinity                       bool
	TargetAmountOfPodsOnDifferentNodes int
	AmountOfPodsOnDifferentNodes       int
	AntiAffinityPreferedPolicyMet      bool

	gen uint64
}

func (s *Service) clone() *Service {
	c := *s
	c.Pods = s.Pods.Clone()
	return &c
}

type PriorityClass struct {
	ObjectMeta
	ID PriorityClassID

	Value   int32
	Ordinal int
}

// Scheduler is the per-session singleton tracking the scheduling queue.
type Scheduler struct {
	Status      SchedulerStatus
	QueueLength int
	Queue       []PodID

	gen uint64
}

func (s *Scheduler) clone() *Scheduler {
	c := *s
	c.Queue = append([]PodID(nil), s.Queue...)
	return &c
}

// Enqueue appends a pod to the scheduling queue.
func (s *Scheduler) Enqueue(id PodID) {
	s.Queue = append(s.Queue, id)
	s.QueueLength = len(s.Queue)
	s.Status = SchedulerChanged
}

// GlobalVar is the per-session singleton holding cluster-wide planner flags.
type GlobalVar struct {
	IsServiceInterrupted          bool
	IsNodeDisrupted               bool
	AntiAffinityPreferedPolicyMet bool
	DrainedNodes                  int

	gen uint64
}
