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


package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// Plan is the result of one planning run against a cluster snapshot.
type Plan struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   PlanSpec   `json:"spec,omitempty"`
	Status PlanStatus `json:"status,omitempty"`
}

// PlanSpec defines the steps that reach a goal from the snapshot
type PlanSpec struct {
	// Goal is the goal expression the plan reaches
	Goal string `json:"goal"`

	// Steps are the transitions to apply, in order
	Steps []PlanStep `json:"steps"`

	// Moves lists the pod migrations among the steps
	Moves []PodMove `json:"moves,omitempty"`

	// Cost is the sum of the step costs
	Cost float64 `json:"cost"`

	// Fingerprint is the md5 of the sorted pod placements of the snapshot
	Fingerprint string `json:"fingerprint,omitempty"`

	// Scope is the part of the cluster the fingerprint covers
	Scope SnapshotScope `json:"scope,omitempty"`
}

// PlanStep is one applied transition
type PlanStep struct {
	// Transition is the transition name
	Transition string `json:"transition"`

	// Args are the keys of the objects bound to the transition parameters
	Args []string `json:"args,omitempty"`

	// Cost of this step
	Cost float64 `json:"cost"`
}

// PodMove represents the migration of a single pod
type PodMove struct {
	// PodName is the name of the pod
	PodName string `json:"podName"`

	// PodNamespace is the namespace of the pod
	PodNamespace string `json:"podNamespace"`

	// TargetNode is the node the pod moves to
	TargetNode string `json:"targetNode"`

	// Step is the index of the step performing the move
	Step int32 `json:"step"`
}

// PlanStatus reports how the search ended
type PlanStatus struct {
	// Found is false when no plan reaches the goal
	Found bool `json:"found"`

	// Reason explains why no plan was found
	Reason string `json:"reason,omitempty"`

	// ExpandedStates is the number of states the search expanded
	ExpandedStates int64 `json:"expandedStates"`

	// PlannedAt is when the search finished
	PlannedAt *metav1.Time `json:"plannedAt,omitempty"`
}

// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// PlanList contains a list of Plan
type PlanList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Plan `json:"items"`
}
