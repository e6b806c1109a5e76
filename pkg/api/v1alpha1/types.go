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

// KalcArgs configures cluster building, planning and script generation.
type KalcArgs struct {
	metav1.TypeMeta `json:",inline"`

	// MaxLin bounds every normalized quantity and priority ordinal.
	// Defaults to $POODLE_MAXLIN, or 50.
	MaxLin int `json:"maxLin,omitempty"`

	// MaxExpandedStates is the search budget.
	MaxExpandedStates int `json:"maxExpandedStates,omitempty"`

	// Workers expand successor states in parallel.
	Workers int `json:"workers,omitempty"`

	// SearchTimeout cancels a search that runs longer.
	SearchTimeout metav1.Duration `json:"searchTimeout,omitempty"`

	// TransitionCosts override the cost of transitions by name.
	TransitionCosts map[string]float64 `json:"transitionCosts,omitempty"`

	// EnabledFamilies selects the transition families to search with.
	EnabledFamilies []string `json:"enabledFamilies,omitempty"`

	// WaitTimeout bounds the readiness wait of a moved pod in generated scripts.
	WaitTimeout metav1.Duration `json:"waitTimeout,omitempty"`

	// Scope is the part of the cluster the loaded snapshot covers. Generated scripts
	// compare the live pods of the same scope against the plan fingerprint.
	Scope SnapshotScope `json:"scope,omitempty"`
}

// SnapshotScope limits a snapshot to a namespace and a pod label selector.
type SnapshotScope struct {
	// Namespace of the snapshot. Empty means every namespace.
	Namespace string `json:"namespace,omitempty"`

	// LabelSelector the snapshot pods match. Empty means every pod.
	LabelSelector string `json:"labelSelector,omitempty"`
}
