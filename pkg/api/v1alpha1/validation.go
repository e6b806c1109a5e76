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
	"math"

	apivalidation "k8s.io/apimachinery/pkg/api/validation"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// ValidateKalcArgs validates defaulted arguments
func ValidateKalcArgs(obj runtime.Object) error {
	args := obj.(*KalcArgs)
	allErrs := field.ErrorList{}

	// Normalized values live in [0, maxLin/2], which must hold at least one unit
	if args.MaxLin < 2 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("maxLin"), args.MaxLin, "must be at least 2"))
	}
	if args.MaxExpandedStates <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("maxExpandedStates"), args.MaxExpandedStates, "must be positive"))
	}
	if args.Workers <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("workers"), args.Workers, "must be positive"))
	}
	if args.SearchTimeout.Duration < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("searchTimeout"), args.SearchTimeout.Duration.String(), "must not be negative"))
	}
	if args.WaitTimeout.Duration < 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("waitTimeout"), args.WaitTimeout.Duration.String(), "must not be negative"))
	}

	costs := field.NewPath("transitionCosts")
	for name, cost := range args.TransitionCosts {
		if name == "" {
			allErrs = append(allErrs, field.Required(costs.Key(name), "transition name is required"))
		}
		if cost < 0 || math.IsNaN(cost) || math.IsInf(cost, 0) {
			allErrs = append(allErrs, field.Invalid(costs.Key(name), cost, "must be a finite non-negative number"))
		}
	}

	families := field.NewPath("enabledFamilies")
	seen := sets.New[string]()
	for i, name := range args.EnabledFamilies {
		if name == "" {
			allErrs = append(allErrs, field.Required(families.Index(i), "family name is required"))
			continue
		}
		if seen.Has(name) {
			allErrs = append(allErrs, field.Duplicate(families.Index(i), name))
		}
		seen.Insert(name)
	}

	scope := field.NewPath("scope")
	if ns := args.Scope.Namespace; ns != "" {
		for _, msg := range apivalidation.ValidateNamespaceName(ns, false) {
			allErrs = append(allErrs, field.Invalid(scope.Child("namespace"), ns, msg))
		}
	}
	if _, err := labels.Parse(args.Scope.LabelSelector); err != nil {
		allErrs = append(allErrs, field.Invalid(scope.Child("labelSelector"), args.Scope.LabelSelector, err.Error()))
	}

	return allErrs.ToAggregate()
}
