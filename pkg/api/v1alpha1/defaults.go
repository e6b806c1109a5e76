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
	"os"
	"strconv"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/klog/v2"
)

// MaxLinEnv overrides DefaultMaxLin when set.
const MaxLinEnv = "POODLE_MAXLIN"

const (
	DefaultMaxLin            = 50
	DefaultMaxExpandedStates = 100000
	DefaultWorkers           = 1
	DefaultSearchTimeout     = 60 * time.Second
	DefaultWaitTimeout       = 300 * time.Second
)

// DefaultFamilies are searched when none are configured.
var DefaultFamilies = []string{"antiaffinity", "move", "schedule"}

func addDefaultingFuncs(scheme *runtime.Scheme) error {
	return RegisterDefaults(scheme)
}

func RegisterDefaults(scheme *runtime.Scheme) error {
	scheme.AddTypeDefaultingFunc(&KalcArgs{}, func(obj interface{}) {
		SetDefaults_KalcArgs(obj.(*KalcArgs))
	})
	return nil
}

func SetDefaults_KalcArgs(obj runtime.Object) {
	args := obj.(*KalcArgs)

	if args.APIVersion == "" {
		args.APIVersion = SchemeGroupVersion.String()
	}
	if args.Kind == "" {
		args.Kind = "KalcArgs"
	}
	if args.MaxLin == 0 {
		args.MaxLin = maxLinFromEnv()
	}
	if args.MaxExpandedStates == 0 {
		args.MaxExpandedStates = DefaultMaxExpandedStates
	}
	if args.Workers == 0 {
		args.Workers = DefaultWorkers
	}
	if args.SearchTimeout.Duration == 0 {
		args.SearchTimeout = metav1.Duration{Duration: DefaultSearchTimeout}
	}
	if len(args.EnabledFamilies) == 0 {
		args.EnabledFamilies = append([]string(nil), DefaultFamilies...)
	}
	if args.WaitTimeout.Duration == 0 {
		args.WaitTimeout = metav1.Duration{Duration: DefaultWaitTimeout}
	}
}

func maxLinFromEnv() int {
	v, ok := os.LookupEnv(MaxLinEnv)
	if !ok || v == "" {
		return DefaultMaxLin
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		klog.InfoS("Ignoring invalid environment override", "name", MaxLinEnv, "value", v)
		return DefaultMaxLin
	}
	return n
}
