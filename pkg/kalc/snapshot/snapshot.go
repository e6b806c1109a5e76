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


// Package snapshot dumps the objects kalc models from a live cluster into a YAML stream.
//
// A dump is one list call per kind. Nothing is watched.
package snapshot

import (
	"context"
	"fmt"
	"io"

	appsv1 "k8s.io/api/apps/v1"
	v1 "k8s.io/api/core/v1"
	schedulingv1 "k8s.io/api/scheduling/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"
)

// Options select what to dump.
type Options struct {
	// Namespace limits namespaced kinds. Empty means all namespaces.
	Namespace string
	// LabelSelector filters pods, replica sets and deployments.
	LabelSelector string
}

// RESTConfig loads a client configuration from a kubeconfig file and context.
// With no kubeconfig the in-cluster configuration is tried first, then the default loading rules.
func RESTConfig(kubeconfig, context string) (*rest.Config, error) {
	if kubeconfig == "" && context == "" {
		if config, err := rest.InClusterConfig(); err == nil {
			return config, nil
		}
	}

	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	loadingRules.ExplicitPath = kubeconfig

	configOverrides := &clientcmd.ConfigOverrides{}
	if context != "" {
		configOverrides.CurrentContext = context
	}

	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, configOverrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build config from kubeconfig: %w", err)
	}
	return config, nil
}

// NewClient builds a clientset from RESTConfig.
func NewClient(kubeconfig, context string) (kubernetes.Interface, error) {
	config, err := RESTConfig(kubeconfig, context)
	if err != nil {
		return nil, err
	}
	config.UserAgent = "kalc"
	return kubernetes.NewForConfig(config)
}

// Dump writes every PriorityClass, Service, Node, Pod, ReplicaSet and Deployment
// as a multi-document YAML stream the builder can load. It returns the number of documents.
func Dump(ctx context.Context, client kubernetes.Interface, w io.Writer, opts Options) (int, error) {
	logger := klog.FromContext(ctx).WithValues("component", "snapshot")
	list := metav1.ListOptions{}
	selected := metav1.ListOptions{LabelSelector: opts.LabelSelector}

	var objects []runtime.Object

	priorityClasses, err := client.SchedulingV1().PriorityClasses().List(ctx, list)
	if err != nil {
		return 0, fmt.Errorf("listing priority classes: %w", err)
	}
	for i := range priorityClasses.Items {
		objects = append(objects, withKind(&priorityClasses.Items[i], schedulingv1.SchemeGroupVersion.WithKind("PriorityClass")))
	}

	services, err := client.CoreV1().Services(opts.Namespace).List(ctx, list)
	if err != nil {
		return 0, fmt.Errorf("listing services: %w", err)
	}
	for i := range services.Items {
		objects = append(objects, withKind(&services.Items[i], v1.SchemeGroupVersion.WithKind("Service")))
	}

	nodes, err := client.CoreV1().Nodes().List(ctx, list)
	if err != nil {
		return 0, fmt.Errorf("listing nodes: %w", err)
	}
	for i := range nodes.Items {
		objects = append(objects, withKind(&nodes.Items[i], v1.SchemeGroupVersion.WithKind("Node")))
	}

	pods, err := client.CoreV1().Pods(opts.Namespace).List(ctx, selected)
	if err != nil {
		return 0, fmt.Errorf("listing pods: %w", err)
	}
	for i := range pods.Items {
		objects = append(objects, withKind(&pods.Items[i], v1.SchemeGroupVersion.WithKind("Pod")))
	}

	replicaSets, err := client.AppsV1().ReplicaSets(opts.Namespace).List(ctx, selected)
	if err != nil {
		return 0, fmt.Errorf("listing replica sets: %w", err)
	}
	for i := range replicaSets.Items {
		objects = append(objects, withKind(&replicaSets.Items[i], appsv1.SchemeGroupVersion.WithKind("ReplicaSet")))
	}

	deployments, err := client.AppsV1().Deployments(opts.Namespace).List(ctx, selected)
	if err != nil {
		return 0, fmt.Errorf("listing deployments: %w", err)
	}
	for i := range deployments.Items {
		objects = append(objects, withKind(&deployments.Items[i], appsv1.SchemeGroupVersion.WithKind("Deployment")))
	}

	for i, obj := range objects {
		data, err := yaml.Marshal(obj)
		if err != nil {
			return i, fmt.Errorf("encoding document %d: %w", i, err)
		}
		if _, err := fmt.Fprintf(w, "---\n%s", data); err != nil {
			return i, err
		}
	}
	logger.Info("Dumped cluster", "documents", len(objects), "nodes", len(nodes.Items), "pods", len(pods.Items))
	return len(objects), nil
}

type object interface {
	runtime.Object
	metav1.Object
}

// withKind restores the type meta list calls drop and strips managed fields.
func withKind(obj object, gvk schema.GroupVersionKind) runtime.Object {
	obj.GetObjectKind().SetGroupVersionKind(gvk)
	obj.SetManagedFields(nil)
	return obj
}
