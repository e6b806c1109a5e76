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

package builder

import (
	"fmt"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	v1 "k8s.io/api/core/v1"
	schedulingv1 "k8s.io/api/scheduling/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/utils/ptr"

	"github.com/kalc-io/kalc/pkg/kalc/model"
	"github.com/kalc-io/kalc/pkg/kalc/units"
)

const (
	// AnnotationAntiAffinity enables the anti-affinity policy of a service.
	AnnotationAntiAffinity = "kalc.io/antiaffinity"
	// AnnotationTargetPods is the number of service pods wanted on distinct nodes.
	AnnotationTargetPods = "kalc.io/target-pods-on-different-nodes"

	maxSpreadPods = 5
)

type hookFunc func(c *model.Cluster, id int)

type kindHandler struct {
	build       func(b *Builder, c *model.Cluster, doc *document) (int, error)
	afterCreate hookFunc
	afterLoad   hookFunc
	afterApply  hookFunc
}

// hook returns the post-load hook for mode. Only create, load and apply have one.
func (h kindHandler) hook(mode Mode) hookFunc {
	switch mode {
	case ModeCreate:
		return h.afterCreate
	case ModeLoad:
		return h.afterLoad
	case ModeApply:
		return h.afterApply
	}
	return nil
}

// priorityOrder lists the kinds other kinds resolve against. They are built first, in this order.
var priorityOrder = []model.Kind{
	model.KindPriorityClass,
	model.KindService,
	model.KindNode,
	model.KindPod,
	model.KindReplicaSet,
}

// namespaced kinds default to the default namespace.
var namespaced = map[model.Kind]bool{
	model.KindService:    true,
	model.KindPod:        true,
	model.KindReplicaSet: true,
	model.KindDeployment: true,
}

var kindHandlers = map[model.Kind]kindHandler{
	model.KindPriorityClass: {build: buildPriorityClass},
	model.KindService:       {build: buildService},
	model.KindNode:          {build: buildNode},
	model.KindPod: {
		build:       buildPod,
		afterCreate: podAfterCreate,
		afterLoad:   podAfterLoad,
		afterApply:  podAfterApply,
	},
	model.KindReplicaSet: {build: buildReplicaSet},
	model.KindDeployment: {build: buildDeployment},
}

func objectMeta(u *unstructured.Unstructured) model.ObjectMeta {
	return model.ObjectMeta{
		Name:        u.GetName(),
		Namespace:   u.GetNamespace(),
		UID:         string(u.GetUID()),
		Labels:      u.GetLabels(),
		Annotations: u.GetAnnotations(),
	}
}

func ownerRefs(u *unstructured.Unstructured) []model.OwnerRef {
	var refs []model.OwnerRef
	for _, ref := range u.GetOwnerReferences() {
		refs = append(refs, model.OwnerRef{Kind: model.Kind(ref.Kind), Name: ref.Name, UID: string(ref.UID)})
	}
	return refs
}

func ownedBy(refs []model.OwnerRef, kind model.Kind, meta model.ObjectMeta) bool {
	for _, ref := range refs {
		if ref.Kind != kind || ref.Name != meta.Name {
			continue
		}
		if ref.UID == "" || meta.UID == "" || ref.UID == meta.UID {
			return true
		}
	}
	return false
}

// controllerObject converts a controller document without its pod template, which the model never reads.
func controllerObject(u *unstructured.Unstructured, into interface{}) error {
	obj := u.DeepCopy()
	unstructured.RemoveNestedField(obj.Object, "spec", "template")
	return runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, into)
}

// quantityAt reads a quantity that YAML may have typed as a number.
func quantityAt(obj map[string]interface{}, fields ...string) (string, bool) {
	val, found, err := unstructured.NestedFieldNoCopy(obj, fields...)
	if !found || err != nil || val == nil {
		return "", false
	}
	switch v := val.(type) {
	case string:
		return v, true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	}
	return fmt.Sprint(val), true
}

// nodeCapacity returns allocatable CPU millicores and memory bytes, falling back to capacity.
// Unparseable values are reported and count as 0.
func nodeCapacity(u *unstructured.Unstructured) (cpu, mem int64, errs []error) {
	read := func(resource v1.ResourceName, convert func(string) (int64, error)) int64 {
		for _, section := range []string{"allocatable", "capacity"} {
			q, ok := quantityAt(u.Object, "status", section, string(resource))
			if !ok {
				continue
			}
			v, err := convert(q)
			if err != nil {
				errs = append(errs, &FieldError{
					Kind:  string(model.KindNode),
					Name:  u.GetName(),
					Field: "status." + section + "." + string(resource),
					Err:   err,
				})
				continue
			}
			return v
		}
		return 0
	}
	cpu = read(v1.ResourceCPU, units.ConvertCPU)
	mem = read(v1.ResourceMemory, units.ConvertMem)
	return cpu, mem, errs
}

// podRequests sums the container requests of a pod. Unparseable values are reported and count as 0.
func podRequests(u *unstructured.Unstructured) (cpu, mem int64, errs []error) {
	containers, _, _ := unstructured.NestedSlice(u.Object, "spec", "containers")
	for i, item := range containers {
		container, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		for _, r := range []struct {
			name    v1.ResourceName
			convert func(string) (int64, error)
			total   *int64
		}{
			{v1.ResourceCPU, units.ConvertCPU, &cpu},
			{v1.ResourceMemory, units.ConvertMem, &mem},
		} {
			q, ok := quantityAt(container, "resources", "requests", string(r.name))
			if !ok {
				continue
			}
			v, err := r.convert(q)
			if err != nil {
				errs = append(errs, &FieldError{
					Kind:  string(model.KindPod),
					Name:  model.ObjectKey(u.GetNamespace(), u.GetName()),
					Field: fmt.Sprintf("spec.containers[%d].resources.requests.%s", i, r.name),
					Err:   err,
				})
				continue
			}
			*r.total += v
		}
	}
	return cpu, mem, errs
}

func buildPriorityClass(_ *Builder, c *model.Cluster, doc *document) (int, error) {
	pc := &schedulingv1.PriorityClass{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(doc.obj.Object, pc); err != nil {
		return 0, fmt.Errorf("decoding PriorityClass %s: %w", doc.obj.GetName(), err)
	}
	id := c.AddPriorityClass(&model.PriorityClass{
		ObjectMeta: objectMeta(doc.obj),
		Value:      pc.Value,
		Ordinal:    c.Units.Priority(pc.Value),
	})
	return int(id), nil
}

func buildService(b *Builder, c *model.Cluster, doc *document) (int, error) {
	svc := &v1.Service{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(doc.obj.Object, svc); err != nil {
		return 0, fmt.Errorf("decoding Service %s: %w", doc.obj.GetName(), err)
	}
	s := &model.Service{
		ObjectMeta: objectMeta(doc.obj),
		Selector:   svc.Spec.Selector,
	}
	if v, ok := svc.Annotations[AnnotationAntiAffinity]; ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			b.warn(&FieldError{Kind: string(model.KindService), Name: s.Key(), Field: "metadata.annotations." + AnnotationAntiAffinity, Err: err}, "Using default for service field")
		}
		s.AntiAffinity = enabled
	}
	if v, ok := svc.Annotations[AnnotationTargetPods]; ok {
		target, err := strconv.Atoi(v)
		if err == nil && target < 0 {
			err = fmt.Errorf("negative target %d", target)
		}
		if err != nil {
			b.warn(&FieldError{Kind: string(model.KindService), Name: s.Key(), Field: "metadata.annotations." + AnnotationTargetPods, Err: err}, "Using default for service field")
		} else {
			s.TargetAmountOfPodsOnDifferentNodes = target
		}
	}
	return int(c.AddService(s)), nil
}

func buildNode(b *Builder, c *model.Cluster, doc *document) (int, error) {
	cpu, mem, errs := nodeCapacity(doc.obj)
	for _, err := range errs {
		b.warn(err, "Using default for node field")
	}
	n := &model.Node{
		ObjectMeta:  objectMeta(doc.obj),
		CPUCapacity: c.Units.CPU(cpu),
		MemCapacity: c.Units.Mem(mem),
		Status:      model.NodeActive,
	}
	conditions, _, _ := unstructured.NestedSlice(doc.obj.Object, "status", "conditions")
	for _, item := range conditions {
		cond, ok := item.(map[string]interface{})
		if !ok || cond["type"] != string(v1.NodeReady) {
			continue
		}
		if cond["status"] != string(v1.ConditionTrue) {
			n.Status = model.NodeInactive
		}
	}
	return int(c.AddNode(n)), nil
}

func buildPod(b *Builder, c *model.Cluster, doc *document) (int, error) {
	u := doc.obj
	cpu, mem, errs := podRequests(u)
	for _, err := range errs {
		b.warn(err, "Using default for pod field")
	}
	nodeName, _, _ := unstructured.NestedString(u.Object, "spec", "nodeName")
	phase, _, _ := unstructured.NestedString(u.Object, "status", "phase")
	className, _, _ := unstructured.NestedString(u.Object, "spec", "priorityClassName")

	p := &model.Pod{
		ObjectMeta:        objectMeta(u),
		CPURequest:        c.Units.CPU(cpu),
		MemRequest:        c.Units.Mem(mem),
		RawCPURequest:     cpu,
		RawMemRequest:     mem,
		AtNode:            model.None,
		NodeName:          nodeName,
		Status:            model.PodStatusFromPhase(v1.PodPhase(phase)),
		PriorityClassName: className,
		OwnerRefs:         ownerRefs(u),
		ReplicaSet:        model.None,
		Deployment:        model.None,
	}

	if nodeName != "" {
		if id, ok := c.NodeByName(nodeName); ok {
			p.AtNode = id
		} else {
			b.warn(&FieldError{Kind: string(model.KindPod), Name: p.Key(), Field: "spec.nodeName", Err: fmt.Errorf("unknown node %q", nodeName)}, "Treating pod as unscheduled")
		}
	}

	if id, ok := c.PriorityClassByName(className); className != "" && ok {
		p.Priority = c.PriorityClasses[id].Ordinal
	} else if v, found, err := unstructured.NestedInt64(u.Object, "spec", "priority"); found && err == nil {
		p.Priority = c.Units.Priority(int32(v))
	}

	terms, _, _ := unstructured.NestedSlice(u.Object, "spec", "affinity", "podAntiAffinity", "preferredDuringSchedulingIgnoredDuringExecution")
	p.PreferredAntiAffinity = len(terms) > 0

	id := c.AddPod(p)

	if p.Scheduled() && (p.Status == model.PodRunning || p.Status == model.PodPending) {
		n := c.MutableNode(p.AtNode)
		n.CurrentFormalCPUConsumption += p.CPURequest
		n.CurrentFormalMemConsumption += p.MemRequest
		n.AmountOfActivePods++
	}

	podLabels := labels.Set(p.Labels)
	for _, s := range c.Services {
		if s.Namespace != p.Namespace || len(s.Selector) == 0 {
			continue
		}
		if labels.SelectorFromSet(s.Selector).Matches(podLabels) {
			s.Pods.Insert(id)
			p.Services.Insert(s.ID)
		}
	}
	return int(id), nil
}

func buildReplicaSet(_ *Builder, c *model.Cluster, doc *document) (int, error) {
	rs := &appsv1.ReplicaSet{}
	if err := controllerObject(doc.obj, rs); err != nil {
		return 0, fmt.Errorf("decoding ReplicaSet %s: %w", doc.obj.GetName(), err)
	}
	r := &model.ReplicaSet{
		ObjectMeta: objectMeta(doc.obj),
		Replicas:   ptr.Deref(rs.Spec.Replicas, 1),
		Deployment: model.None,
		OwnerRefs:  ownerRefs(doc.obj),
	}
	id := c.AddReplicaSet(r)
	for _, p := range c.Pods {
		if p.Namespace == r.Namespace && ownedBy(p.OwnerRefs, model.KindReplicaSet, r.ObjectMeta) {
			r.Pods.Insert(p.ID)
			p.ReplicaSet = id
		}
	}
	return int(id), nil
}

func buildDeployment(_ *Builder, c *model.Cluster, doc *document) (int, error) {
	dep := &appsv1.Deployment{}
	if err := controllerObject(doc.obj, dep); err != nil {
		return 0, fmt.Errorf("decoding Deployment %s: %w", doc.obj.GetName(), err)
	}
	d := &model.Deployment{
		ObjectMeta: objectMeta(doc.obj),
		Replicas:   ptr.Deref(dep.Spec.Replicas, 1),
	}
	id := c.AddDeployment(d)
	for _, r := range c.ReplicaSets {
		if r.Namespace != d.Namespace || !ownedBy(r.OwnerRefs, model.KindDeployment, d.ObjectMeta) {
			continue
		}
		r.Deployment = id
		d.ReplicaSets.Insert(r.ID)
		for _, pod := range r.Pods.UnsortedList() {
			d.Pods.Insert(pod)
			c.Pods[pod].Deployment = id
		}
	}
	return int(id), nil
}

func podAfterLoad(c *model.Cluster, id int) {
	if p := c.Pods[id]; !p.Scheduled() && p.Status == model.PodPending {
		c.MutableScheduler().Enqueue(p.ID)
	}
}

func podAfterCreate(c *model.Cluster, id int) {
	p := c.MutablePod(model.PodID(id))
	p.Status = model.PodPending
	if !p.Scheduled() {
		c.MutableScheduler().Enqueue(p.ID)
	}
}

func podAfterApply(c *model.Cluster, id int) {
	if c.Pods[id].Scheduled() {
		podAfterLoad(c, id)
		return
	}
	podAfterCreate(c, id)
}
