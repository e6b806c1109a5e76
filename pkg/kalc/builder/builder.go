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

// Package builder turns streams of Kubernetes manifests into a linked model.Cluster.
package builder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	utiljson "k8s.io/apimachinery/pkg/util/json"
	utilyaml "k8s.io/apimachinery/pkg/util/yaml"
	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	"github.com/kalc-io/kalc/pkg/kalc/model"
	"github.com/kalc-io/kalc/pkg/kalc/units"
)

// Mode tells the builder how a batch of documents reached the cluster. It selects the post-load hook.
type Mode string

const (
	ModeCreate  Mode = "create"
	ModeLoad    Mode = "load"
	ModeScale   Mode = "scale"
	ModeApply   Mode = "apply"
	ModeReplace Mode = "replace"
	ModeRemove  Mode = "remove"
)

var modes = []Mode{ModeCreate, ModeLoad, ModeScale, ModeApply, ModeReplace, ModeRemove}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	for _, m := range modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown load mode %q", s)
}

// State is the builder session state.
type State int

const (
	StateEmpty State = iota
	StateAccumulating
	StateBuilt
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "Empty"
	case StateAccumulating:
		return "Accumulating"
	case StateBuilt:
		return "Built"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Document results reported to the Recorder.
const (
	ResultBuilt       = "built"
	ResultInvalid     = "invalid"
	ResultUnsupported = "unsupported"
)

// shortDocument is the serialized length under which a document is suspicious.
const shortDocument = 100

// Recorder observes ingestion outcomes.
type Recorder interface {
	ObserveDocument(kind, result string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveDocument(string, string) {}

type document struct {
	obj    *unstructured.Unstructured
	mode   Mode
	source string
}

// Builder accumulates documents and builds a cluster from them.
// A Builder is not safe for concurrent use.
type Builder struct {
	logger   klog.Logger
	maxLin   int
	recorder Recorder

	state    State
	pending  map[string][]*document
	position map[string]int
	cluster  *model.Cluster
	warnings []error
}

type Option func(*Builder)

// WithMaxLin sets the bound of every normalized quantity.
func WithMaxLin(maxLin int) Option {
	return func(b *Builder) { b.maxLin = maxLin }
}

// WithRecorder sets the ingestion observer.
func WithRecorder(r Recorder) Option {
	return func(b *Builder) {
		if r != nil {
			b.recorder = r
		}
	}
}

// New returns an empty builder.
func New(ctx context.Context, opts ...Option) *Builder {
	b := &Builder{
		logger:   klog.FromContext(ctx).WithValues("component", "builder"),
		maxLin:   units.DefaultMaxLin,
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.reset()
	return b
}

func (b *Builder) reset() {
	b.state = StateEmpty
	b.pending = make(map[string][]*document)
	b.position = make(map[string]int)
	b.cluster = nil
	b.warnings = nil
}

// State returns the session state.
func (b *Builder) State() State {
	return b.state
}

// Warnings returns the recovered errors of the session: bad documents, bad fields and skipped kinds.
func (b *Builder) Warnings() []error {
	return b.warnings
}

func (b *Builder) warn(err error, msg string, keysAndValues ...interface{}) {
	b.warnings = append(b.warnings, err)
	b.logger.Error(err, msg, keysAndValues...)
}

// Load reads a YAML or JSON stream of documents. Loading into a built session starts a new one.
func (b *Builder) Load(r io.Reader, mode Mode) error {
	return b.load(r, mode, "stream")
}

// LoadFile reads one manifest file.
func (b *Builder) LoadFile(path string, mode Mode) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return b.load(f, mode, path)
}

// LoadDir reads every .yaml, .yml and .json file below dir in lexical order.
func (b *Builder) LoadDir(dir string, mode Mode) error {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml", ".json":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", dir, err)
	}
	if len(files) == 0 {
		b.logger.Info("No manifests found", "dir", dir)
	}
	for _, path := range files {
		if err := b.LoadFile(path, mode); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) load(r io.Reader, mode Mode, source string) error {
	if _, err := ParseMode(string(mode)); err != nil {
		return err
	}
	if b.state == StateBuilt {
		b.logger.V(2).Info("Starting a new session")
		b.reset()
	}
	b.state = StateAccumulating

	reader := utilyaml.NewYAMLReader(bufio.NewReader(r))
	for index := 0; ; index++ {
		chunk, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", source, err)
		}
		if len(bytes.TrimSpace(chunk)) == 0 {
			continue
		}
		b.decode(chunk, index, mode, source)
	}
}

func (b *Builder) decode(chunk []byte, index int, mode Mode, source string) {
	data, err := yaml.YAMLToJSON(chunk)
	if err != nil {
		b.recorder.ObserveDocument("", ResultInvalid)
		b.warn(&DocumentError{Source: source, Index: index, Err: err}, "Skipping malformed document")
		return
	}
	if s := bytes.TrimSpace(data); len(s) == 0 || bytes.Equal(s, []byte("null")) {
		return
	}
	var obj map[string]interface{}
	if err := utiljson.Unmarshal(data, &obj); err != nil {
		b.recorder.ObserveDocument("", ResultInvalid)
		b.warn(&DocumentError{Source: source, Index: index, Err: err}, "Skipping malformed document")
		return
	}
	if len(data) < shortDocument {
		b.logger.Info("Suspiciously short document", "source", source, "index", index, "length", len(data))
	}
	b.add(&unstructured.Unstructured{Object: obj}, index, mode, source)
}

func (b *Builder) add(u *unstructured.Unstructured, index int, mode Mode, source string) {
	kind := u.GetKind()
	if kind == "" {
		b.recorder.ObserveDocument("", ResultInvalid)
		b.warn(&DocumentError{Source: source, Index: index, Err: errors.New("missing kind")}, "Skipping malformed document")
		return
	}

	if items, found, _ := unstructured.NestedSlice(u.Object, "items"); found && (kind == "List" || strings.HasSuffix(kind, "List")) {
		for _, item := range items {
			m, ok := item.(map[string]interface{})
			if !ok {
				b.recorder.ObserveDocument("", ResultInvalid)
				b.warn(&DocumentError{Source: source, Index: index, Err: fmt.Errorf("%s item is not a mapping", kind)}, "Skipping list item")
				continue
			}
			b.add(&unstructured.Unstructured{Object: m}, index, mode, source)
		}
		return
	}

	if u.GetName() == "" {
		b.recorder.ObserveDocument(kind, ResultInvalid)
		b.warn(&DocumentError{Source: source, Index: index, Err: fmt.Errorf("%s without metadata.name", kind)}, "Skipping malformed document")
		return
	}

	if namespaced[model.Kind(kind)] && u.GetNamespace() == "" {
		u.SetNamespace(metav1.NamespaceDefault)
	}

	doc := &document{obj: u, mode: mode, source: source}
	key := kind + "|" + model.ObjectKey(u.GetNamespace(), u.GetName())
	if pos, ok := b.position[key]; ok {
		b.logger.V(2).Info("Document replaces an earlier one", "kind", kind, "name", u.GetName(), "namespace", u.GetNamespace(), "mode", mode)
		b.pending[kind][pos] = doc
		return
	}
	b.position[key] = len(b.pending[kind])
	b.pending[kind] = append(b.pending[kind], doc)
}

// buildOrder returns the pending kinds with the fixed kinds first and the rest sorted.
func (b *Builder) buildOrder() []string {
	order := make([]string, 0, len(b.pending))
	fixed := make(map[string]bool, len(priorityOrder))
	for _, k := range priorityOrder {
		fixed[string(k)] = true
		if _, ok := b.pending[string(k)]; ok {
			order = append(order, string(k))
		}
	}
	var rest []string
	for k := range b.pending {
		if !fixed[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(order, rest...)
}

type built struct {
	kind model.Kind
	id   int
	mode Mode
}

// Build links the accumulated documents into a cluster. Building an already built session
// returns the same cluster. Unit normalization and consistency failures are fatal.
func (b *Builder) Build(ctx context.Context) (*model.Cluster, error) {
	if b.state == StateBuilt {
		return b.cluster, nil
	}
	logger := klog.FromContext(klog.NewContext(ctx, b.logger))

	unitCtx, err := b.normalize()
	if err != nil {
		return nil, fmt.Errorf("normalizing units: %w", err)
	}
	logger.V(2).Info("Computed unit divisors", "cpuDivisor", unitCtx.CPUDivisor, "memDivisor", unitCtx.MemDivisor, "priorityClasses", len(unitCtx.Priorities))

	c := model.NewCluster()
	c.Units = unitCtx

	var objects []built
	for _, kind := range b.buildOrder() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		handler, ok := kindHandlers[model.Kind(kind)]
		for _, doc := range b.pending[kind] {
			if !ok {
				b.recorder.ObserveDocument(kind, ResultUnsupported)
				b.warn(&UnsupportedKindError{Kind: kind, Name: doc.obj.GetName(), Source: doc.source}, "Skipping document")
				continue
			}
			id, err := handler.build(b, c, doc)
			if err != nil {
				b.recorder.ObserveDocument(kind, ResultInvalid)
				b.warn(err, "Skipping document", "kind", kind, "name", doc.obj.GetName(), "source", doc.source)
				continue
			}
			b.recorder.ObserveDocument(kind, ResultBuilt)
			objects = append(objects, built{kind: model.Kind(kind), id: id, mode: doc.mode})
		}
	}

	b.finalize(c)

	for _, o := range objects {
		if hook := kindHandlers[o.kind].hook(o.mode); hook != nil {
			hook(c, o.id)
		}
	}

	if err := b.check(c); err != nil {
		return nil, err
	}

	logger.Info("Built cluster state",
		"nodes", len(c.Nodes), "pods", len(c.Pods), "services", len(c.Services),
		"replicaSets", len(c.ReplicaSets), "deployments", len(c.Deployments),
		"priorityClasses", len(c.PriorityClasses), "warnings", len(b.warnings))
	b.state = StateBuilt
	b.cluster = c
	return c, nil
}

// normalize scans pending nodes, pods and priority classes for the maxima the divisors are derived from.
// Bad quantities are skipped here and reported once when the owning object is built.
func (b *Builder) normalize() (units.Context, error) {
	var maxCPU, maxMem int64
	for _, doc := range b.pending[string(model.KindNode)] {
		cpu, mem, _ := nodeCapacity(doc.obj)
		maxCPU = max(maxCPU, cpu)
		maxMem = max(maxMem, mem)
	}
	for _, doc := range b.pending[string(model.KindPod)] {
		cpu, mem, _ := podRequests(doc.obj)
		maxCPU = max(maxCPU, cpu)
		maxMem = max(maxMem, mem)
	}
	var priorities []int32
	for _, doc := range b.pending[string(model.KindPriorityClass)] {
		if v, found, err := unstructured.NestedInt64(doc.obj.Object, "value"); found && err == nil {
			priorities = append(priorities, int32(v))
		}
	}
	return units.NewContext(b.maxLin, maxCPU, maxMem, priorities)
}

// finalize resolves cross-object relations that need every object to exist.
func (b *Builder) finalize(c *model.Cluster) {
	for _, n := range c.Nodes {
		for _, other := range c.Nodes {
			if other.ID != n.ID {
				n.DifferentThan.Insert(other.ID)
			}
		}
	}

	for _, p := range c.Pods {
		if p.ReplicaSet != model.None || p.Deployment != model.None {
			continue
		}
		for _, ref := range p.OwnerRefs {
			switch ref.Kind {
			case model.KindReplicaSet, model.KindDeployment:
				b.logger.Info("Orphaned owner reference, treating pod as unowned", "pod", p.Key(), "ownerKind", ref.Kind, "owner", ref.Name)
			default:
				b.logger.V(3).Info("Owner kind is not modeled", "pod", p.Key(), "ownerKind", ref.Kind, "owner", ref.Name)
			}
		}
	}

	for _, s := range c.Services {
		if _, ok := s.Annotations[AnnotationAntiAffinity]; ok {
			continue
		}
		preferred := false
		for _, id := range s.Pods.UnsortedList() {
			if c.Pods[id].PreferredAntiAffinity {
				preferred = true
				break
			}
		}
		if preferred {
			s.AntiAffinity = true
			if s.TargetAmountOfPodsOnDifferentNodes == 0 {
				s.TargetAmountOfPodsOnDifferentNodes = min(s.Pods.Len(), maxSpreadPods)
			}
		}
	}
}

// check rejects states the planner cannot search.
func (b *Builder) check(c *model.Cluster) error {
	if c.Scheduler.QueueLength > b.maxLin {
		return &ConsistencyCheckFailure{
			Reason: fmt.Sprintf("scheduler queue length %d exceeds %d", c.Scheduler.QueueLength, b.maxLin),
		}
	}
	for _, p := range c.Pods {
		if p.Scheduled() && (int(p.AtNode) < 0 || int(p.AtNode) >= len(c.Nodes)) {
			return &ConsistencyCheckFailure{Kind: string(model.KindPod), Name: p.Key(), Reason: fmt.Sprintf("bound to unknown node handle %d", p.AtNode)}
		}
	}
	for _, s := range c.Services {
		if s.TargetAmountOfPodsOnDifferentNodes > b.maxLin {
			return &ConsistencyCheckFailure{Kind: string(model.KindService), Name: s.Key(), Reason: fmt.Sprintf("anti-affinity target %d exceeds %d", s.TargetAmountOfPodsOnDifferentNodes, b.maxLin)}
		}
	}
	return nil
}
