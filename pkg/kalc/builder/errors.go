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
)

// DocumentError reports a document that could not be decoded. The rest of the stream is still read.
type DocumentError struct {
	Source string
	Index  int
	Err    error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s: document %d: %v", e.Source, e.Index, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// FieldError reports one field of an object that could not be used. The object is still built.
type FieldError struct {
	Kind  string
	Name  string
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %s: field %s: %v", e.Kind, e.Name, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// UnsupportedKindError reports a document whose kind has no object model type.
type UnsupportedKindError struct {
	Kind   string
	Name   string
	Source string
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("%s: unsupported kind %q (name %q)", e.Source, e.Kind, e.Name)
}

// ConsistencyCheckFailure reports a built state the planner cannot handle.
type ConsistencyCheckFailure struct {
	Kind   string
	Name   string
	Reason string
}

func (e *ConsistencyCheckFailure) Error() string {
	if e.Kind == "" {
		return "consistency check failed: " + e.Reason
	}
	return fmt.Sprintf("consistency check failed for %s %s: %s", e.Kind, e.Name, e.Reason)
}
