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
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// LoadKalcArgs reads, defaults and validates KalcArgs from a YAML or JSON file.
// An empty path yields the defaults.
func LoadKalcArgs(path string) (*KalcArgs, error) {
	args := &KalcArgs{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		args, err = DecodeKalcArgs(data)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		return args, nil
	}
	Scheme.Default(args)
	if err := ValidateKalcArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}

// DecodeKalcArgs decodes, defaults and validates KalcArgs. Unknown fields are rejected.
func DecodeKalcArgs(data []byte) (*KalcArgs, error) {
	args := &KalcArgs{}
	if err := yaml.UnmarshalStrict(data, args); err != nil {
		return nil, err
	}
	if args.APIVersion != "" && args.APIVersion != SchemeGroupVersion.String() {
		return nil, fmt.Errorf("unsupported apiVersion %q, want %q", args.APIVersion, SchemeGroupVersion.String())
	}
	if args.Kind != "" && args.Kind != "KalcArgs" {
		return nil, fmt.Errorf("unsupported kind %q, want KalcArgs", args.Kind)
	}
	Scheme.Default(args)
	if err := ValidateKalcArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}
