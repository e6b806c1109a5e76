package units_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kalc-io/kalc/pkg/kalc/units"
)

func TestConvertCPU(t *testing.T) {
	scenarios := []struct {
		name     string
		quantity string
		expected int64
		wantErr  bool
	}{
		{name: "Millicores", quantity: "500m", expected: 500},
		{name: "WholeCores", quantity: "2", expected: 2000},
		{name: "FractionalCores", quantity: "1.5", expected: 1500},
		{name: "Whitespace", quantity: " 250m ", expected: 250},
		{name: "LeadingDot", quantity: ".5", expected: 500},
		{name: "NoNumericPrefix", quantity: "m", wantErr: true},
		{name: "SignOnly", quantity: "+", wantErr: true},
		{name: "DotOnly", quantity: ".", wantErr: true},
		{name: "ExponentOnly", quantity: "e3", wantErr: true},
		{name: "Garbage", quantity: "lots", wantErr: true},
		{name: "Empty", quantity: "", wantErr: true},
		{name: "Negative", quantity: "-1", wantErr: true},
	}

	for _, tc := range scenarios {
		t.Run(tc.name, func(t *testing.T) {
			got, err := units.ConvertCPU(tc.quantity)
			if tc.wantErr {
				var parseErr *units.ParseError
				if !errors.As(err, &parseErr) {
					t.Fatalf("expected ParseError for %q, got %v", tc.quantity, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("ConvertCPU(%q) = %d, want %d", tc.quantity, got, tc.expected)
			}
		})
	}
}

func TestConvertMem(t *testing.T) {
	scenarios := []struct {
		name     string
		quantity string
		expected int64
		wantErr  bool
	}{
		{name: "Bytes", quantity: "1024", expected: 1024},
		{name: "Kibibytes", quantity: "1Ki", expected: 1024},
		{name: "Mebibytes", quantity: "128Mi", expected: 128 * 1024 * 1024},
		{name: "Gibibytes", quantity: "2Gi", expected: 2 * 1024 * 1024 * 1024},
		{name: "DecimalLowerK", quantity: "5k", expected: 5000},
		{name: "DecimalUpperK", quantity: "5K", expected: 5000},
		{name: "DecimalM", quantity: "3M", expected: 3000000},
		{name: "DecimalG", quantity: "1G", expected: 1000000000},
		{name: "Malformed", quantity: "Gi", wantErr: true},
		{name: "BareDecimalK", quantity: "k", wantErr: true},
		{name: "BareUpperK", quantity: "K", wantErr: true},
		{name: "BareM", quantity: "M", wantErr: true},
	}

	for _, tc := range scenarios {
		t.Run(tc.name, func(t *testing.T) {
			got, err := units.ConvertMem(tc.quantity)
			if tc.wantErr {
				var parseErr *units.ParseError
				if !errors.As(err, &parseErr) {
					t.Fatalf("expected ParseError for %q, got %v", tc.quantity, err)
				}
				if parseErr.Value != tc.quantity {
					t.Errorf("ParseError.Value = %q, want %q", parseErr.Value, tc.quantity)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("ConvertMem(%q) = %d, want %d", tc.quantity, got, tc.expected)
			}
		})
	}
}

func TestComputeDivisorsBound(t *testing.T) {
	maxLin := units.DefaultMaxLin
	half := int64(maxLin / 2)

	for _, maxValue := range []int64{0, 1, 24, 25, 26, 49, 50, 51, 999, 4000, 16 * 1024 * 1024 * 1024, 123456789} {
		cpuDiv, memDiv := units.ComputeDivisors(maxValue, maxValue, maxLin)
		if cpuDiv < 1 || memDiv < 1 {
			t.Fatalf("divisors must be >= 1, got %d/%d for max %d", cpuDiv, memDiv, maxValue)
		}
		ctx := units.Context{MaxLin: maxLin, CPUDivisor: cpuDiv, MemDivisor: memDiv}
		for _, v := range []int64{0, maxValue / 3, maxValue / 2, maxValue} {
			if n := ctx.CPU(v); n < 0 || n > half {
				t.Errorf("CPU(%d) with max %d normalized to %d, outside [0,%d]", v, maxValue, n, half)
			}
			if n := ctx.Mem(v); n < 0 || n > half {
				t.Errorf("Mem(%d) with max %d normalized to %d, outside [0,%d]", v, maxValue, n, half)
			}
		}
	}
}

func TestComputeDivisorsLargeValues(t *testing.T) {
	cpuDiv, memDiv := units.ComputeDivisors(4000, 8*1024*1024*1024, 50)
	if cpuDiv != 160 {
		t.Errorf("cpu divisor = %d, want 160", cpuDiv)
	}
	if want := int64(8 * 1024 * 1024 * 1024 / 25); memDiv < want || memDiv > want+1 {
		t.Errorf("mem divisor = %d, want about %d", memDiv, want)
	}
}

func TestBuildPriorityMapping(t *testing.T) {
	got, err := units.BuildPriorityMapping([]int32{1000000, -5, 0, 1000000, 2000000000}, 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := map[int32]int{-5: 1, 0: 2, 1000000: 3, 2000000000: 4}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("priority mapping mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildPriorityMappingIsOrderPreservingBijection(t *testing.T) {
	values := []int32{42, 7, 19, 3, 100, 55}
	mapping, err := units.BuildPriorityMapping(values, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := map[int]bool{}
	for _, a := range values {
		ord := mapping[a]
		if ord < 1 || ord > len(values) {
			t.Fatalf("ordinal %d for %d outside 1..%d", ord, a, len(values))
		}
		seen[ord] = true
		for _, b := range values {
			if a < b && mapping[a] >= mapping[b] {
				t.Errorf("order not preserved: %d->%d, %d->%d", a, mapping[a], b, mapping[b])
			}
		}
	}
	if len(seen) != len(values) {
		t.Errorf("mapping is not a bijection onto 1..%d: %v", len(values), mapping)
	}
}

func TestBuildPriorityMappingTooManyClasses(t *testing.T) {
	values := make([]int32, 0, 6)
	for i := int32(0); i < 6; i++ {
		values = append(values, i*10)
	}
	_, err := units.BuildPriorityMapping(values, 5)
	var cfgErr *units.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestContextPriorityUnknown(t *testing.T) {
	ctx, err := units.NewContext(50, 4000, 1024, []int32{10, 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Priority(20) != 2 {
		t.Errorf("Priority(20) = %d, want 2", ctx.Priority(20))
	}
	if ctx.Priority(15) != 0 {
		t.Errorf("Priority(15) = %d, want 0 for unknown values", ctx.Priority(15))
	}
}
