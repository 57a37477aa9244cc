// Package testutil provides helpers to write parameterized tests.
package testutil

import (
	"fmt"
	"strings"
)

// Axis is one parameter of a test and its values.
type Axis struct {
	Name   string
	Values []any
}

// Values builds an Axis from a typed slice.
func Values[T any](name string, values ...T) Axis {
	axis := Axis{Name: name, Values: make([]any, len(values))}
	for i, v := range values {
		axis.Values[i] = v
	}
	return axis
}

// Case is one combination of the parameters.
type Case map[string]any

// Get returns the value of the parameter name, converted to T. It panics if the parameter is missing
// or has a different type.
func Get[T any](c Case, name string) T {
	v, found := c[name]
	if !found {
		panic(fmt.Sprintf("test case has no parameter %q", name))
	}
	return v.(T)
}

// Name formats the case as "name1=value1/name2=value2", with the parameters in the order of axes.
// Values implementing `DimensionsString() string` (shapes) are formatted with it.
func (c Case) Name(axes []Axis) string {
	parts := make([]string, 0, len(axes))
	for _, axis := range axes {
		v := c[axis.Name]
		var formatted string
		if s, ok := v.(interface{ DimensionsString() string }); ok {
			formatted = s.DimensionsString()
		} else {
			formatted = fmt.Sprint(v)
		}
		parts = append(parts, axis.Name+"="+formatted)
	}
	return strings.Join(parts, "/")
}

// Product returns the cartesian product of the axes values, varying the last axis fastest.
func Product(axes ...Axis) []Case {
	cases := []Case{{}}
	for _, axis := range axes {
		next := make([]Case, 0, len(cases)*len(axis.Values))
		for _, c := range cases {
			for _, v := range axis.Values {
				extended := make(Case, len(c)+1)
				for k, kv := range c {
					extended[k] = kv
				}
				extended[axis.Name] = v
				next = append(next, extended)
			}
		}
		cases = next
	}
	return cases
}
