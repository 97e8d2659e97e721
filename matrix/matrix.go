// Package matrix expands a job strategy matrix into the combinations it runs.
package matrix

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/samber/lo"
)

// Axis is one dimension of the matrix
type Axis struct {
	Name   string
	Values []string
}

// Spec is a matrix declaration: axes in declaration order plus include/exclude entries
type Spec struct {
	Axes    []Axis
	Include []map[string]string
	Exclude []map[string]string
}

// Cell is one combination of the matrix
type Cell struct {
	Values map[string]string
	order  []string
}

// Keys returns the cell keys in a stable order: axes first, then included keys sorted
func (c Cell) Keys() []string {
	return c.order
}

// Get returns the value for key
func (c Cell) Get(key string) string {
	return c.Values[key]
}

// Key is the deterministic identity of the cell, e.g. "os=ubuntu-latest,python-version=3.10"
func (c Cell) Key() string {
	parts := make([]string, 0, len(c.order))
	for _, k := range c.order {
		parts = append(parts, k+"="+c.Values[k])
	}
	return strings.Join(parts, ",")
}

// Name is the display name of the cell inside job, e.g. "condacheck (ubuntu-latest, 3.10)"
func (c Cell) Name(job string) string {
	if len(c.order) == 0 {
		return job
	}
	values := lo.Map(c.order, func(k string, _ int) string { return c.Values[k] })
	return fmt.Sprintf("%s (%s)", job, strings.Join(values, ", "))
}

// Expand computes the cells of spec: the cartesian product of the axes (first
// axis outermost), minus excluded combinations, plus include entries. An include
// entry that agrees with existing cells on every original axis it names extends
// them (values added by earlier includes may be overwritten); otherwise it adds
// a new cell whose values later includes cannot overwrite. An empty spec yields a single empty cell.
func Expand(spec Spec) []Cell {
	axisNames := lo.Map(spec.Axes, func(a Axis, _ int) string { return a.Name })

	var combos []map[string]string
	if len(spec.Axes) > 0 {
		combos = []map[string]string{{}}
	}
	for _, axis := range spec.Axes {
		next := make([]map[string]string, 0, len(combos)*len(axis.Values))
		for _, combo := range combos {
			for _, v := range axis.Values {
				c := maps.Clone(combo)
				c[axis.Name] = v
				next = append(next, c)
			}
		}
		combos = next
	}

	combos = lo.Reject(combos, func(c map[string]string, _ int) bool {
		return lo.SomeBy(spec.Exclude, func(ex map[string]string) bool { return matches(c, ex) })
	})

	// keys of each combination that includes may not overwrite
	protected := make([][]string, len(combos))
	for i := range combos {
		protected[i] = axisNames
	}

	var extraKeys []string
	for _, inc := range spec.Include {
		extended := false
		for i, c := range combos {
			if !agreesOn(c, inc, protected[i]) {
				continue
			}
			for k, v := range inc {
				c[k] = v
			}
			extended = true
		}
		if !extended {
			combos = append(combos, maps.Clone(inc))
			protected = append(protected, lo.Keys(inc))
		}
		for k := range inc {
			if !lo.Contains(axisNames, k) && !lo.Contains(extraKeys, k) {
				extraKeys = append(extraKeys, k)
			}
		}
	}

	if len(combos) == 0 {
		if len(spec.Axes) == 0 && len(spec.Include) == 0 {
			return []Cell{{Values: map[string]string{}}}
		}
		return nil
	}

	order := append(slices.Clone(axisNames), slices.Sorted(slices.Values(extraKeys))...)
	cells := make([]Cell, 0, len(combos))
	for _, c := range combos {
		cellOrder := lo.Filter(order, func(k string, _ int) bool { _, ok := c[k]; return ok })
		cells = append(cells, Cell{Values: c, order: cellOrder})
	}
	return cells
}

// matches reports whether every key of pattern has the same value in combo
func matches(combo, pattern map[string]string) bool {
	for k, v := range pattern {
		if combo[k] != v {
			return false
		}
	}
	return len(pattern) > 0
}

// agreesOn reports whether inc matches combo on every protected key inc names
func agreesOn(combo, inc map[string]string, keys []string) bool {
	for _, key := range keys {
		if v, ok := inc[key]; ok && combo[key] != v {
			return false
		}
	}
	return true
}
