package models

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"detectpd/domain/core"
)

// Params are estimator hyperparameters as decoded from configuration.
// Values are the YAML scalar types: int, float64, bool, string, or lists.
type Params map[string]interface{}

// engineParams are accepted by every family and have no effect on the fit.
var engineParams = map[string]bool{
	"n_jobs": true, "nthread": true, "thread_count": true, "verbose": true, "verbosity": true,
	"silent": true, "tree_method": true, "booster": true, "device": true,
	"allow_writing_files": true, "importance_type": true,
}

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p with over applied on top.
func (p Params) Merge(over Params) Params {
	out := p.Clone()
	for k, v := range over {
		out[k] = v
	}
	return out
}

// SetDefault sets name when absent.
func (p Params) SetDefault(name string, value interface{}) {
	if _, ok := p[name]; !ok {
		p[name] = value
	}
}

// reader reads typed parameters and remembers which keys were consumed.
type reader struct {
	params Params
	used   map[string]bool
	err    error
}

func newReader(p Params) *reader {
	return &reader{params: p, used: make(map[string]bool)}
}

func (r *reader) fail(name, reason string) {
	if r.err == nil {
		r.err = core.NewConfigurationError("hyperparameters."+name, reason)
	}
}

func (r *reader) lookup(names ...string) (string, interface{}, bool) {
	for _, n := range names {
		r.used[n] = true
	}
	for _, n := range names {
		if v, ok := r.params[n]; ok && v != nil {
			return n, v, true
		}
	}
	return "", nil, false
}

// Float reads the first present alias as a float.
func (r *reader) Float(def float64, names ...string) float64 {
	name, v, ok := r.lookup(names...)
	if !ok {
		return def
	}
	f, ok := toFloat(v)
	if !ok {
		r.fail(name, fmt.Sprintf("expected a number, got %v", v))
		return def
	}
	return f
}

// Int reads the first present alias as an integer. Whole floats are accepted.
func (r *reader) Int(def int, names ...string) int {
	name, v, ok := r.lookup(names...)
	if !ok {
		return def
	}
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) {
		r.fail(name, fmt.Sprintf("expected an integer, got %v", v))
		return def
	}
	return int(f)
}

// Bool reads the first present alias as a boolean.
func (r *reader) Bool(def bool, names ...string) bool {
	name, v, ok := r.lookup(names...)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err == nil {
			return parsed
		}
	}
	r.fail(name, fmt.Sprintf("expected a boolean, got %v", v))
	return def
}

// String reads the first present alias as a string.
func (r *reader) String(def string, names ...string) string {
	name, v, ok := r.lookup(names...)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		r.fail(name, fmt.Sprintf("expected a string, got %v", v))
		return def
	}
	return s
}

// Raw marks names as consumed and returns the first present value.
func (r *reader) Raw(names ...string) (interface{}, bool) {
	_, v, ok := r.lookup(names...)
	return v, ok
}

// done reports the first type error, or the unknown parameter names.
func (r *reader) done(kind string) error {
	if r.err != nil {
		return r.err
	}
	var unknown []string
	for k := range r.params {
		if !r.used[k] && !engineParams[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return core.NewConfigurationError("hyperparameters", fmt.Sprintf("unsupported parameters for %s: %s", kind, strings.Join(unknown, ", ")))
	}
	return nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// ParseMonotoneConstraints accepts the xgboost string form "(1,0,-1)" or a
// list of integers.
func ParseMonotoneConstraints(v interface{}) ([]int, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case []int:
		return checkConstraints(append([]int(nil), c...))
	case []interface{}:
		out := make([]int, len(c))
		for i, item := range c {
			f, ok := toFloat(item)
			if !ok {
				return nil, core.NewConfigurationError("monotone_constraints", fmt.Sprintf("entry %v is not an integer", item))
			}
			out[i] = int(f)
		}
		return checkConstraints(out)
	case string:
		s := strings.TrimSpace(c)
		s = strings.TrimPrefix(s, "(")
		s = strings.TrimSuffix(s, ")")
		if s == "" {
			return nil, nil
		}
		parts := strings.Split(s, ",")
		out := make([]int, len(parts))
		for i, part := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, core.NewConfigurationError("monotone_constraints", fmt.Sprintf("cannot parse %q", c))
			}
			out[i] = n
		}
		return checkConstraints(out)
	}
	return nil, core.NewConfigurationError("monotone_constraints", fmt.Sprintf("unsupported form %T", v))
}

func checkConstraints(c []int) ([]int, error) {
	for _, v := range c {
		if v < -1 || v > 1 {
			return nil, core.NewConfigurationError("monotone_constraints", "values must be -1, 0 or 1")
		}
	}
	return c, nil
}

// FormatMonotoneConstraints renders constraints in the xgboost string form.
func FormatMonotoneConstraints(c []int) string {
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = strconv.Itoa(v)
	}
	return "(" + strings.Join(parts, ",") + ")"
}
