// Package mapping resolves the input-mapping paths used by supervisor and
// agent-coordination phases.
//
// Supported paths:
//
//	user_query
//	rag_results[.<subpath>]
//	phases.<phase_id>[.<subpath>]   ("output" segments are skipped unless the value has such a key)
//	metadata.<key>[.<subpath>]
//
// Subpaths navigate maps, struct fields (by JSON name) and list indices.
// Resolution never fails: anything unresolvable is logged and yields an absent Value.
package mapping

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/makr-code/VCC-Veritas-sub002/internal/logging"
	"github.com/makr-code/VCC-Veritas-sub002/internal/pipeline"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Value is an optional resolved input.
type Value struct {
	v  any
	ok bool
}

// Some wraps a present value.
func Some(v any) Value { return Value{v: v, ok: true} }

// None is the absent value.
func None() Value { return Value{} }

// Present reports whether the path resolved to a non-null value.
func (v Value) Present() bool { return v.ok }

// Get returns the value and whether it is present.
func (v Value) Get() (any, bool) { return v.v, v.ok }

// Raw returns the value, or nil when absent.
func (v Value) Raw() any { return v.v }

// String returns the value when it is a string.
func (v Value) String() (string, bool) {
	s, ok := v.v.(string)
	return s, ok && v.ok
}

// Strings converts a list value to strings; a lone non-empty string becomes a
// one-element list. Absent or other shapes yield nil.
func (v Value) Strings() []string {
	if !v.ok {
		return nil
	}
	switch t := v.v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			} else if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	default:
		return nil
	}
}

// Decode converts the value into out through its JSON form.
func (v Value) Decode(out any) error {
	if !v.ok {
		return fmt.Errorf("value absent")
	}
	raw, err := json.Marshal(v.v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Resolver resolves mapping paths against a run.
type Resolver struct {
	logger *logging.Logger
}

// NewResolver creates a resolver. A nil logger discards warnings.
func NewResolver(logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{logger: logger.Named("mapping")}
}

// ResolveAll resolves every entry of an input mapping.
func (r *Resolver) ResolveAll(ctx context.Context, mapping map[string]string, rc *pipeline.RunContext) map[string]Value {
	out := make(map[string]Value, len(mapping))
	for name, path := range mapping {
		out[name] = r.Resolve(ctx, path, rc)
	}
	return out
}

// Resolve looks up path in rc.
func (r *Resolver) Resolve(ctx context.Context, path string, rc *pipeline.RunContext) (val Value) {
	defer func() {
		if p := recover(); p != nil {
			r.unresolved(ctx, path, fmt.Sprintf("panic: %v", p))
			val = None()
		}
	}()

	if rc == nil {
		r.unresolved(ctx, path, "no run context")
		return None()
	}

	head, rest, _ := strings.Cut(strings.TrimSpace(path), ".")
	switch head {
	case "user_query":
		if rest != "" {
			r.unresolved(ctx, path, "user_query has no fields")
			return None()
		}
		return Some(rc.UserQuery)

	case "rag_results":
		if rc.RAGResults() == nil {
			r.unresolved(ctx, path, "rag results not collected")
			return None()
		}
		return r.navigate(ctx, path, rc.RAGResults(), rest)

	case "phases":
		phaseID, sub, _ := strings.Cut(rest, ".")
		if phaseID == "" {
			r.unresolved(ctx, path, "missing phase id")
			return None()
		}
		out, ok := rc.Phase(phaseID)
		if !ok {
			r.unresolved(ctx, path, "phase has not run")
			return None()
		}
		return r.navigate(ctx, path, out, sub)

	case "metadata":
		key, sub, _ := strings.Cut(rest, ".")
		if key == "" {
			r.unresolved(ctx, path, "missing metadata key")
			return None()
		}
		v, ok := rc.Metadata[key]
		if !ok {
			r.unresolved(ctx, path, "metadata key not set")
			return None()
		}
		return r.navigate(ctx, path, v, sub)

	default:
		r.unresolved(ctx, path, "unknown path root")
		return None()
	}
}

// navigate walks subpath through root using its JSON form.
func (r *Resolver) navigate(ctx context.Context, path string, root any, subpath string) Value {
	if subpath == "" {
		if root == nil {
			r.unresolved(ctx, path, "value is null")
			return None()
		}
		return Some(root)
	}

	raw, err := json.Marshal(root)
	if err != nil {
		r.unresolved(ctx, path, "value is not serializable: "+err.Error())
		return None()
	}

	cur := gjson.ParseBytes(raw)
	for _, seg := range strings.Split(subpath, ".") {
		if seg == "" {
			continue
		}
		next := cur.Get(escape(seg))
		if seg == "output" && !next.Exists() {
			continue
		}
		if !next.Exists() {
			r.unresolved(ctx, path, fmt.Sprintf("segment %q not found", seg))
			return None()
		}
		cur = next
	}

	if cur.Type == gjson.Null {
		r.unresolved(ctx, path, "value is null")
		return None()
	}
	return Some(cur.Value())
}

func (r *Resolver) unresolved(ctx context.Context, path, reason string) {
	r.logger.Warn(ctx, "input path unresolved", zap.String("path", path), zap.String("reason", reason))
}

// escape makes seg a literal gjson path component.
func escape(seg string) string {
	var b strings.Builder
	for _, c := range seg {
		switch c {
		case '\\', '.', '*', '?', '|', '#', '@', '!', '=', '<', '>', '%', '[', ']', '{', '}', '(', ')', ',', ':', '"':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
