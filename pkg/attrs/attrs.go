// Package attrs builds materialized views over the insert-only attribute
// rows of a UOW: the hashing view (owner-blind, highest version per key) and
// the per-actor view (Global Blueprint plus the actor's Personal Playbook).
package attrs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/windlass/pkg/contracts"
)

// Latest reduces the raw rows to the highest version per key, ignoring
// ownership. This is the view the content hash is computed over, so the
// hash is the same no matter which actor asks.
func Latest(rows []*contracts.Attribute) map[string]*contracts.Attribute {
	out := make(map[string]*contracts.Attribute, len(rows))
	for _, a := range rows {
		if cur, ok := out[a.Key]; !ok || a.Version > cur.Version {
			out[a.Key] = a
		}
	}
	return out
}

// HashView decodes Latest into plain values for canonical hashing.
func HashView(rows []*contracts.Attribute) (map[string]any, error) {
	latest := Latest(rows)
	out := make(map[string]any, len(latest))
	for k, a := range latest {
		v, err := decode(a.Value)
		if err != nil {
			return nil, fmt.Errorf("attribute %q v%d: %w", k, a.Version, err)
		}
		out[k] = v
	}
	return out, nil
}

// View is what a specific actor sees: Global Blueprint rows plus rows from
// that actor's Personal Playbook, highest visible version per key. A
// personal row shadows a global one at the same key when its version is
// higher; version order is total per (uow, key) so there are no ties.
func View(rows []*contracts.Attribute, actorID string) (map[string]any, error) {
	visible := make([]*contracts.Attribute, 0, len(rows))
	for _, a := range rows {
		if a.Global() || a.OwnerActorID == actorID {
			visible = append(visible, a)
		}
	}
	out := make(map[string]any, len(visible))
	for k, a := range Latest(visible) {
		v, err := decode(a.Value)
		if err != nil {
			return nil, fmt.Errorf("attribute %q v%d: %w", k, a.Version, err)
		}
		out[k] = v
	}
	return out, nil
}

// Diff lists the keys whose value changed between two views, sorted. Used
// for history metadata only; equality is byte equality of re-encoded JSON.
func Diff(before, after map[string]any) []string {
	var changed []string
	for k, v := range after {
		old, ok := before[k]
		if !ok || !jsonEqual(old, v) {
			changed = append(changed, k)
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}

func decode(raw string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: bad attribute value: %v", contracts.ErrValidation, err)
	}
	return v, nil
}

func jsonEqual(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(ab, bb)
}
