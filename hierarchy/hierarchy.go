// Package hierarchy models the class graph: each class has at most one
// superclass, a storage domain (possibly inherited), and zero or more mixins
// attached to it. The graph is built once at adapter startup; descendant sets
// are pure traversals cached per class.
package hierarchy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hcengineering/platform-sub001/types"
)

// AttrDef describes one declared attribute of a class.
type AttrDef struct {
	Name string `json:"name"`
	// Array marks array-typed attributes; containment operators apply to
	// them instead of scalar equality.
	Array bool `json:"array,omitempty"`
}

// ClassDef declares a class or mixin.
type ClassDef struct {
	ID       types.ClassID `json:"id"`
	Super    types.ClassID `json:"super,omitempty"`
	Domain   types.Domain  `json:"domain,omitempty"`
	Abstract bool          `json:"abstract,omitempty"`
	Mixin    bool          `json:"mixin,omitempty"`
	Attrs    []AttrDef     `json:"attrs,omitempty"`
}

// Hierarchy is the immutable class graph. Safe for concurrent use.
type Hierarchy struct {
	classes  map[types.ClassID]*ClassDef
	children map[types.ClassID][]types.ClassID

	mu        sync.Mutex
	descCache map[types.ClassID][]types.ClassID
}

// New builds a hierarchy from class definitions. It rejects duplicate ids,
// unknown superclasses and superclass cycles.
func New(defs []ClassDef) (*Hierarchy, error) {
	h := &Hierarchy{
		classes:   make(map[types.ClassID]*ClassDef, len(defs)),
		children:  make(map[types.ClassID][]types.ClassID),
		descCache: make(map[types.ClassID][]types.ClassID),
	}
	for i := range defs {
		def := defs[i]
		if _, ok := h.classes[def.ID]; ok {
			return nil, fmt.Errorf("duplicate class %q", def.ID)
		}
		h.classes[def.ID] = &def
	}
	for id, def := range h.classes {
		if def.Super == "" {
			continue
		}
		if _, ok := h.classes[def.Super]; !ok {
			return nil, fmt.Errorf("class %q: unknown superclass %q", id, def.Super)
		}
		h.children[def.Super] = append(h.children[def.Super], id)
	}
	for id := range h.classes {
		if err := h.checkCycle(id); err != nil {
			return nil, err
		}
	}
	// Deterministic child order keeps descendant sets stable.
	for super := range h.children {
		sort.Slice(h.children[super], func(i, j int) bool {
			return h.children[super][i] < h.children[super][j]
		})
	}
	return h, nil
}

func (h *Hierarchy) checkCycle(id types.ClassID) error {
	seen := map[types.ClassID]bool{}
	for cur := id; cur != ""; cur = h.classes[cur].Super {
		if seen[cur] {
			return fmt.Errorf("superclass cycle through %q", cur)
		}
		seen[cur] = true
	}
	return nil
}

// Class returns the definition of the given class.
func (h *Hierarchy) Class(id types.ClassID) (*ClassDef, error) {
	def, ok := h.classes[id]
	if !ok {
		return nil, fmt.Errorf("class %q is not registered", id)
	}
	return def, nil
}

// Has reports whether the class is registered.
func (h *Hierarchy) Has(id types.ClassID) bool {
	_, ok := h.classes[id]
	return ok
}

// MixinBase resolves the first non-mixin ancestor of a mixin: the class
// whose documents the mixin attaches to.
func (h *Hierarchy) MixinBase(id types.ClassID) (types.ClassID, error) {
	def, ok := h.classes[id]
	if !ok {
		return "", fmt.Errorf("class %q is not registered", id)
	}
	for def.Mixin {
		if def.Super == "" {
			return "", fmt.Errorf("mixin %q has no base class", id)
		}
		def = h.classes[def.Super]
	}
	return def.ID, nil
}

// IsMixin reports whether the class is a mixin.
func (h *Hierarchy) IsMixin(id types.ClassID) bool {
	def, ok := h.classes[id]
	return ok && def.Mixin
}

// DomainOf resolves the storage domain of a class, walking up the superclass
// chain for classes that do not declare one.
func (h *Hierarchy) DomainOf(id types.ClassID) (types.Domain, error) {
	def, ok := h.classes[id]
	if !ok {
		return "", fmt.Errorf("class %q is not registered", id)
	}
	for cur := def; cur != nil; {
		if cur.Domain != "" {
			return cur.Domain, nil
		}
		if cur.Super == "" {
			break
		}
		cur = h.classes[cur.Super]
	}
	return types.DomainDoc, nil
}

// IsDerived reports whether class c equals or descends from parent.
func (h *Hierarchy) IsDerived(c, parent types.ClassID) bool {
	for cur := c; cur != ""; {
		if cur == parent {
			return true
		}
		def, ok := h.classes[cur]
		if !ok {
			return false
		}
		cur = def.Super
	}
	return false
}

// Descendants returns the class itself plus all transitive subclasses, in a
// stable order. Results are cached per class.
func (h *Hierarchy) Descendants(id types.ClassID) []types.ClassID {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cached, ok := h.descCache[id]; ok {
		return cached
	}
	var out []types.ClassID
	var walk func(c types.ClassID)
	walk = func(c types.ClassID) {
		out = append(out, c)
		for _, child := range h.children[c] {
			walk(child)
		}
	}
	if _, ok := h.classes[id]; ok {
		walk(id)
	}
	h.descCache[id] = out
	return out
}

// ConcreteDescendants returns the non-abstract, non-mixin descendants of a
// class (including itself when concrete). This is the set a class filter
// expands to.
func (h *Hierarchy) ConcreteDescendants(id types.ClassID) []types.ClassID {
	all := h.Descendants(id)
	out := make([]types.ClassID, 0, len(all))
	for _, c := range all {
		def := h.classes[c]
		if def != nil && !def.Abstract && !def.Mixin {
			out = append(out, c)
		}
	}
	return out
}

// AttrOf finds the attribute definition for a field, walking the superclass
// chain. The second result is the class that declares it.
func (h *Hierarchy) AttrOf(id types.ClassID, field string) (AttrDef, types.ClassID, bool) {
	for cur := id; cur != ""; {
		def, ok := h.classes[cur]
		if !ok {
			break
		}
		for _, a := range def.Attrs {
			if a.Name == field {
				return a, cur, true
			}
		}
		cur = def.Super
	}
	return AttrDef{}, "", false
}
