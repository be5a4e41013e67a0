package runner

import (
	"fmt"
	"sync"
)

// Override replaces every property except id of an already-registered
// definition. Root-most (shallowest) declaration wins; among overrides at
// equal depth, the one discovered last in traversal order wins — a
// deterministic tiebreak for the sibling-branches case the design notes
// leave open.
type Override struct {
	Target      string
	Replacement Identifiable
}

type pendingOverride struct {
	override *Override
	depth    int
	seq      int
}

// Store is the canonical home for every registered definition: identity,
// override resolution, and tag indexing. Adapted from the teacher's
// scope.go cache/presets pair, generalized from executor caching to the
// registry of every definition kind (tasks, resources, events, hooks,
// middleware, tags, errors, async contexts).
type Store struct {
	mu sync.Mutex

	ids *idRegistry

	definitions map[string]Identifiable
	regOrder    []string
	regSeq      map[string]int

	resourceConfigs map[string]any

	pending []pendingOverride

	locked bool
}

func NewStore() *Store {
	return &Store{
		ids:             newIDRegistry(),
		definitions:     make(map[string]Identifiable),
		regSeq:          make(map[string]int),
		resourceConfigs: make(map[string]any),
	}
}

// register adds def under its id. Re-registering the identical object is a
// no-op (idempotent); registering a distinct object under an id already in
// use fails.
func (s *Store) register(def Identifiable) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return &LockdownViolationError{frameworkError: newFrameworkError(), Operation: "register"}
	}
	id := def.ID()
	if existing, ok := s.definitions[id]; ok {
		if existing == def {
			return nil
		}
		return fmt.Errorf("duplicate registration for id %q", id)
	}
	if !s.ids.claim(id) {
		return fmt.Errorf("duplicate registration for id %q", id)
	}
	s.definitions[id] = def
	s.regOrder = append(s.regOrder, id)
	s.regSeq[id] = len(s.regOrder)
	return nil
}

// collect walks a register-tree entry (a resource, bound resource, task,
// event, hook, middleware, tag, error, async context, or *Override) and
// registers every definition it reaches, recursing into resource children.
func (s *Store) collect(entry any, depth int) error {
	switch v := entry.(type) {
	case nil:
		return nil
	case *Override:
		s.mu.Lock()
		s.pending = append(s.pending, pendingOverride{override: v, depth: depth, seq: len(s.pending)})
		s.mu.Unlock()
		return nil
	case BoundResource:
		return s.collectResource(v.Definition, v.Config, depth)
	case *ResourceDefinition:
		return s.collectResource(v, nil, depth)
	case *TaskDefinition:
		if err := s.register(v); err != nil {
			return err
		}
		return s.registerLifecycleEvents(v.beforeRun, v.afterRun, v.onError)
	case *EventDefinition:
		return s.register(v)
	case *HookDefinition:
		return s.register(v)
	case *MiddlewareDefinition:
		return s.register(v)
	case *TagDefinition:
		return s.register(v)
	case *ErrorDefinition:
		return s.register(v)
	case *AsyncContextDefinition:
		return s.register(v)
	default:
		return fmt.Errorf("unregistrable entry of type %T", entry)
	}
}

func (s *Store) registerLifecycleEvents(events ...*EventDefinition) error {
	for _, e := range events {
		if e == nil {
			continue
		}
		if err := s.register(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) collectResource(def *ResourceDefinition, config any, depth int) error {
	if err := s.register(def); err != nil {
		return err
	}
	if err := s.registerLifecycleEvents(def.beforeInit, def.afterInit, def.onError); err != nil {
		return err
	}
	s.mu.Lock()
	s.resourceConfigs[def.id] = config
	s.mu.Unlock()
	for _, child := range def.registerFor(config) {
		if err := s.collect(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// applyOverrides resolves the staged override set and rewrites definitions
// in place; must run after the full tree has been collected.
func (s *Store) applyOverrides() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTarget := make(map[string]pendingOverride)
	for _, p := range s.pending {
		current, ok := byTarget[p.override.Target]
		if !ok || p.depth < current.depth || (p.depth == current.depth && p.seq > current.seq) {
			byTarget[p.override.Target] = p
		}
	}
	for target, p := range byTarget {
		if _, ok := s.definitions[target]; !ok {
			return &OverrideTargetMissingError{frameworkError: newFrameworkError(), Target: target}
		}
		if p.override.Replacement.ID() != target {
			return fmt.Errorf("override replacement id %q does not match target %q", p.override.Replacement.ID(), target)
		}
		s.definitions[target] = p.override.Replacement
	}
	return nil
}

// resolve returns the effective (override-applied) definition for id.
func (s *Store) resolve(id string) (Identifiable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.definitions[id]
	return d, ok
}

// resolveByRef resolves using a definition's own id, useful when the caller
// holds a possibly-stale pointer (pre-override) and wants the live one.
func (s *Store) resolveByRef(ref Identifiable) (Identifiable, bool) {
	return s.resolve(ref.ID())
}

func (s *Store) configFor(resourceID string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resourceConfigs[resourceID]
}

// registrationOrder returns every registered id in the order first seen.
func (s *Store) registrationOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.regOrder...)
}

func (s *Store) registrationIndex(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regSeq[id]
}

// getTasksWithTag returns tasks carrying tag, in registration order.
func (s *Store) getTasksWithTag(tag *TagDefinition) []*TaskDefinition {
	s.mu.Lock()
	order := append([]string{}, s.regOrder...)
	defs := s.definitions
	s.mu.Unlock()
	var out []*TaskDefinition
	for _, id := range order {
		if t, ok := defs[id].(*TaskDefinition); ok && tag.Exists(t) {
			out = append(out, t)
		}
	}
	return out
}

// getResourcesWithTag returns resources carrying tag, in registration order.
func (s *Store) getResourcesWithTag(tag *TagDefinition) []*ResourceDefinition {
	s.mu.Lock()
	order := append([]string{}, s.regOrder...)
	defs := s.definitions
	s.mu.Unlock()
	var out []*ResourceDefinition
	for _, id := range order {
		if r, ok := defs[id].(*ResourceDefinition); ok && tag.Exists(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = true
}

func (s *Store) isLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

func (s *Store) all() map[string]Identifiable {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Identifiable, len(s.definitions))
	for k, v := range s.definitions {
		out[k] = v
	}
	return out
}
