package runner

import "sort"

// DependencyResolver validates the registered dependency graph and produces
// a safe resource initialization order. Adapted from the teacher's
// ReactiveGraph.FindDependents (graph.go), which walks a reactive dependent
// set iteratively to avoid recursion blowing the stack on deep graphs; here
// the same iterative three-color walk detects cycles and yields a
// topological order instead of a reactive invalidation set.
type DependencyResolver struct {
	store *Store
}

func NewDependencyResolver(store *Store) *DependencyResolver {
	return &DependencyResolver{store: store}
}

// definitionDependencies returns the Dependencies map for any kind that
// declares one, resolved against its bound config when applicable.
func definitionDependencies(store *Store, def Identifiable) Dependencies {
	switch v := def.(type) {
	case *ResourceDefinition:
		return v.dependenciesFor(store.configFor(v.id))
	case *TaskDefinition:
		return v.resolveDependencies()
	case *HookDefinition:
		return v.resolveDependencies()
	case *MiddlewareDefinition:
		return v.resolveDependencies()
	default:
		return nil
	}
}

// validateReferences checks every dependency reference across every
// registered definition resolves to something in the store.
func (r *DependencyResolver) validateReferences() error {
	for _, id := range r.store.registrationOrder() {
		def, _ := r.store.resolve(id)
		deps := definitionDependencies(r.store, def)
		for _, ref := range deps {
			if _, ok := r.store.resolve(ref.ID()); !ok {
				return &UnknownDependencyError{frameworkError: newFrameworkError(), From: id, To: ref.ID()}
			}
		}
	}
	return nil
}

type dfsFrame struct {
	id         string
	childIndex int
	children   []string
}

// resourceChildren returns the ids of the resources that id (a resource)
// depends on, in registration order, for deterministic tie-breaks.
func (r *DependencyResolver) resourceChildren(id string) []string {
	def, ok := r.store.resolve(id)
	if !ok {
		return nil
	}
	res, ok := def.(*ResourceDefinition)
	if !ok {
		return nil
	}
	deps := res.dependenciesFor(r.store.configFor(id))
	var out []string
	for _, ref := range deps {
		if resolved, ok := r.store.resolve(ref.ID()); ok {
			if _, isResource := resolved.(*ResourceDefinition); isResource {
				out = append(out, ref.ID())
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return r.store.registrationIndex(out[i]) < r.store.registrationIndex(out[j])
	})
	return out
}

// InitOrder returns resource ids in a valid topological init order: every
// dependency appears before its dependent. Ties (independent subgraphs) are
// broken by registration order. Cycles fail fast with the full path.
func (r *DependencyResolver) InitOrder() ([]string, error) {
	if err := r.validateReferences(); err != nil {
		return nil, err
	}

	var resources []string
	for _, id := range r.store.registrationOrder() {
		if def, ok := r.store.resolve(id); ok {
			if _, isResource := def.(*ResourceDefinition); isResource {
				resources = append(resources, id)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(resources))
	var postOrder []string

	for _, root := range resources {
		if color[root] != white {
			continue
		}
		stack := []*dfsFrame{{id: root, children: r.resourceChildren(root)}}
		color[root] = gray

		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.childIndex >= len(top.children) {
				color[top.id] = black
				postOrder = append(postOrder, top.id)
				stack = stack[:len(stack)-1]
				continue
			}
			child := top.children[top.childIndex]
			top.childIndex++
			switch color[child] {
			case white:
				color[child] = gray
				stack = append(stack, &dfsFrame{id: child, children: r.resourceChildren(child)})
			case gray:
				path := make([]string, 0, len(stack)+1)
				for _, f := range stack {
					path = append(path, f.id)
				}
				path = append(path, child)
				return nil, &CircularDependencyError{frameworkError: newFrameworkError(), Path: cyclePathFrom(path, child)}
			case black:
				// already finalized via another path, no edge to add
			}
		}
	}

	// A node enters postOrder only after every resource it depends on, so
	// postOrder already is the init order.
	return postOrder, nil
}

// cyclePathFrom trims path down to the cycle itself: from the first
// occurrence of target to the end, so the reported path starts and ends on
// the repeated id.
func cyclePathFrom(path []string, target string) []string {
	for i, id := range path {
		if id == target {
			return append([]string{}, path[i:]...)
		}
	}
	return path
}

// transitiveDependencyIDs computes the full transitive dependency closure of
// start (used to exclude a global middleware's own subtree from wrapping
// itself).
func transitiveDependencyIDs(store *Store, start Dependencies) map[string]bool {
	visited := make(map[string]bool)
	var stack []string
	for _, ref := range start {
		stack = append(stack, ref.ID())
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		def, ok := store.resolve(id)
		if !ok {
			continue
		}
		for _, ref := range definitionDependencies(store, def) {
			if !visited[ref.ID()] {
				stack = append(stack, ref.ID())
			}
		}
	}
	return visited
}
