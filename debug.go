package runner

import (
	"context"
	"sort"

	"github.com/m1gwings/treedrawer/tree"
)

// DebugMode selects how much pipeline activity the Debug subsystem logs.
type DebugMode string

const (
	DebugNormal  DebugMode = "normal"
	DebugVerbose DebugMode = "verbose"
)

// DebugConfig holds the Debug subsystem's two switches, dispatch logging and
// the tree dump, which can be set independently here. Run builds it from
// RunOptions.Debug via resolveDebugConfig (verbose: both on; any other mode:
// both off); RunOptions has no field that takes a DebugConfig directly.
type DebugConfig struct {
	Mode        DebugMode
	LogDispatch bool
	LogTree     bool
}

func resolveDebugConfig(mode DebugMode) DebugConfig {
	switch mode {
	case DebugVerbose:
		return DebugConfig{Mode: DebugVerbose, LogDispatch: true, LogTree: true}
	default:
		return DebugConfig{Mode: DebugNormal}
	}
}

// installDebug wires the Debug subsystem's interceptors, adapted from the
// teacher's extensions/graph_debug.go (which logged a dependency graph only
// on error) generalized into two independently togglable behaviors: per-
// dispatch tracing and an up-front tree dump of the resolved resource graph.
func installDebug(cfg DebugConfig, store *Store, middleware *MiddlewareManager, logger *Logger) {
	if cfg.LogDispatch {
		middleware.InterceptTask(func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps) (any, error) {
			id := ""
			if mw.TaskDefinition != nil {
				id = mw.TaskDefinition.id
			}
			trace := newRecordID()
			logger.Debug("task middleware dispatch", nil, map[string]any{"task": id, "trace": trace})
			out, err := next(mw.Input)
			if err != nil {
				logger.Debug("task middleware dispatch failed", err, map[string]any{"task": id, "trace": trace})
			} else {
				logger.Debug("task middleware dispatch done", nil, map[string]any{"task": id, "trace": trace})
			}
			return out, err
		})
		middleware.InterceptResource(func(ctx context.Context, mw MiddlewareInput, next MiddlewareNext, deps Deps) (any, error) {
			id := ""
			if mw.ResourceDefinition != nil {
				id = mw.ResourceDefinition.id
			}
			trace := newRecordID()
			logger.Debug("resource middleware dispatch", nil, map[string]any{"resource": id, "trace": trace})
			out, err := next(mw.Input)
			if err != nil {
				logger.Debug("resource middleware dispatch failed", err, map[string]any{"resource": id, "trace": trace})
			} else {
				logger.Debug("resource middleware dispatch done", nil, map[string]any{"resource": id, "trace": trace})
			}
			return out, err
		})
	}

	if cfg.LogTree {
		logger.Debug("dependency graph", nil, map[string]any{"tree": renderDependencyTree(store)})
	}
}

// renderDependencyTree renders every registered resource's init-time
// dependency edges as a tree via treedrawer, under a synthetic "resources"
// root node whose children are the resources that have no dependents.
func renderDependencyTree(store *Store) string {
	all := store.all()

	var resourceIDs []string
	for id, def := range all {
		if _, ok := def.(*ResourceDefinition); ok {
			resourceIDs = append(resourceIDs, id)
		}
	}
	sort.Strings(resourceIDs)

	childrenOf := make(map[string][]string)
	hasParent := make(map[string]bool)
	for _, id := range resourceIDs {
		res := all[id].(*ResourceDefinition)
		for _, ref := range res.dependenciesFor(store.configFor(id)) {
			if _, ok := all[ref.ID()].(*ResourceDefinition); ok {
				childrenOf[id] = append(childrenOf[id], ref.ID())
				hasParent[ref.ID()] = true
			}
		}
	}
	for id := range childrenOf {
		sort.Strings(childrenOf[id])
	}

	var roots []string
	for _, id := range resourceIDs {
		if !hasParent[id] {
			roots = append(roots, id)
		}
	}
	if len(roots) == 0 {
		return "(no resources registered)"
	}

	root := tree.NewTree(tree.NodeString("resources"))
	visited := make(map[string]bool)
	for _, r := range roots {
		buildDependencyNode(root, r, childrenOf, visited)
	}
	return root.String()
}

func buildDependencyNode(parent *tree.Tree, id string, childrenOf map[string][]string, visited map[string]bool) {
	node := parent.AddChild(tree.NodeString(id))
	if visited[id] {
		return
	}
	visited[id] = true
	for _, child := range childrenOf[id] {
		buildDependencyNode(node, child, childrenOf, visited)
	}
}
