package runner

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// idRegistry tracks every id claimed during a boot and derives anonymous ids
// for definitions created without one, keyed off the caller's source file.
type idRegistry struct {
	mu      sync.Mutex
	claimed map[string]bool
	counter atomic.Uint64
}

// anonymousIDs backs every Task/Resource/NewEvent/Hook/*Middleware
// constructor's omit-id path; a single package-level registry (rather than
// one per Store) keeps anonymous ids stable even though definitions are
// typically built before any Store exists.
var anonymousIDs = newIDRegistry()

// withID resolves a constructor's id argument: the explicit id if given, or
// a freshly-derived anonymous one attributed to the constructor's caller
// when id is "".
func withID(id string, kind Kind) string {
	if id != "" {
		return id
	}
	return anonymousIDs.anonymousID(kind, 3)
}

func newIDRegistry() *idRegistry {
	return &idRegistry{claimed: make(map[string]bool)}
}

// claim registers id as taken and reports whether it was free; a second
// claim of the same id returns false. The Store checks its definitions map
// first (accepting the identical object again, rejecting a distinct one), so
// claim is only reached for ids that map does not hold yet.
func (r *idRegistry) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed[id] {
		return false
	}
	r.claimed[id] = true
	return true
}

// anonymousID derives `{truncated-path}.{kind}.{n}` from the caller's source
// file, skip frames up the stack to the definition constructor's caller.
func (r *idRegistry) anonymousID(kind Kind, skip int) string {
	_, file, _, ok := runtime.Caller(skip)
	short := "anonymous"
	if ok {
		short = truncateSourcePath(file)
	}
	n := r.counter.Add(1)
	return fmt.Sprintf("%s.%s.%d", short, kind, n)
}

func truncateSourcePath(file string) string {
	base := filepath.Base(file)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	dir := filepath.Base(filepath.Dir(file))
	if dir == "." || dir == "" {
		return base
	}
	return dir + "/" + base
}

// newRecordID mints a unique id for ephemeral runtime records — currently
// the per-dispatch trace id installDebug attaches to its log records; not
// definition ids, which come from the user or anonymousID above.
func newRecordID() string {
	return uuid.NewString()
}
