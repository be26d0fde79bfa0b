package registry

import (
	"context"
	"errors"
	"sort"

	"github.com/ValentinKolb/dBridge/bridge/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger(common.LoggerBridge)

// Handler executes one operation on the callee side. ctx is cancelled when
// the dispatcher shuts down. The returned value must be encodable by the
// channel's serializer.
type Handler func(ctx context.Context, args []any) (any, error)

// Operation is a registered handler with its id and name
type Operation struct {
	ID      common.OpID
	Name    string
	Handler Handler
}

// ErrNilHandler is returned when a nil handler is registered
var ErrNilHandler = errors.New("registry: handler must not be nil")

// Registry maps operation ids to handlers. It is safe for concurrent use,
// operations can be added while a dispatcher is serving.
type Registry struct {
	ops *xsync.MapOf[common.OpID, Operation]
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		ops: xsync.NewMapOf[common.OpID, Operation](),
	}
}

// Register adds a handler under an explicit id. An existing handler with the
// same id is replaced.
func (r *Registry) Register(id common.OpID, name string, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	if name == "" {
		name = id.String()
	}
	if prev, loaded := r.ops.LoadAndStore(id, Operation{ID: id, Name: name, Handler: h}); loaded {
		Logger.Warningf("operation %s (%s) replaced by %s", id, prev.Name, name)
	} else {
		Logger.Debugf("registered operation %s (%s)", id, name)
	}
	return nil
}

// RegisterNamed adds a handler under the id derived from its name (see
// common.OpIDFor) and returns that id
func (r *Registry) RegisterNamed(name string, h Handler) (common.OpID, error) {
	id := common.OpIDFor(name)
	return id, r.Register(id, name, h)
}

// Unregister removes the operation and reports whether it existed
func (r *Registry) Unregister(id common.OpID) bool {
	_, loaded := r.ops.LoadAndDelete(id)
	return loaded
}

// Lookup returns the operation registered under id
func (r *Registry) Lookup(id common.OpID) (Operation, bool) {
	return r.ops.Load(id)
}

// Len returns the number of registered operations
func (r *Registry) Len() int {
	return r.ops.Size()
}

// Operations returns all registered operations ordered by id
func (r *Registry) Operations() []Operation {
	ops := make([]Operation, 0, r.ops.Size())
	r.ops.Range(func(_ common.OpID, op Operation) bool {
		ops = append(ops, op)
		return true
	})
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].ID < ops[j].ID
	})
	return ops
}

// Names returns the names of all registered operations, sorted
func (r *Registry) Names() []string {
	ops := r.Operations()
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Name
	}
	sort.Strings(names)
	return names
}
