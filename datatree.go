// Package datatree is the public facade over the tree model, the
// reference/rebinding engine, and the persistence codec (spec.md §1):
// a single Init entry point handing back an open Tree handle, sitting
// above the internal `node`/`treemgr`/`dispatch` packages the way the
// teacher's pkg/hive sits above its internal binary-format packages.
package datatree

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/joshuapare/datatree/codec"
	"github.com/joshuapare/datatree/codec/jsoncodec"
	"github.com/joshuapare/datatree/dispatch"
	"github.com/joshuapare/datatree/errs"
	"github.com/joshuapare/datatree/logging"
	"github.com/joshuapare/datatree/node"
	"github.com/joshuapare/datatree/props"
	"github.com/joshuapare/datatree/treemgr"
)

// DefaultRootName names the root node created when Init has nothing to
// load, following the teacher's default-hive naming convention
// (SOFTWARE/SYSTEM) applied to this module's own domain.
const DefaultRootName = "Data Manager"

// Options configures Init. A zero Options uses the default JSON codec and
// dispatch.Options defaults.
type Options struct {
	// Codec persists the tree; defaults to jsoncodec.New(nil).
	Codec codec.Codec
	// Dispatch configures the maintenance host's periodic-cleanup cadence
	// and shutdown deadline.
	Dispatch dispatch.Options
}

// Tree is the public handle to a running tree: its root node, the manager
// coordinating structural mutation and reference rebinding, the
// dispatcher host, and the codec used for Save.
type Tree struct {
	Root *node.Node

	mgr   *treemgr.Manager
	host  *dispatch.Host
	codec codec.Codec
}

// openGuard enforces spec.md §6's "Attempting to initialize twice fails
// with InvalidOperation": only one *Tree may be open at a time, mirroring
// the teacher's single-open-per-file discipline in hive.Open (a hive stays
// locked until its handle is closed, and a second Open on the locked file
// fails rather than silently handing back a second handle onto the same
// state). Close releases the guard, so a process may Init any number of
// trees across its lifetime as long as it closes each before the next.
var openGuard struct {
	mu   sync.Mutex
	open bool
}

// Init opens the module's tree handle: if path names an existing file, it
// is loaded via opts.Codec; if path is empty or names no file, a fresh tree
// is returned with an empty root named DefaultRootName, flagged Persistent.
// Any other failure to open or decode the file is returned as an error.
// Only one Tree may be open at a time; calling Init again before the
// previous handle's Close returns errs.KindInvalidOperation (spec.md §6).
func Init(path string, opts Options) (*Tree, error) {
	openGuard.mu.Lock()
	if openGuard.open {
		openGuard.mu.Unlock()
		return nil, errs.New(errs.KindInvalidOperation, "datatree: a tree is already open; Close it before calling Init again")
	}
	openGuard.open = true
	openGuard.mu.Unlock()

	tr, err := initTree(path, opts)
	if err != nil {
		openGuard.mu.Lock()
		openGuard.open = false
		openGuard.mu.Unlock()
		return nil, err
	}
	return tr, nil
}

func initTree(path string, opts Options) (*Tree, error) {
	c := opts.Codec
	if c == nil {
		c = jsoncodec.New(nil)
	}
	host := dispatch.NewHost(opts.Dispatch)

	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			mgr, root, err := c.ReadTree(f, host)
			if err != nil {
				return nil, err
			}
			return &Tree{Root: root, mgr: mgr, host: host, codec: c}, nil
		case os.IsNotExist(err):
			// Fall through to the empty-tree bootstrap below.
		default:
			return nil, errs.Wrap(errs.KindNotFound, "open "+path, err)
		}
	}

	mgr, root := treemgr.NewTree(DefaultRootName, props.Persistent, c, host)
	return &Tree{Root: root, mgr: mgr, host: host, codec: c}, nil
}

// Save writes the tree's regular, persistent subtree to path via the
// tree's codec (spec.md §6).
func (t *Tree) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.KindSerialization, "create "+path, err)
	}
	defer f.Close()

	t.Root.Lock()
	defer t.Root.Unlock()
	return t.codec.WriteTree(f, t.Root)
}

// GetData constructs a long-lived, auto-rebinding Reference[T] rooted at
// this tree (spec.md §4.8), a thin convenience wrapper over
// treemgr.GetData for callers that only ever hold one Tree.
func GetData[T any](t *Tree, path string, init T) (*treemgr.Reference[T], error) {
	return treemgr.GetData(t.mgr, t.Root, path, init)
}

// Close shuts down the tree's dispatcher host, draining queued callbacks
// within its configured deadline, and releases the open guard so a
// subsequent Init may succeed.
func (t *Tree) Close(ctx context.Context) error {
	defer func() {
		openGuard.mu.Lock()
		openGuard.open = false
		openGuard.mu.Unlock()
	}()
	return t.host.Shutdown(ctx)
}

// SetLogger installs l as the package-wide logger used by the dispatcher
// host and tree manager; passing nil restores the discarding default
// (spec.md §2.1 Ambient logging).
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}
