// Package codec defines the persistence collaborator injected into a tree
// (spec.md §4.7 "handle to the serializer", §6 "persistence format:
// opaque, delegated to an injected serializer"). The package is
// format-agnostic: it only fixes the contract and the scalar-type
// registry a concrete codec (e.g. jsoncodec) needs to serialize an
// any-typed payload without baking in Go's runtime reflection rules.
//
// Grounded on the teacher's pkg/hive/write.go / read.go split between a
// format-agnostic tree walk and a format-specific byte layout, and on
// pkg/types/api.go's RegType enum, which tags a stored value's decode
// shape the same way Registry tags a scalar payload's Go type here.
package codec

import (
	"io"
	"reflect"

	"github.com/joshuapare/datatree/dispatch"
	"github.com/joshuapare/datatree/node"
	"github.com/joshuapare/datatree/treemgr"
)

// Codec is the injected persistence collaborator. It also satisfies
// treemgr.Serializer via CopyPayload: the tree manager's payload-copy
// handle and the persistence codec are the same collaborator (spec.md
// §4.7).
type Codec interface {
	// Version reports the archive format this codec writes; only version 1
	// is required to round-trip (spec.md §6).
	Version() int
	// WriteTree serializes the regular, persistent subtree rooted at root
	// to w. Must be called with root's Sync held by the caller.
	WriteTree(w io.Writer, root *node.Node) error
	// ReadTree deserializes a subtree from r into a freshly constructed
	// tree wired to host, recomputing every path from the parent chain
	// (spec.md §6).
	ReadTree(r io.Reader, host *dispatch.Host) (*treemgr.Manager, *node.Node, error)
	// CopyPayload deep-copies a payload of a type known to this codec's
	// Registry.
	CopyPayload(v any) any
}

// Registry maps between a stable scalar-type tag and the concrete
// reflect.Type it names (spec.md §3 "typed scalar values"). A codec
// consults it to turn a value's reflect.Type into something it can write
// to a byte sink, and back again on read.
type Registry struct {
	byTag  map[string]reflect.Type
	byType map[reflect.Type]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byTag: make(map[string]reflect.Type), byType: make(map[reflect.Type]string)}
}

// Register associates tag with typ in both directions. Re-registering a
// tag or type overwrites the previous association.
func (r *Registry) Register(tag string, typ reflect.Type) {
	r.byTag[tag] = typ
	r.byType[typ] = tag
}

// TagFor returns the tag registered for typ.
func (r *Registry) TagFor(typ reflect.Type) (string, bool) {
	tag, ok := r.byType[typ]
	return tag, ok
}

// TypeFor returns the reflect.Type registered for tag.
func (r *Registry) TypeFor(tag string) (reflect.Type, bool) {
	typ, ok := r.byTag[tag]
	return typ, ok
}

// DefaultRegistry returns a Registry pre-populated with Go's scalar kinds
// plus time.Time, the full range a "typed scalar value" can hold per
// spec.md §1's non-goal boundary (composite/reference payloads are out of
// scope).
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for tag, typ := range scalarKinds() {
		r.Register(tag, typ)
	}
	return r
}
