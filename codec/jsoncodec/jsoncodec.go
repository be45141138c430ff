// Package jsoncodec is the default codec.Codec implementation (spec.md
// §6): archive version 1, a straightforward JSON tree mirroring the
// regular, persistent subtree. Grounded on the teacher's pkg/hive
// write.go/read.go split, generalized from a binary cell layout to a
// textual one since this module has no concrete on-disk format to match.
package jsoncodec

import (
	"encoding/json"
	"io"
	"reflect"
	"time"

	"github.com/joshuapare/datatree/codec"
	"github.com/joshuapare/datatree/dispatch"
	"github.com/joshuapare/datatree/errs"
	"github.com/joshuapare/datatree/node"
	"github.com/joshuapare/datatree/props"
	"github.com/joshuapare/datatree/treemgr"
	"github.com/joshuapare/datatree/value"
)

// Version is the only archive version this codec knows how to read or
// write (spec.md §6 "only version 1 must round-trip current trees").
const Version = 1

// JSON is codec.Codec's default implementation.
type JSON struct {
	registry *codec.Registry
}

// New constructs a JSON codec using reg to tag scalar payload types, or
// codec.DefaultRegistry() if reg is nil.
func New(reg *codec.Registry) *JSON {
	if reg == nil {
		reg = codec.DefaultRegistry()
	}
	return &JSON{registry: reg}
}

func (j *JSON) Version() int { return Version }

// CopyPayload returns v unchanged: every type this codec knows about is a
// Go scalar, copied by value on assignment, so no deep-copy step is
// needed (spec.md §1 non-goals exclude composite/reference payloads).
func (j *JSON) CopyPayload(v any) any { return v }

type archiveDoc struct {
	Version int     `json:"version"`
	Root    nodeDoc `json:"root"`
}

type nodeDoc struct {
	Name     string     `json:"name"`
	Children []nodeDoc  `json:"children,omitempty"`
	Values   []valueDoc `json:"values,omitempty"`
}

type valueDoc struct {
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
}

// WriteTree serializes the regular, persistent subtree rooted at root
// (spec.md §6 "only regular, persistent entries are written"). Must be
// called with root's Sync held by the caller.
func (j *JSON) WriteTree(w io.Writer, root *node.Node) error {
	doc, err := j.encodeNode(root)
	if err != nil {
		return err
	}
	arc := archiveDoc{Version: Version, Root: doc}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(arc); err != nil {
		return errs.Wrap(errs.KindSerialization, "encode tree", err)
	}
	return nil
}

func (j *JSON) encodeNode(n *node.Node) (nodeDoc, error) {
	doc := nodeDoc{Name: n.Name()}
	for _, child := range n.Children.RegularInOrder() {
		if !child.IsPersistent() {
			continue
		}
		cdoc, err := j.encodeNode(child)
		if err != nil {
			return nodeDoc{}, err
		}
		doc.Children = append(doc.Children, cdoc)
	}
	for _, v := range n.Values.RegularInOrder() {
		if !v.IsPersistent() {
			continue
		}
		vdoc, err := j.encodeValue(v)
		if err != nil {
			return nodeDoc{}, err
		}
		doc.Values = append(doc.Values, vdoc)
	}
	return doc, nil
}

func (j *JSON) encodeValue(v *value.Value) (valueDoc, error) {
	tag, ok := j.registry.TagFor(v.Type())
	if !ok {
		return valueDoc{}, errs.New(errs.KindSerialization, "value "+v.Path()+" has an unregistered type")
	}
	payload, err := v.Read()
	if err != nil {
		return valueDoc{}, errs.Wrap(errs.KindSerialization, "read value "+v.Path(), err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return valueDoc{}, errs.Wrap(errs.KindSerialization, "marshal value "+v.Path(), err)
	}
	return valueDoc{Name: v.Name(), Type: tag, Timestamp: v.Timestamp(), Value: raw}, nil
}

// ReadTree deserializes an archive from r into a fresh tree wired to host,
// recomputing every path from the parent chain as it is built (spec.md
// §6). Every entry in the archive is, by construction, regular and
// persistent.
func (j *JSON) ReadTree(r io.Reader, host *dispatch.Host) (*treemgr.Manager, *node.Node, error) {
	var arc archiveDoc
	if err := json.NewDecoder(r).Decode(&arc); err != nil {
		return nil, nil, errs.Wrap(errs.KindSerialization, "decode archive", err)
	}
	if arc.Version != Version {
		return nil, nil, errs.New(errs.KindVersionUnsupported, "jsoncodec cannot read archive version")
	}

	mgr, root := treemgr.NewTree(arc.Root.Name, props.Persistent, j, host)
	if err := j.decodeInto(root, arc.Root); err != nil {
		return nil, nil, err
	}
	return mgr, root, nil
}

func (j *JSON) decodeInto(n *node.Node, doc nodeDoc) error {
	for _, vdoc := range doc.Values {
		typ, ok := j.registry.TypeFor(vdoc.Type)
		if !ok {
			return errs.New(errs.KindSerialization, "value "+vdoc.Name+" has unknown type tag "+vdoc.Type)
		}
		ptr := reflect.New(typ)
		if err := json.Unmarshal(vdoc.Value, ptr.Interface()); err != nil {
			return errs.Wrap(errs.KindSerialization, "unmarshal value "+vdoc.Name, err)
		}
		if _, err := n.Values.Add(vdoc.Name, typ, props.Persistent, ptr.Elem().Interface()); err != nil {
			return err
		}
	}
	for _, cdoc := range doc.Children {
		child, err := n.Children.AddWithProperties(cdoc.Name, props.Persistent)
		if err != nil {
			return err
		}
		if err := j.decodeInto(child, cdoc); err != nil {
			return err
		}
	}
	return nil
}
