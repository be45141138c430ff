package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/datatree"
	"github.com/joshuapare/datatree/node"
	"github.com/joshuapare/datatree/snapshot"
)

var dumpValuesOnly bool

func init() {
	cmd := newDumpCmd()
	cmd.Flags().BoolVar(&dumpValuesOnly, "values-only", false, "Show only values, not node headers")
	rootCmd.AddCommand(cmd)
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <archive>",
		Short: "Human-readable dump of a tree archive",
		Long: `The dump command walks every regular node and value in an archive written
by datatree.Save and prints them, depth first.

Example:
  datatreectl dump tree.json
  datatreectl dump tree.json --values-only
  datatreectl dump tree.json --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(args[0])
		},
	}
}

// jsonValue and jsonEntry give the --json output stable, lower-cased keys
// independent of the internal snapshot.NodeDetail/ValueDetail shape used
// for the text renderer.
type jsonValue struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type jsonEntry struct {
	Path       string      `json:"path"`
	ChildCount int         `json:"childCount"`
	Values     []jsonValue `json:"values,omitempty"`
}

func runDump(archivePath string) error {
	tr, err := datatree.Init(archivePath, datatree.Options{})
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer tr.Close(context.Background())

	tr.Root.Lock()
	defer tr.Root.Unlock()

	type entry struct {
		detail snapshot.NodeDetail
		values []snapshot.ValueDetail
	}
	var entries []entry
	walkDump(tr.Root, func(n *node.Node, values []snapshot.ValueDetail) {
		entries = append(entries, entry{detail: nodeDetail(n), values: values})
	})

	if jsonOut {
		out := make([]jsonEntry, 0, len(entries))
		for _, e := range entries {
			values := make([]jsonValue, 0, len(e.values))
			for _, v := range e.values {
				values = append(values, jsonValue{Name: v.Name, Path: v.Path, Type: v.TypeName, Value: v.Payload()})
			}
			out = append(out, jsonEntry{Path: e.detail.Path, ChildCount: e.detail.ChildCount, Values: values})
		}
		return printJSON(out)
	}

	for _, e := range entries {
		if !dumpValuesOnly {
			printInfo("[%s]\n", e.detail.Path)
			if len(e.values) == 0 {
				printInfo("  (no values)\n")
			}
		}
		for _, v := range e.values {
			payload := v.Payload()
			if dumpValuesOnly {
				printInfo("%s = %v (%s)\n", v.Path, payload, v.TypeName)
			} else {
				printInfo("  %s = %v (%s)\n", v.Name, payload, v.TypeName)
			}
		}
		if !dumpValuesOnly {
			printInfo("\n")
		}
	}
	return nil
}

func nodeDetail(n *node.Node) snapshot.NodeDetail {
	ancestorsPersistent := true
	for p := n.Parent(); p != nil; p = p.Parent() {
		if !p.IsPersistent() {
			ancestorsPersistent = false
			break
		}
	}
	return snapshot.NodeDetail{
		NodeSnapshot: snapshot.NodeSnapshot{
			Name:       n.Name(),
			Path:       n.Path(),
			Properties: n.Properties(),
		},
		ChildCount:          n.Children.Len(),
		ValueCount:          n.Values.Len(),
		AncestorsPersistent: ancestorsPersistent,
	}
}

// walkDump visits n and every regular descendant depth first, invoking
// visit once per node with its regular values already converted to
// ValueDetail. Caller must hold the tree's Sync.
func walkDump(n *node.Node, visit func(*node.Node, []snapshot.ValueDetail)) {
	var values []snapshot.ValueDetail
	for _, v := range n.Values.RegularInOrder() {
		values = append(values, snapshot.ValueDetail{
			ValueSnapshot: v.Snapshot(),
			TypeName:      v.Type().String(),
		})
	}
	visit(n, values)
	for _, child := range n.Children.RegularInOrder() {
		walkDump(child, visit)
	}
}
