package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/datatree"
	"github.com/joshuapare/datatree/node"
	"github.com/joshuapare/datatree/props"
)

// buildTestArchive opens its own tree just long enough to populate and save
// it, closing it before returning so later commands in the same test
// process are free to Init their own handle (datatree.Init only allows one
// open tree at a time).
func buildTestArchive(t *testing.T) string {
	t.Helper()
	tr, err := datatree.Init("", datatree.Options{})
	require.NoError(t, err)

	require.NoError(t, node.SetValue(tr.Root, "/a/b/c", 42, props.Persistent))
	require.NoError(t, node.SetValue(tr.Root, "/a/name", "hello", props.Persistent))
	require.NoError(t, node.SetValue(tr.Root, "/transient", 1, 0))

	file := filepath.Join(t.TempDir(), "tree.json")
	require.NoError(t, tr.Save(file))
	require.NoError(t, tr.Close(context.Background()))
	return file
}

func TestDumpCommand(t *testing.T) {
	tests := []struct {
		name           string
		valuesOnly     bool
		json           bool
		wantContain    []string
		wantNotContain []string
	}{
		{
			name:        "text dump",
			wantContain: []string{"[/a/b]", "c = 42", "name = hello"},
		},
		{
			name:        "values only",
			valuesOnly:  true,
			wantContain: []string{"/a/b/c = 42", "/a/name = hello"},
		},
		{
			name:        "as JSON",
			json:        true,
			wantContain: []string{`"name": "c"`, `"value": 42`},
		},
	}

	archive := buildTestArchive(t)

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dumpValuesOnly = tc.valuesOnly
			jsonOut = tc.json
			defer func() { dumpValuesOnly, jsonOut = false, false }()

			out, err := captureOutput(t, func() error { return runDump(archive) })
			require.NoError(t, err)

			if tc.json {
				assertJSON(t, out)
			}
			for _, want := range tc.wantContain {
				require.Contains(t, out, want)
			}
			for _, unwanted := range tc.wantNotContain {
				require.NotContains(t, out, unwanted)
			}
		})
	}
}

func TestDumpCommandOmitsNonPersistentEntries(t *testing.T) {
	archive := buildTestArchive(t)
	out, err := captureOutput(t, func() error { return runDump(archive) })
	require.NoError(t, err)
	require.NotContains(t, out, "transient")
}
