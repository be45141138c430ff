package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetCommand(t *testing.T) {
	archive := buildTestArchive(t)

	tests := []struct {
		name        string
		path        string
		showType    bool
		json        bool
		wantErr     bool
		wantContain []string
	}{
		{name: "existing int value", path: "/a/b/c", wantContain: []string{"42"}},
		{name: "existing string value", path: "/a/name", wantContain: []string{"hello"}},
		{name: "with type", path: "/a/b/c", showType: true, wantContain: []string{"42", "int"}},
		{name: "as JSON", path: "/a/b/c", json: true, wantContain: []string{`"value": 42`}},
		{name: "missing value", path: "/a/nope", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			getShowType = tc.showType
			jsonOut = tc.json
			defer func() { getShowType, jsonOut = false, false }()

			out, err := captureOutput(t, func() error { return runGet(archive, tc.path) })
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.json {
				assertJSON(t, out)
			}
			for _, want := range tc.wantContain {
				require.Contains(t, out, want)
			}
		})
	}
}
