package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/datatree"
)

var getShowType bool

func init() {
	cmd := newGetCmd()
	cmd.Flags().BoolVar(&getShowType, "type", false, "Show the value's type alongside it")
	rootCmd.AddCommand(cmd)
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <archive> <path>",
		Short: "Read a single value from a tree archive",
		Long: `The get command opens an archive written by datatree.Save and prints the
value at path, without creating it if absent.

Example:
  datatreectl get tree.json /a/b/c
  datatreectl get tree.json /a/b/c --type`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(args[0], args[1])
		},
	}
}

func runGet(archivePath, valuePath string) error {
	tr, err := datatree.Init(archivePath, datatree.Options{})
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer tr.Close(context.Background())

	tr.Root.Lock()
	v, err := tr.Root.GetDataValue(valuePath)
	tr.Root.Unlock()
	if err != nil {
		return fmt.Errorf("get %s: %w", valuePath, err)
	}

	payload, err := v.Read()
	if err != nil {
		return fmt.Errorf("read %s: %w", valuePath, err)
	}

	if jsonOut {
		result := map[string]any{"path": valuePath, "value": payload}
		if getShowType {
			result["type"] = v.Type().String()
		}
		return printJSON(result)
	}

	if getShowType {
		printInfo("%v (%s)\n", payload, v.Type().String())
	} else {
		printInfo("%v\n", payload)
	}
	return nil
}
