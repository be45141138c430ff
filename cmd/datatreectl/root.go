// Command datatreectl is a small inspection CLI over a saved tree archive,
// mirroring the teacher's cmd/hivectl / cmd/hiveexplorer split: one static
// dump of the whole tree, one single-value lookup, and one live watch of a
// value's changes.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	jsonOut bool
	quiet   bool
)

var rootCmd = &cobra.Command{
	Use:     "datatreectl",
	Short:   "Inspect saved datatree archives",
	Long:    `datatreectl loads a tree archive written by datatree.Save and lets an operator dump it, read a single value, or watch one for changes.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress informational output")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
