package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/datatree"
	"github.com/joshuapare/datatree/snapshot"
	"github.com/joshuapare/datatree/value"
)

var watchDuration time.Duration

func init() {
	cmd := newWatchCmd()
	cmd.Flags().DurationVar(&watchDuration, "duration", 0, "Stop watching after this long (0 = until interrupted)")
	rootCmd.AddCommand(cmd)
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <archive> <path>",
		Short: "Print a value's changes as they happen",
		Long: `The watch command opens an archive, prints the current value at path, and
then prints every further change notification until interrupted (or
--duration elapses). Like get, it requires the value to exist already:
watch observes a value in place rather than creating one.

Example:
  datatreectl watch tree.json /a/b/c
  datatreectl watch tree.json /a/b/c --duration 30s`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(args[0], args[1])
		},
	}
}

func runWatch(archivePath, valuePath string) error {
	tr, err := datatree.Init(archivePath, datatree.Options{})
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer tr.Close(context.Background())

	tr.Root.Lock()
	v, err := tr.Root.GetDataValue(valuePath)
	tr.Root.Unlock()
	if err != nil {
		return fmt.Errorf("watch %s: %w", valuePath, err)
	}

	printValueChange(valuePath, v.Snapshot())
	unsubscribe := v.Subscribe(func(snap snapshot.ValueSnapshot, flags value.ChangeFlags) {
		printValueChange(valuePath, snap)
	})
	defer unsubscribe()

	ctx := context.Background()
	var cancel context.CancelFunc
	if watchDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, watchDuration)
		defer cancel()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	<-ctx.Done()
	return nil
}

func printValueChange(path string, snap snapshot.ValueSnapshot) {
	printInfo("%s %v\n", path, snap.Payload())
}
