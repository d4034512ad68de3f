// Command refinery rebuilds Python wheels for s390x targets, reusing what
// is already compatible and building the rest from source.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(log.LstdFlags)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("interrupted")
			os.Exit(130)
		}
		log.Printf("error: %v", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "refinery",
		Short:         "Rebuild Python wheels for s390x",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(
		newRunCommand(),
		newWorkerCommand(),
		newHistoryCommand(),
		newQueueCommand(),
	)
	return root
}
