package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/k8ika0s/s390x-wheel-refinery/internal/queue"
)

func newQueueCommand() *cobra.Command {
	var spec string
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the retry queue",
	}
	cmd.PersistentFlags().StringVar(&spec, "queue", "", "Retry queue (file path, redis:// URL or kafka://brokers/topic)")
	cobra.CheckErr(cmd.MarkPersistentFlagRequired("queue"))

	enqueue := &cobra.Command{
		Use:   "add <package>[==version]",
		Short: "Enqueue a rebuild request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recipes, _ := cmd.Flags().GetStringArray("recipe")
			name, version := splitSpec(args[0])
			return queue.Open(spec).Enqueue(cmd.Context(), queue.Request{
				Package: name,
				Version: version,
				Recipes: recipes,
			})
		},
	}
	enqueue.Flags().StringArray("recipe", nil, "Recipe step to layer onto the package override")

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := queue.Open(spec).List(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue depth and oldest item age",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := queue.Open(spec).Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "length: %d\noldest age: %ds\n", s.Length, s.OldestAge)
			return nil
		},
	}

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Drop all pending requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return queue.Open(spec).Clear(cmd.Context())
		},
	}

	cmd.AddCommand(enqueue, list, stats, clear)
	return cmd
}

func splitSpec(arg string) (name, version string) {
	if i := strings.Index(arg, "=="); i >= 0 {
		return arg[:i], arg[i+2:]
	}
	return arg, ""
}
