package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonathan/repetition-orchestrator/internal/tasklist"
)

var listsCommand = &cobra.Command{
	Use:   "lists",
	Short: "List the stored task lists",
	RunE:  runListsCmd,
}

var (
	listsTaskListDir string
	listsShowItems   bool
)

func init() {
	listsCommand.Flags().StringVar(&listsTaskListDir, "task-list-dir", "sandbox/task_lists", "Directory holding task list CSV files")
	listsCommand.Flags().BoolVar(&listsShowItems, "items", false, "Also print the items of each list")

	rootCmd.AddCommand(listsCommand)
}

func runListsCmd(_ *cobra.Command, _ []string) error {
	store, err := tasklist.NewStore(listsTaskListDir)
	if err != nil {
		return err
	}

	names, err := store.List()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Printf("No task lists in %s\n", listsTaskListDir)
		return nil
	}

	for _, name := range names {
		if !listsShowItems {
			fmt.Println(name)
			continue
		}
		list, err := store.Get(name)
		if err != nil {
			fmt.Printf("%s (unreadable: %v)\n", name, err)
			continue
		}
		fmt.Printf("%s (%d items)\n", name, len(list.Items))
		for _, item := range list.Items {
			fmt.Printf("  • %s\n", item.Name)
		}
	}
	return nil
}
