// cmd/transfer-advisor/registry.go
package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"transfer-advisor/pkg/registry"

	"github.com/spf13/cobra"
)

const defaultRegistryPath = "configs/activity-registry.json"

func registryCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and maintain the activity registry",
	}
	cmd.PersistentFlags().StringVar(&path, "path", defaultRegistryPath, "path to registry file")

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check ids, task types, timeouts and schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.LoadRegistry(path)
			if err != nil {
				return fmt.Errorf("failed to load registry: %w", err)
			}
			if err := reg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registry validation passed. Found %d activities.\n", len(reg.Activities))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered task types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.LoadRegistry(path)
			if err != nil {
				return fmt.Errorf("failed to load registry: %w", err)
			}
			printActivities(cmd.OutOrStdout(), reg)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "set <id> <field> <value>",
		Short:   "Update one field of an activity",
		Example: "  transfer-advisor registry set recommend-transfer status verified",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := registry.LoadRegistry(path)
			if err != nil {
				return fmt.Errorf("failed to load registry: %w", err)
			}
			if err := reg.Set(args[0], args[1], args[2]); err != nil {
				return err
			}
			if err := reg.Save(path, time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated activity %s, field %s to %s\n", args[0], args[1], args[2])
			return nil
		},
	})

	return cmd
}

func printActivities(w io.Writer, reg *registry.ActivityRegistry) {
	activities := append([]registry.Activity(nil), reg.Activities...)
	sort.Slice(activities, func(i, j int) bool { return activities[i].TaskType < activities[j].TaskType })

	fmt.Fprintf(w, "registry %s (updated %s)\n", reg.Version, reg.LastUpdated)
	for _, a := range activities {
		fmt.Fprintf(w, "  %-26s %-12s timeout=%-5s retries=%d errors=%s\n",
			a.TaskType, a.ImplementationStatus, a.Timeout, a.Retries, strings.Join(a.ErrorCodes, ","))
	}
}
