// cmd/tools/kpi-registry/history.go
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"readiness-workers/internal/common/config"
	"readiness-workers/internal/common/database"
	"readiness-workers/internal/common/logger"
	"readiness-workers/internal/search"
)

func newHistoryCmd() *cobra.Command {
	var (
		addresses []string
		index     string
		size      int
	)
	cmd := &cobra.Command{
		Use:   "history <startupId>",
		Short: "List published readiness snapshots of a startup, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			esCfg := config.ElasticsearchConfig{Addresses: addresses}
			if len(addresses) == 0 {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				esCfg = cfg.Database.Elasticsearch
				if index == "" {
					index = cfg.Search.SnapshotIndex
				}
			}

			es, err := database.NewElasticsearch(esCfg)
			if err != nil {
				return err
			}
			snapshots, err := search.NewSnapshotIndex(es.Client, index, logger.NewNoOpLogger()).
				History(cmd.Context(), args[0], size)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(snapshots) == 0 {
				fmt.Fprintf(out, "no published snapshots for %s\n", args[0])
				return nil
			}
			for _, s := range snapshots {
				fmt.Fprintf(out, "%s  %3d (%s)  framework %s  assessment %s\n",
					s.PublishedAt.Format(time.RFC3339), s.Score, s.Band, s.FrameworkVersion, s.AssessmentID)
				for _, flag := range s.FatalFlags {
					fmt.Fprintf(out, "    fatal flag %s\n", flag)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&addresses, "es-address", nil, "Elasticsearch address (config file when empty)")
	cmd.Flags().StringVar(&index, "index", "", "snapshot index")
	cmd.Flags().IntVar(&size, "size", 20, "snapshots to list (max 100)")
	return cmd
}
