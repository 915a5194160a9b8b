package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rendis/stepflow/internal/store"
)

func (a *app) defineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "define <file>",
		Short:   "Validate a program and register it as a new version",
		GroupID: "registry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, format, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			def, err := a.loader.Parse(data, format)
			if err != nil {
				return err
			}
			if result := a.loader.Check(def); !result.Valid() {
				printReport(cmd.ErrOrStderr(), result)
				return result.ToError()
			}

			s, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			name, _ := cmd.Flags().GetString("name")
			desc, _ := cmd.Flags().GetString("description")
			rec := &store.DefinitionRecord{Name: name, Description: desc, Definition: *def}
			if err := a.registry(s).SaveDefinition(ctx, rec); err != nil {
				return err
			}
			a.logger.InfoContext(ctx, "definition registered", "name", rec.Name, "version", rec.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", rec.Name, rec.Version, rec.ID)
			return nil
		},
	}
	cmd.Flags().String("name", "", "registry name (default: the definition's name)")
	cmd.Flags().String("description", "", "description stored with this version")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List registered definitions",
		GroupID: "registry",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			var filter store.DefinitionFilter
			filter.Name, _ = cmd.Flags().GetString("name")
			filter.LatestOnly, _ = cmd.Flags().GetBool("latest")
			filter.Limit, _ = cmd.Flags().GetInt("limit")

			recs, err := a.registry(s).ListDefinitions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), recs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tVERSION\tSTEPS\tCREATED\tDESCRIPTION")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
					r.Name, r.Version, len(r.Definition.Steps), r.CreatedAt.Format("2006-01-02 15:04"), r.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().String("name", "", "only this name")
	cmd.Flags().Bool("latest", false, "only the newest version of each name")
	cmd.Flags().IntP("limit", "n", 50, "limit results (0 for unlimited)")
	cmd.Flags().Bool("json", false, "print records as JSON")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history <name>",
		Short:   "Show the registry history of a definition name",
		GroupID: "registry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			since, _ := cmd.Flags().GetInt64("since")
			events, err := a.registry(s).History(cmd.Context(), args[0], since)
			if err != nil {
				return err
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return writeJSON(cmd.OutOrStdout(), events)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tEVENT\tVERSION\tTIME")
			for _, e := range events {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Sequence, e.Type, e.Version, e.Timestamp.Format("2006-01-02 15:04:05"))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			live, err := s.EventLog().Replay(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "live versions: %v\n", live)
			return nil
		},
	}
	cmd.Flags().Int64("since", 0, "only events after this sequence")
	cmd.Flags().Bool("json", false, "print events as JSON")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <name> [version]",
		Short:   "Delete one version of a definition, or all of them",
		GroupID: "registry",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			version := ""
			if len(args) == 2 {
				version = args[1]
			}
			reg := a.registry(s)
			if err := reg.DeleteDefinition(cmd.Context(), args[0], version); err != nil {
				return err
			}
			if vacuum, _ := cmd.Flags().GetBool("vacuum"); vacuum {
				return reg.Vacuum(cmd.Context())
			}
			return nil
		},
	}
	cmd.Flags().Bool("vacuum", false, "reclaim database space afterwards")
	return cmd
}
