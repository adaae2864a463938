package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dynacraft.ai/internal/persistence/tagstore"
)

type recordSummary struct {
	ID         string     `json:"id"`
	Definition string     `json:"definition"`
	Position   [3]float64 `json:"position"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type recordDetail struct {
	recordSummary
	Transform [10]float64  `json:"transform"`
	State     tagstore.Tag `json:"state"`
}

func summarize(r tagstore.Record) recordSummary {
	return recordSummary{
		ID:         r.ID,
		Definition: r.Definition,
		Position:   [3]float64{r.Transform[0], r.Transform[1], r.Transform[2]},
		UpdatedAt:  r.UpdatedAt,
	}
}

func NewStoreCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Read persisted objects from a world's object database",
	}
	cmd.AddCommand(newStoreListCommand(rootOpts), newStoreShowCommand(rootOpts))
	return cmd
}

func newStoreListCommand(rootOpts *RootOptions) *cobra.Command {
	var definition string
	cmd := &cobra.Command{
		Use:   "ls <objects.db>",
		Short: "List stored objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := tagstore.Open(args[0])
			if err != nil {
				return err
			}
			defer st.Close()
			recs, err := st.List(cmd.Context(), definition)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			sums := make([]recordSummary, 0, len(recs))
			for _, r := range recs {
				sums = append(sums, summarize(r))
			}
			if rootOpts.Format == "json" {
				return printJSON(out, sums)
			}
			for _, s := range sums {
				fmt.Fprintf(out, "%s  %-12s  (%.2f, %.2f, %.2f)  %s\n",
					s.ID, s.Definition, s.Position[0], s.Position[1], s.Position[2], s.UpdatedAt.Format(time.RFC3339))
			}
			if rootOpts.Verbose {
				fmt.Fprintf(out, "%d objects\n", len(sums))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&definition, "definition", "", "only objects of this definition")
	return cmd
}

func newStoreShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <objects.db> <id>",
		Short: "Print one stored object with its module state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := tagstore.Open(args[0])
			if err != nil {
				return err
			}
			defer st.Close()
			rec, err := st.Get(cmd.Context(), args[1])
			if err != nil {
				return fmt.Errorf("%s: %w", args[1], err)
			}
			d := recordDetail{recordSummary: summarize(rec), Transform: rec.Transform, State: rec.State}
			if rootOpts.Format == "json" {
				return printJSON(cmd.OutOrStdout(), d)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:         %s\n", d.ID)
			fmt.Fprintf(out, "definition: %s\n", d.Definition)
			fmt.Fprintf(out, "transform:  %v\n", d.Transform)
			fmt.Fprintf(out, "updated:    %s\n", d.UpdatedAt.Format(time.RFC3339))
			fmt.Fprintln(out, "state:")
			return printJSON(out, d.State)
		},
	}
}
