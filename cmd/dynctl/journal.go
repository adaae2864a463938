package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	persistlog "dynacraft.ai/internal/persistence/log"
)

type journalOptions struct {
	fromTick uint64
	toTick   uint64
	object   string
}

func (o journalOptions) keep(e persistlog.Entry) bool {
	t := e.Tick()
	if t < o.fromTick || (o.toTick != 0 && t > o.toTick) {
		return false
	}
	if o.object != "" {
		return e.Seat != nil && e.Seat.Object == o.object
	}
	return true
}

func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	o := journalOptions{}
	cmd := &cobra.Command{
		Use:   "journal <world dir>",
		Short: "Print the seat and region journal of a world",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var seats, regions int
			err := persistlog.ReadJournal(args[0], func(e persistlog.Entry) error {
				if !o.keep(e) {
					return nil
				}
				if e.Seat != nil {
					seats++
				} else {
					regions++
				}
				if rootOpts.Format == "json" {
					return printJSON(out, e)
				}
				printEntry(out, e)
				return nil
			})
			if err != nil {
				return err
			}
			if rootOpts.Format == "text" {
				fmt.Fprintf(out, "%d seat entries, %d region entries\n", seats, regions)
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&o.fromTick, "from_tick", 0, "skip entries before this tick")
	cmd.Flags().Uint64Var(&o.toTick, "to_tick", 0, "skip entries after this tick (0: no limit)")
	cmd.Flags().StringVar(&o.object, "object", "", "only seat entries of this object id")
	return cmd
}

func printEntry(w io.Writer, e persistlog.Entry) {
	if s := e.Seat; s != nil {
		ctl := ""
		if s.Controlling {
			ctl = " controlling"
		}
		fmt.Fprintf(w, "%8d %-8s %s (%s) seat=%d occupant=%s%s\n", s.Tick, s.Kind, s.Object, s.Definition, s.Seat, s.Occupant, ctl)
		return
	}
	r := e.Region
	fmt.Fprintf(w, "%8d region   (%d,%d) flushed=%d\n", r.Tick, r.Chunk.X, r.Chunk.Z, r.Flushed)
}
