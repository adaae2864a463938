package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"dynacraft.ai/internal/diag"
	"dynacraft.ai/internal/protocol"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/world"
	"dynacraft.ai/internal/transport/ws"
)

type watchOptions struct {
	url      string
	objects  string
	occupant string
	duration time.Duration
	name     string
}

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	o := watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Attach to a running server as an observer and print replicated frames",
		Long: `Connect as an observer, mirror every object in a local replica and print
each frame as it arrives. With --occupant the observer acts for that player and
receives input authority when it takes a controlling seat.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if o.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, o.duration)
				defer cancel()
			}
			return runWatch(ctx, rootOpts, o, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&o.url, "url", "ws://localhost:8080/v1/ws", "observer websocket url")
	cmd.Flags().StringVar(&o.objects, "objects", "./configs/objects", "object definition directory for the local replica")
	cmd.Flags().StringVar(&o.occupant, "occupant", "", "player uuid this observer acts for (empty: spectator)")
	cmd.Flags().DurationVar(&o.duration, "for", 0, "stop after this long (0: until interrupted)")
	cmd.Flags().StringVar(&o.name, "name", "dynctl", "observer name")
	return cmd
}

func runWatch(ctx context.Context, rootOpts *RootOptions, o watchOptions, out, errOut io.Writer) error {
	occupant := uuid.Nil
	if o.occupant != "" {
		var err error
		if occupant, err = uuid.Parse(o.occupant); err != nil {
			return fmt.Errorf("occupant: %w", err)
		}
	}
	lib, err := defs.Open(o.objects)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}

	c, err := ws.Dial(ctx, o.url, protocol.HelloMsg{ObserverName: o.name, Occupant: o.occupant})
	if err != nil {
		return err
	}
	defer c.Close()

	logger := diag.New(log.New(errOut, "[dynctl] ", log.LstdFlags), "watch")
	if rootOpts.Verbose {
		logger.SetMinSeverity(diag.SeverityDebug)
	}
	wp := c.Welcome.WorldParams
	comp, err := protocol.ParseCompression(wp.Compression)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "WELCOME observer=%s tick_rate=%d chunk=%d compression=%s\n", c.Welcome.ObserverID, wp.TickRateHz, wp.ChunkSize, comp)

	replica, err := world.NewReplica(world.ReplicaConfig{
		Library:     lib,
		Occupant:    occupant,
		TickRateHz:  wp.TickRateHz,
		ChunkSize:   wp.ChunkSize,
		Compression: comp,
		Send:        c.Send,
		Log:         logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = replica.Run(ctx)
	}()

	var mu sync.Mutex
	err = c.ReadLoop(ctx, func(b []byte) {
		f, err := protocol.Decode(b)
		if err != nil {
			logger.Warnf("%v", err)
			return
		}
		replica.Enqueue(f)
		mu.Lock()
		defer mu.Unlock()
		if rootOpts.Format == "json" {
			_ = printJSON(out, map[string]any{
				"kind":   f.Kind.String(),
				"object": f.Object,
				"tick":   f.Tick,
				"detail": protocol.DescribeFrame(f),
			})
			return
		}
		fmt.Fprint(out, protocol.DescribeFrame(f))
	}, func(r protocol.ResultMsg) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "RESULT %s ok=%v %s %s\n", r.ReqID, r.OK, r.Code, r.Message)
	})
	cancel()
	wg.Wait()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
