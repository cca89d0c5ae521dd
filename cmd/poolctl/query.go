package main

import (
	"errors"
	"fmt"

	"github.com/defistate/defistate-amm-go/pool"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

func (ctl *poolctl) poolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pools",
		Short: "List registered pool ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := ctl.context(cmd)
			defer cancel()
			ids, err := ctl.client.Pools(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, ids)
		},
	}
}

func (ctl *poolctl) registerCmd() *cobra.Command {
	var id uint64
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register an empty pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := ctl.context(cmd)
			defer cancel()
			var want *uint64
			if cmd.Flags().Changed("id") {
				want = &id
			}
			got, err := ctl.client.RegisterPool(ctx, want)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"poolId": got})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "pool id; the next free id when unset")
	return cmd
}

func (ctl *poolctl) reservesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reserves <pool>",
		Short: "Show both reserves",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := ctl.context(cmd)
			defer cancel()
			reserves, err := ctl.client.Reserves(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, reserves)
		},
	}
}

func (ctl *poolctl) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <pool> [provider]",
		Short: "Show the shares held by provider, --caller by default",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			var provider common.Address
			if len(args) == 2 {
				if !common.IsHexAddress(args[1]) {
					return fmt.Errorf("invalid provider address %q", args[1])
				}
				provider = common.HexToAddress(args[1])
			} else if provider, err = ctl.callerAddress(); err != nil {
				return err
			}
			ctx, cancel := ctl.context(cmd)
			defer cancel()
			shares, err := ctl.client.ShareBalance(ctx, id, provider)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"provider": provider, "shares": shares})
		},
	}
}

func (ctl *poolctl) totalSharesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "total-shares <pool>",
		Short: "Show the outstanding share supply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := ctl.context(cmd)
			defer cancel()
			total, err := ctl.client.TotalShares(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"totalShares": total})
		},
	}
}

func (ctl *poolctl) stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <pool>",
		Short: "Show the full pool state with every position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := ctl.context(cmd)
			defer cancel()
			state, err := ctl.client.PoolState(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd, state)
		},
	}
}

func (ctl *poolctl) eventsCmd() *cobra.Command {
	var (
		from   uint64
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "events <pool>",
		Short: "Print journaled events, optionally following new ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			if follow {
				return ctl.followEvents(cmd, id)
			}
			ctx, cancel := ctl.context(cmd)
			defer cancel()
			events, err := ctl.client.Events(ctx, id, from)
			if err != nil {
				return err
			}
			return printJSON(cmd, events)
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "first sequence to print")
	cmd.Flags().BoolVar(&follow, "follow", false, "stream new events until interrupted; needs a ws:// endpoint")
	return cmd
}

func (ctl *poolctl) followEvents(cmd *cobra.Command, id uint64) error {
	ctx := cmd.Context()
	ch := make(chan pool.Event, 64)
	sub, err := ctl.client.SubscribeEvents(ctx, &id, ch)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	for {
		select {
		case ev := <-ch:
			if err := printJSON(cmd, ev); err != nil {
				return err
			}
		case err := <-sub.Err():
			if err == nil {
				return errors.New("subscription closed by server")
			}
			return err
		case <-ctx.Done():
			return nil
		}
	}
}
