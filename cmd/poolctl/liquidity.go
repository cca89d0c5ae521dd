package main

import (
	"context"
	"fmt"

	"github.com/defistate/defistate-amm-go/pool"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct/calculator"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
)

func (ctl *poolctl) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <pool> <amountA> <amountB>",
		Short: "Make the first deposit into an empty pool",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := ctl.callerAddress()
			if err != nil {
				return err
			}
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			amountA, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			amountB, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			ctx, cancel := ctl.context(cmd)
			defer cancel()
			shares, err := ctl.client.CreatePool(ctx, id, caller, amountA, amountB)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"shares": shares})
		},
	}
}

func (ctl *poolctl) addCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <pool> <amountA>",
		Short: "Deposit amountA of asset A and the matching amount of asset B",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := ctl.callerAddress()
			if err != nil {
				return err
			}
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			amountA, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := ctl.context(cmd)
			defer cancel()

			paired, err := ctl.client.PairedAmount(ctx, id, amountA)
			if err != nil {
				return err
			}
			bound, err := ctl.bound(paired)
			if err != nil {
				return err
			}
			res, err := ctl.client.AddLiquidity(ctx, id, caller, amountA, bound)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func (ctl *poolctl) removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <pool> <shares>",
		Short: "Burn shares for a proportional amount of both assets",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := ctl.callerAddress()
			if err != nil {
				return err
			}
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			shares, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := ctl.context(cmd)
			defer cancel()

			bound, err := ctl.withdrawalBound(ctx, id, func(*poolView) (*uint256.Int, error) { return shares, nil })
			if err != nil {
				return err
			}
			res, err := ctl.client.RemoveLiquidity(ctx, id, caller, shares, bound)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func (ctl *poolctl) removeAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-all <pool>",
		Short: "Burn every share the caller holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := ctl.callerAddress()
			if err != nil {
				return err
			}
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := ctl.context(cmd)
			defer cancel()

			bound, err := ctl.withdrawalBound(ctx, id, func(*poolView) (*uint256.Int, error) {
				return ctl.client.ShareBalance(ctx, id, caller)
			})
			if err != nil {
				return err
			}
			res, err := ctl.client.RemoveAllLiquidity(ctx, id, caller, bound)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func (ctl *poolctl) removeForACmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-for-a <pool> <amountA>",
		Short: "Withdraw at least amountA of asset A, burning the shares it takes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := ctl.callerAddress()
			if err != nil {
				return err
			}
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			amountA, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := ctl.context(cmd)
			defer cancel()

			bound, err := ctl.withdrawalBound(ctx, id, func(v *poolView) (*uint256.Int, error) {
				return calculator.SharesForWithdrawal(amountA, v.totalShares, v.reserveA)
			})
			if err != nil {
				return err
			}
			res, err := ctl.client.RemoveLiquidityForAmountA(ctx, id, caller, amountA, bound)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

type poolView struct {
	reserveA, reserveB, totalShares *uint256.Int
}

// withdrawalBound quotes the asset B payout of burning the shares returned
// by sharesFn against the current pool state.
func (ctl *poolctl) withdrawalBound(ctx context.Context, id uint64, sharesFn func(*poolView) (*uint256.Int, error)) (pool.SlippageBound, error) {
	state, err := ctl.client.PoolState(ctx, id)
	if err != nil {
		return pool.SlippageBound{}, err
	}
	if state.TotalShares == nil || state.TotalShares.IsZero() {
		return pool.SlippageBound{}, fmt.Errorf("pool %d: %w", id, errNoShares)
	}
	view := &poolView{reserveA: state.ReserveA, reserveB: state.ReserveB, totalShares: state.TotalShares}
	shares, err := sharesFn(view)
	if err != nil {
		return pool.SlippageBound{}, err
	}
	_, amountB, err := calculator.AmountsForWithdrawal(shares, view.totalShares, view.reserveA, view.reserveB)
	if err != nil {
		return pool.SlippageBound{}, err
	}
	return ctl.bound(amountB)
}
