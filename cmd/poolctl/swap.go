package main

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
)

func (ctl *poolctl) swapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "swap <pool> <a_to_b|b_to_a> <amountIn>",
		Short: "Sell amountIn, requiring at least the quoted output less --max-slippage-bps",
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
			dir, err := parseDirection(args[1])
			if err != nil {
				return err
			}
			amountIn, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			ctx, cancel := ctl.context(cmd)
			defer cancel()

			quote, err := ctl.client.Quote(ctx, id, amountIn, dir)
			if err != nil {
				return err
			}
			bound, err := ctl.bound(quote)
			if err != nil {
				return err
			}
			out, err := ctl.client.Swap(ctx, id, caller, dir, amountIn, bound.Min)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"direction": dir.String(),
				"amountIn":  amountIn,
				"amountOut": out,
				"quoted":    quote,
			})
		},
	}
}

func (ctl *poolctl) quoteCmd() *cobra.Command {
	var exactOut, simulate bool
	cmd := &cobra.Command{
		Use:   "quote <pool> <a_to_b|b_to_a> <amount>",
		Short: "Price a swap without executing it",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePoolID(args[0])
			if err != nil {
				return err
			}
			dir, err := parseDirection(args[1])
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[2])
			if err != nil {
				return err
			}
			if exactOut && simulate {
				return errors.New("--exact-out and --simulate cannot be combined")
			}
			ctx, cancel := ctl.context(cmd)
			defer cancel()

			if simulate {
				sim, err := ctl.client.SimulateSwap(ctx, id, amount, dir)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"direction": dir.String(), "simulation": sim})
			}
			var result *uint256.Int
			key := "amountOut"
			if exactOut {
				key = "amountIn"
				result, err = ctl.client.QuoteAmountIn(ctx, id, amount, dir)
			} else {
				result, err = ctl.client.Quote(ctx, id, amount, dir)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"direction": dir.String(), key: result})
		},
	}
	cmd.Flags().BoolVar(&exactOut, "exact-out", false, "treat amount as the desired output and quote the input")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "also show the reserves the swap would leave")
	return cmd
}

func (ctl *poolctl) pairedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paired <pool> <amountA>",
		Short: "Amount of asset B a deposit of amountA requires",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			amountB, err := ctl.client.PairedAmount(ctx, id, amountA)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"amountB": amountB})
		},
	}
}
