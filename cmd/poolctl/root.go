package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/defistate/defistate-amm-go/pool"
	"github.com/defistate/defistate-amm-go/protocols/constantproduct"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/client"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
)

const (
	defaultRPCURL         = "http://127.0.0.1:8545"
	defaultTimeout        = 10 * time.Second
	defaultMaxSlippageBps = 50
)

// poolctl carries the persistent flags and the dialed client.
type poolctl struct {
	rpcURL         string
	caller         string
	timeout        time.Duration
	maxSlippageBps uint16

	client *client.PoolClient
}

func newRootCmd() *cobra.Command {
	ctl := &poolctl{}
	cmd := &cobra.Command{
		Use:           "poolctl",
		Short:         "Operate constant-product pools served by poold",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c, err := client.DialPoolClient(cmd.Context(), ctl.rpcURL)
			if err != nil {
				return fmt.Errorf("dial %s: %w", ctl.rpcURL, err)
			}
			ctl.client = c
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if ctl.client != nil {
				ctl.client.Close()
			}
		},
	}
	cmd.CompletionOptions.HiddenDefaultCmd = true

	flags := cmd.PersistentFlags()
	flags.StringVar(&ctl.rpcURL, "rpc", defaultRPCURL, "poold endpoint; use ws:// for --follow")
	flags.StringVar(&ctl.caller, "caller", "", "address acting on the pool")
	flags.DurationVar(&ctl.timeout, "timeout", defaultTimeout, "per call timeout")
	flags.Uint16Var(&ctl.maxSlippageBps, "max-slippage-bps", defaultMaxSlippageBps, "tolerated deviation from the fresh quote, in basis points")

	cmd.AddCommand(
		ctl.poolsCmd(),
		ctl.registerCmd(),
		ctl.createCmd(),
		ctl.addCmd(),
		ctl.removeCmd(),
		ctl.removeAllCmd(),
		ctl.removeForACmd(),
		ctl.swapCmd(),
		ctl.quoteCmd(),
		ctl.pairedCmd(),
		ctl.reservesCmd(),
		ctl.balanceCmd(),
		ctl.totalSharesCmd(),
		ctl.stateCmd(),
		ctl.eventsCmd(),
	)
	return cmd
}

func (ctl *poolctl) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), ctl.timeout)
}

func (ctl *poolctl) callerAddress() (common.Address, error) {
	if !common.IsHexAddress(ctl.caller) {
		return common.Address{}, fmt.Errorf("--caller must be a hex address, got %q", ctl.caller)
	}
	return common.HexToAddress(ctl.caller), nil
}

// bound widens quote by --max-slippage-bps.
func (ctl *poolctl) bound(quote *uint256.Int) (pool.SlippageBound, error) {
	return client.BoundFromQuote(quote, ctl.maxSlippageBps)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parsePoolID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid pool id %q: %w", s, err)
	}
	return id, nil
}

// parseAmount accepts decimal or 0x-prefixed hex.
func parseAmount(s string) (*uint256.Int, error) {
	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = uint256.FromHex(s)
	} else {
		v, err = uint256.FromDecimal(s)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

func parseDirection(s string) (constantproduct.Direction, error) {
	dir, err := constantproduct.ParseDirection(s)
	if err != nil {
		return 0, fmt.Errorf("invalid direction %q: %w", s, err)
	}
	return dir, nil
}

var errNoShares = errors.New("pool has no shares outstanding")
