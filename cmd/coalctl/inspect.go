package main

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/chain"
)

var commandInspect = &cli.Command{
	Name:  "inspect",
	Usage: "read program accounts",
	Subcommands: []*cli.Command{
		{
			Name:   "config",
			Usage:  "print the epoch configuration and token supply",
			Action: inspectConfig,
		},
		{
			Name:   "buses",
			Usage:  "print every bus",
			Action: inspectBuses,
		},
		{
			Name:      "proof",
			Usage:     "print an authority's proof",
			ArgsUsage: "<authority>",
			Action:    inspectProof,
		},
		{
			Name:      "tool",
			Usage:     "print an authority's equipped tool",
			ArgsUsage: "<authority>",
			Action:    inspectTool,
		},
	},
}

func newReader(ctx *cli.Context) (*chain.Reader, error) {
	p, err := processor(ctx)
	if err != nil {
		return nil, err
	}
	return chain.NewReader(newSource(ctx.String(rpcFlag.Name)), p, 64, 0), nil
}

func authorityArg(ctx *cli.Context) (account.Pubkey, error) {
	if ctx.NArg() != 1 {
		return account.Pubkey{}, fmt.Errorf("expected exactly one authority argument")
	}
	return account.ParsePubkey(ctx.Args().First())
}

type configOutput struct {
	LastResetAt    int64  `json:"last_reset_at"`
	BaseRewardRate uint64 `json:"base_reward_rate"`
	MinDifficulty  uint64 `json:"min_difficulty"`
	TopBalance     uint64 `json:"top_balance"`
	Supply         uint64 `json:"supply"`
}

func inspectConfig(ctx *cli.Context) error {
	reader, err := newReader(ctx)
	if err != nil {
		return err
	}
	cfg, err := reader.FetchConfig(ctx.Context)
	if err != nil {
		return err
	}
	supply, err := reader.FetchSupply(ctx.Context)
	if err != nil {
		return err
	}
	out := configOutput{
		LastResetAt:    cfg.LastResetAt,
		BaseRewardRate: cfg.BaseRewardRate,
		MinDifficulty:  cfg.MinDifficulty,
		TopBalance:     cfg.TopBalance,
		Supply:         supply,
	}
	return output(ctx, out, func(w io.Writer) {
		fmt.Fprintf(w, "last reset at     %d\n", out.LastResetAt)
		fmt.Fprintf(w, "base reward rate  %d\n", out.BaseRewardRate)
		fmt.Fprintf(w, "min difficulty    %d\n", out.MinDifficulty)
		fmt.Fprintf(w, "top balance       %d\n", out.TopBalance)
		fmt.Fprintf(w, "supply            %d\n", out.Supply)
	})
}

func inspectBuses(ctx *cli.Context) error {
	reader, err := newReader(ctx)
	if err != nil {
		return err
	}
	buses, err := reader.FetchBuses(ctx.Context)
	if err != nil {
		return err
	}
	return output(ctx, buses, func(w io.Writer) {
		for _, b := range buses {
			fmt.Fprintf(w, "bus %d  rewards=%d theoretical=%d top_balance=%d\n",
				b.ID, b.Rewards, b.TheoreticalRewards, b.TopBalance)
		}
	})
}

func inspectProof(ctx *cli.Context) error {
	authority, err := authorityArg(ctx)
	if err != nil {
		return err
	}
	reader, err := newReader(ctx)
	if err != nil {
		return err
	}
	proof, err := reader.FetchProof(ctx.Context, authority)
	if err != nil {
		return err
	}
	return output(ctx, proof, func(w io.Writer) {
		fmt.Fprintf(w, "authority      %s\n", proof.Authority)
		fmt.Fprintf(w, "challenge      %s\n", proof.Challenge)
		fmt.Fprintf(w, "last hash at   %d\n", proof.LastHashAt)
		fmt.Fprintf(w, "balance        %d\n", proof.Balance)
		fmt.Fprintf(w, "total hashes   %d\n", proof.TotalHashes)
		fmt.Fprintf(w, "total rewards  %d\n", proof.TotalRewards)
	})
}

func inspectTool(ctx *cli.Context) error {
	authority, err := authorityArg(ctx)
	if err != nil {
		return err
	}
	reader, err := newReader(ctx)
	if err != nil {
		return err
	}
	tool, err := reader.FetchTool(ctx.Context, authority)
	if err != nil {
		return err
	}
	return output(ctx, tool, func(w io.Writer) {
		fmt.Fprintf(w, "asset       %s\n", tool.Asset)
		fmt.Fprintf(w, "durability  %d\n", tool.Durability)
		fmt.Fprintf(w, "multiplier  %d\n", tool.Multiplier)
	})
}
