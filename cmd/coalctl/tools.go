package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/bardlex/gocoal/internal/account"
	"github.com/bardlex/gocoal/internal/epoch"
	"github.com/bardlex/gocoal/internal/pow"
	"github.com/bardlex/gocoal/internal/protocol"
	"github.com/bardlex/gocoal/internal/reward"
)

var authorityFlag = &cli.StringFlag{
	Name:  "authority",
	Usage: "miner authority (base58)",
}

var commandAddress = &cli.Command{
	Name:   "address",
	Usage:  "derive the program's account addresses",
	Flags:  []cli.Flag{authorityFlag},
	Action: deriveAddresses,
}

type addressOutput struct {
	Program        string   `json:"program"`
	Config         string   `json:"config"`
	Mint           string   `json:"mint"`
	Treasury       string   `json:"treasury"`
	TreasuryTokens string   `json:"treasury_tokens"`
	Buses          []string `json:"buses"`
	Proof          string   `json:"proof,omitempty"`
	Tool           string   `json:"tool,omitempty"`
}

func deriveAddresses(ctx *cli.Context) error {
	p, err := processor(ctx)
	if err != nil {
		return err
	}
	out := addressOutput{
		Program:        p.ID.String(),
		Config:         p.ConfigAddress().String(),
		Mint:           p.MintAddress().String(),
		Treasury:       p.TreasuryAddress().String(),
		TreasuryTokens: p.TreasuryTokensAddress().String(),
	}
	for _, bus := range p.BusAddresses() {
		out.Buses = append(out.Buses, bus.String())
	}
	if s := ctx.String(authorityFlag.Name); s != "" {
		authority, err := account.ParsePubkey(s)
		if err != nil {
			return fmt.Errorf("authority: %w", err)
		}
		out.Proof = p.ProofAddress(authority).String()
		out.Tool = p.ToolAddress(authority).String()
	}

	return output(ctx, out, func(w io.Writer) {
		fmt.Fprintf(w, "program          %s\n", out.Program)
		fmt.Fprintf(w, "config           %s\n", out.Config)
		fmt.Fprintf(w, "mint             %s\n", out.Mint)
		fmt.Fprintf(w, "treasury         %s\n", out.Treasury)
		fmt.Fprintf(w, "treasury tokens  %s\n", out.TreasuryTokens)
		for i, bus := range out.Buses {
			fmt.Fprintf(w, "bus %d            %s\n", i, bus)
		}
		if out.Proof != "" {
			fmt.Fprintf(w, "proof            %s\n", out.Proof)
			fmt.Fprintf(w, "tool             %s\n", out.Tool)
		}
	})
}

var commandSolve = &cli.Command{
	Name:  "solve",
	Usage: "search for a proof-of-work solution",
	Description: `
Solves --challenge directly, or reads the challenge and minimum difficulty
of --authority's proof over JSON-RPC.`,
	Flags: []cli.Flag{
		authorityFlag,
		&cli.StringFlag{Name: "challenge", Usage: "challenge hash (base58)"},
		&cli.Uint64Flag{Name: "min-difficulty", Usage: "required leading zero bits", Value: protocol.InitialMinDifficulty},
		&cli.Uint64Flag{Name: "start", Usage: "first nonce to try"},
		&cli.Uint64Flag{Name: "max-iterations", Usage: "give up after this many nonces; 0 searches until interrupted", Value: 1 << 24},
	},
	Action: solve,
}

type solveOutput struct {
	Digest     string `json:"digest"`
	Nonce      uint64 `json:"nonce,string"`
	Hash       string `json:"hash"`
	Difficulty uint32 `json:"difficulty"`
}

func solve(ctx *cli.Context) error {
	var challenge account.Hash
	minDifficulty := ctx.Uint64("min-difficulty")

	switch {
	case ctx.String("challenge") != "":
		if err := challenge.UnmarshalText([]byte(ctx.String("challenge"))); err != nil {
			return fmt.Errorf("challenge: %w", err)
		}
	case ctx.String(authorityFlag.Name) != "":
		authority, err := account.ParsePubkey(ctx.String(authorityFlag.Name))
		if err != nil {
			return fmt.Errorf("authority: %w", err)
		}
		reader, err := newReader(ctx)
		if err != nil {
			return err
		}
		proof, err := reader.FetchProof(ctx.Context, authority)
		if err != nil {
			return err
		}
		cfg, err := reader.FetchConfig(ctx.Context)
		if err != nil {
			return err
		}
		challenge = proof.Challenge
		if !ctx.IsSet("min-difficulty") {
			minDifficulty = cfg.MinDifficulty
		}
	default:
		return fmt.Errorf("one of --challenge or --authority is required")
	}
	if minDifficulty > 256 {
		return fmt.Errorf("min-difficulty %d exceeds the hash width", minDifficulty)
	}

	s, d, err := pow.Solve(ctx.Context, challenge, uint32(minDifficulty), ctx.Uint64("start"), ctx.Uint64("max-iterations"))
	if err != nil {
		return err
	}
	out := solveOutput{
		Digest:     hex.EncodeToString(s.Digest[:]),
		Nonce:      s.NonceValue(),
		Hash:       s.Hash().String(),
		Difficulty: d,
	}
	return output(ctx, out, func(w io.Writer) {
		fmt.Fprintf(w, "digest      %s\n", out.Digest)
		fmt.Fprintf(w, "nonce       %d\n", out.Nonce)
		fmt.Fprintf(w, "hash        %s\n", out.Hash)
		fmt.Fprintf(w, "difficulty  %d\n", out.Difficulty)
	})
}

var commandReward = &cli.Command{
	Name:  "reward",
	Usage: "compute the base reward of a solution",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "rate", Usage: "base reward rate", Value: protocol.InitialBaseRewardRate},
		&cli.UintFlag{Name: "difficulty", Usage: "solution difficulty", Required: true},
		&cli.Uint64Flag{Name: "min-difficulty", Usage: "epoch minimum difficulty", Value: protocol.InitialMinDifficulty},
	},
	Action: func(ctx *cli.Context) error {
		rate, minDifficulty := ctx.Uint64("rate"), ctx.Uint64("min-difficulty")
		difficulty := uint32(ctx.Uint("difficulty"))
		r, err := reward.BaseReward(rate, difficulty, minDifficulty)
		if err != nil {
			return err
		}
		out := map[string]uint64{"reward": r}
		return output(ctx, out, func(w io.Writer) {
			fmt.Fprintf(w, "reward  %d\n", r)
		})
	},
}

var commandRate = &cli.Command{
	Name:  "rate",
	Usage: "preview the next epoch's reward rate and minimum difficulty",
	Flags: []cli.Flag{
		&cli.Uint64Flag{Name: "current", Usage: "current base reward rate", Value: protocol.InitialBaseRewardRate},
		&cli.Uint64Flag{Name: "epoch-rewards", Usage: "rewards paid during the closing epoch", Required: true},
		&cli.Uint64Flag{Name: "min-difficulty", Usage: "current minimum difficulty", Value: protocol.InitialMinDifficulty},
	},
	Action: previewRate,
}

type rateOutput struct {
	Rate          uint64 `json:"base_reward_rate"`
	MinDifficulty uint64 `json:"min_difficulty"`
}

func previewRate(ctx *cli.Context) error {
	p, err := processor(ctx)
	if err != nil {
		return err
	}
	params := epoch.DefaultParams(p.Resource)
	rate := epoch.CalculateNewRewardRate(ctx.Uint64("current"), ctx.Uint64("epoch-rewards"),
		params.TargetRewards, params.BusEpochRewards, params.Smoothing)
	rate, minDifficulty, err := epoch.AdjustDifficulty(rate, ctx.Uint64("min-difficulty"),
		params.MinRateThreshold, params.MaxRateThreshold)
	if err != nil {
		return err
	}

	out := rateOutput{Rate: rate, MinDifficulty: minDifficulty}
	return output(ctx, out, func(w io.Writer) {
		fmt.Fprintf(w, "base reward rate  %d\n", out.Rate)
		fmt.Fprintf(w, "min difficulty    %d\n", out.MinDifficulty)
	})
}
