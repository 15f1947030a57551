// Package main implements coalctl, an operator tool for the gocoal mining
// programs. It inspects program accounts over JSON-RPC, derives addresses,
// solves challenges offline, previews rewards and submits transactions to
// ledgerd through Kafka.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/bardlex/gocoal/internal/chain"
	"github.com/bardlex/gocoal/internal/config"
	"github.com/bardlex/gocoal/internal/program"
)

var (
	resourceFlag = &cli.StringFlag{
		Name:    "resource",
		Usage:   "resource track (coal, wood)",
		Value:   "coal",
		EnvVars: []string{"RESOURCE"},
	}
	programFlag = &cli.StringFlag{
		Name:    "program",
		Usage:   "program id; empty selects the built-in address for the resource",
		EnvVars: []string{"PROGRAM_ID"},
	}
	rpcFlag = &cli.StringFlag{
		Name:    "rpc",
		Usage:   "JSON-RPC endpoint",
		Value:   "http://localhost:8899",
		EnvVars: []string{"RPC_URL"},
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "output JSON instead of text",
	}
)

// newSource opens the account source behind the inspect commands
var newSource = func(url string) chain.AccountSource {
	return chain.NewRPCSource(url)
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "coalctl",
		Usage: "inspect and drive gocoal mining programs",
		Flags: []cli.Flag{resourceFlag, programFlag, rpcFlag, jsonFlag},
		Commands: []*cli.Command{
			commandInspect,
			commandAddress,
			commandSolve,
			commandReward,
			commandRate,
			commandSubmit,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "coalctl: %v\n", err)
		os.Exit(1)
	}
}

// processor builds the program selected by the global flags
func processor(ctx *cli.Context) (*program.Processor, error) {
	cfg := &config.Config{
		Resource:  ctx.String(resourceFlag.Name),
		ProgramID: ctx.String(programFlag.Name),
	}
	return cfg.Processor()
}

// output writes v as indented JSON with --json, or as text otherwise
func output(ctx *cli.Context, v any, text func(w io.Writer)) error {
	w := ctx.App.Writer
	if ctx.Bool(jsonFlag.Name) {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
