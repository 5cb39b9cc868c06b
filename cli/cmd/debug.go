package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/quarrio/quarry/cli/reader"
	"github.com/quarrio/quarry/cli/render"
	"github.com/quarrio/quarry/proxy"
	"github.com/quarrio/quarry/types"
)

// DebugCommand returns the debug command tree: opt-in diagnostics,
// read-only unless a mutation (--commit) is asked for by name.
func DebugCommand() *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "Diagnostic tools (resolve proxy, ipc)",
		Subcommands: []*cli.Command{
			{
				Name:        "resolve",
				Usage:       "Resolve entities for debugging",
				Subcommands: []*cli.Command{debugResolveProxyCommand()},
			},
			debugIPCCommand(),
		},
	}
}

func debugResolveProxyCommand() *cli.Command {
	return &cli.Command{
		Name:      "proxy",
		Usage:     "Resolve a proxy endpoint from a pool",
		ArgsUsage: "<pool>",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "commit",
				Usage: "Commit the resolution (advance rotation counters)",
			},
			&cli.StringFlag{
				Name:     "proxy-config",
				Usage:    "Path to proxy pools config file (JSON)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "strategy",
				Usage: "Strategy override: round_robin, random, or sticky",
			},
			&cli.StringFlag{
				Name:  "sticky-key",
				Usage: "Sticky key for proxy selection",
			},
			&cli.StringFlag{
				Name:  "job-id",
				Usage: "Job ID for sticky scope derivation",
			},
		),
		Action: debugResolveProxyAction,
	}
}

func debugResolveProxyAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("pool name required", 1)
	}
	poolName := c.Args().First()
	commit := c.Bool("commit")

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for debug commands", 1)
	}

	pools, err := loadDebugProxyPools(c.String("proxy-config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load proxy pools: %v", err), 1)
	}

	selector := proxy.NewSelector()
	for i := range pools {
		if err := selector.RegisterPool(&pools[i]); err != nil {
			return cli.Exit(fmt.Sprintf("failed to register pool %q: %v", pools[i].Name, err), 1)
		}
	}

	req := proxy.SelectRequest{
		Pool:      poolName,
		StickyKey: c.String("sticky-key"),
		JobID:     c.String("job-id"),
		Commit:    commit,
	}
	if strategy := c.String("strategy"); strategy != "" {
		s := types.ProxyStrategy(strategy)
		req.StrategyOverride = &s
	}

	endpoint, err := selector.Select(req)
	if err != nil {
		return cli.Exit(fmt.Sprintf("proxy selection failed: %v", err), 1)
	}

	resp := &reader.ResolveProxyResponse{
		Endpoint: reader.ProxyEndpoint{
			Host:     endpoint.Host,
			Port:     endpoint.Port,
			Protocol: string(endpoint.Protocol),
			Username: endpoint.Username,
		},
		Committed: commit,
	}
	return r.Render(resp)
}

// loadDebugProxyPools reads a JSON pool list for the debug surface.
func loadDebugProxyPools(path string) ([]types.ProxyPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pools []types.ProxyPool
	if err := json.Unmarshal(data, &pools); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return pools, nil
}

func debugIPCCommand() *cli.Command {
	return &cli.Command{
		Name:  "ipc",
		Usage: "Show IPC debug information",
		Flags: append(ReadOnlyFlags(),
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Include payload details",
			},
		),
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			if c.Bool("tui") {
				return cli.Exit("--tui is not supported for debug commands", 1)
			}
			return r.Render(reader.DebugIPC(c.Bool("verbose")))
		},
	}
}
