// Command flashkv is a small command-line front end over the store
// package, grounded on velocity's cmd/velocity/main.go: a top-level
// cli.Command with global flags and one subcommand per operation,
// run through cli.Command.Run.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/flashkv/flashkv/store"
)

func openStore(dir string) (*store.Store, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return store.Open(dir, store.WithLogger(logger.Sugar()))
}

func main() {
	app := &cli.Command{
		Name:    "flashkv",
		Usage:   "embedded log-structured key-value store",
		Version: "0.1.0",

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Aliases: []string{"d"},
				Usage:   "store directory",
				Value:   "./flashkv-data",
			},
		},

		Commands: []*cli.Command{
			putCommand(),
			getCommand(),
			deleteCommand(),
			compactCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "flashkv: %v\n", err)
		os.Exit(1)
	}
}

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "write a key/value pair",
		ArgsUsage: "<key> <value>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 2 {
				return fmt.Errorf("put requires exactly two arguments: <key> <value>")
			}
			s, err := openStore(c.String("dir"))
			if err != nil {
				return err
			}
			defer s.Close()

			return s.Put(ctx, c.Args().Get(0), []byte(c.Args().Get(1)))
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "read the value stored for a key",
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("get requires exactly one argument: <key>")
			}
			s, err := openStore(c.String("dir"))
			if err != nil {
				return err
			}
			defer s.Close()

			v, ok, err := s.Get(ctx, c.Args().Get(0))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("key not found")
			}
			fmt.Println(string(v))
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "remove a key",
		ArgsUsage: "<key>",
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Len() != 1 {
				return fmt.Errorf("delete requires exactly one argument: <key>")
			}
			s, err := openStore(c.String("dir"))
			if err != nil {
				return err
			}
			defer s.Close()

			return s.Delete(ctx, c.Args().Get(0))
		},
	}
}

func compactCommand() *cli.Command {
	return &cli.Command{
		Name:  "compact",
		Usage: "compact the live segment tier, dropping superseded keys (sealed .sst files are left as is)",
		Action: func(ctx context.Context, c *cli.Command) error {
			s, err := openStore(c.String("dir"))
			if err != nil {
				return err
			}
			defer s.Close()

			return s.Compact(ctx)
		},
	}
}
