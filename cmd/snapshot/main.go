package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/Layr-Labs/reputation-snapshot-go/pkg/config"
)

func main() {
	app := &cli.App{
		Name:  "snapshot",
		Usage: "Reputation balance snapshot builder",
		Description: `Builds a deterministic balance snapshot from on-chain events and indexer data,
and commits to it with a merkle root.

Commands:
- build: collect every configured source and commit the merged ledger
- proof: print the merkle proof for one account
- verify: check a proof file against a root
- recover: apply recovery deltas to a stored run
- export: write the files of a stored run
- inspect: list stored runs`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML snapshot config",
				EnvVars: []string{config.EnvSnapshotConfig},
			},
			&cli.StringFlag{
				Name:    "storage-type",
				Usage:   "Run storage: memory, badger or redis (overrides config)",
				EnvVars: []string{config.EnvSnapshotStorageType},
			},
			&cli.StringFlag{
				Name:    "data-path",
				Usage:   "Badger data directory (overrides config)",
				EnvVars: []string{config.EnvSnapshotDataPath},
			},
			&cli.StringFlag{
				Name:    "redis-address",
				Usage:   "Redis address host:port (overrides config)",
				EnvVars: []string{config.EnvSnapshotRedisAddr},
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Usage:   "Redis password (overrides config)",
				EnvVars: []string{config.EnvSnapshotRedisPass},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvSnapshotVerbose},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "build",
				Usage: "Collect every source and commit the merged ledger",
				Flags: []cli.Flag{
					outDirFlag(),
					&cli.IntFlag{
						Name:    "concurrency",
						Usage:   "In-flight requests per source (overrides config)",
						EnvVars: []string{config.EnvSnapshotConcurrency},
					},
				},
				Action: runBuild,
			},
			{
				Name:  "proof",
				Usage: "Print the merkle proof for one account",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "account",
						Aliases:  []string{"a"},
						Usage:    "Account address",
						Required: true,
					},
					runIDFlag(),
					&cli.StringFlag{
						Name:  "ledger",
						Usage: "Read the run from a ledger snapshot file instead of storage",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output file for the proof (default: stdout)",
					},
				},
				Action: runProof,
			},
			{
				Name:  "verify",
				Usage: "Check a proof file against a merkle root",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "proof",
						Usage:    "Proof file written by the proof command",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "root",
						Usage: "Expected merkle root (default: the root recorded in the proof)",
					},
					&cli.StringFlag{
						Name:  "hash-function",
						Usage: "Tree hash function",
						Value: "keccak256",
					},
				},
				Action: runVerify,
			},
			{
				Name:  "recover",
				Usage: "Apply recovery deltas to a stored run and store the result as a new run",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "deltas",
						Usage:    "JSON file with the recovery deltas",
						Required: true,
					},
					runIDFlag(),
					outDirFlag(),
				},
				Action: runRecover,
			},
			{
				Name:  "export",
				Usage: "Write the ledger, commitment, review CSV and gap report of a stored run",
				Flags: []cli.Flag{
					runIDFlag(),
					outDirFlag(),
				},
				Action: runExport,
			},
			{
				Name:   "inspect",
				Usage:  "List stored runs",
				Action: runInspect,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func outDirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "out-dir",
		Aliases: []string{"o"},
		Usage:   "Directory for the exported files",
		Value:   "./snapshot-out",
		EnvVars: []string{config.EnvSnapshotOutDir},
	}
}

func runIDFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "run-id",
		Usage: "Stored run to use (default: the latest run)",
	}
}
