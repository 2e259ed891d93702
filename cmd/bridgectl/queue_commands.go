package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"gorvnbridge/redis"
)

func listDeadLettersCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List payout jobs whose attempts are exhausted",
		Aliases: []string{"ls"},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			queue, err := getQueue(c, cfg)
			if err != nil {
				return err
			}
			defer queue.Close()

			jobs, err := queue.DeadLetters(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list dead letters: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, jobs)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TXID\tSENDER\tAMOUNT\tATTEMPTS\tUPDATED\tLAST ERROR")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					job.ID,
					job.Deposit.SourceAddress,
					job.Deposit.Amount.String(),
					job.Attempts,
					time.Unix(job.TsUpdated, 0).UTC().Format(time.RFC3339),
					job.LastError,
				)
			}
			w.Flush()

			fmt.Fprintf(c.App.ErrWriter, "\nTotal: %d dead letters\n", len(jobs))
			return nil
		},
	}
}

func requeueCommand() *cli.Command {
	return &cli.Command{
		Name:      "requeue",
		Usage:     "Give a dead lettered job a fresh attempt budget",
		ArgsUsage: "<txid>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("requeue takes exactly one txid")
			}
			txid := c.Args().First()

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			queue, err := getQueue(c, cfg)
			if err != nil {
				return err
			}
			defer queue.Close()

			if err := queue.Requeue(c.Context, txid); err != nil {
				if errors.Is(err, redis.ErrJobNotFound) {
					return fmt.Errorf("%s is not dead lettered", txid)
				}
				return fmt.Errorf("failed to requeue %s: %w", txid, err)
			}

			fmt.Fprintf(c.App.Writer, "requeued %s\n", txid)
			return nil
		},
	}
}
