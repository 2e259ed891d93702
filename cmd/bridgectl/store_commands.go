package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"gorvnbridge/RVNRPC"
	"gorvnbridge/types"
	"gorvnbridge/workers"
)

func getProcessedCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Show how a deposit was handled",
		ArgsUsage: "<txid>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("get takes exactly one txid")
			}
			txid := c.Args().First()

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := getStore(c, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.GetProcessed(c.Context, txid)
			if err != nil {
				return fmt.Errorf("failed to get processed record: %w", err)
			}
			if rec == nil {
				return fmt.Errorf("%s has not been processed", txid)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, rec)
			}

			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "TxID:\t%s\n", rec.TxID)
			fmt.Fprintf(w, "Outcome:\t%s\n", rec.Outcome)
			fmt.Fprintf(w, "Sender:\t%s\n", rec.SourceAddress)
			fmt.Fprintf(w, "Amount:\t%s\n", rec.Amount)
			if rec.DestinationAddress != "" {
				fmt.Fprintf(w, "Destination:\t%s\n", rec.DestinationAddress)
			}
			if rec.DestinationAmount != "" {
				fmt.Fprintf(w, "Destination amount:\t%s\n", rec.DestinationAmount)
			}
			if rec.DestTxHash != "" {
				fmt.Fprintf(w, "Payout tx:\t%s\n", rec.DestTxHash)
			}
			if rec.Message != "" {
				fmt.Fprintf(w, "Message:\t%s\n", rec.Message)
			}
			fmt.Fprintf(w, "Processed at:\t%s\n", rec.ProcessedAt.Format(time.RFC3339))
			return w.Flush()
		},
	}
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:      "register",
		Usage:     "Bind a RVN sender address to an ETH destination address",
		ArgsUsage: "<rvn address> <eth address>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return errors.New("register takes a source and a destination address")
			}
			source := strings.TrimSpace(c.Args().Get(0))
			destination := strings.TrimSpace(c.Args().Get(1))
			if source == "" {
				return errors.New("source address is empty")
			}
			if !common.IsHexAddress(destination) {
				return fmt.Errorf("invalid destination address %q", destination)
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := getStore(c, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rec := types.AddressBinding{
				SourceAddress:      source,
				DestinationAddress: common.HexToAddress(destination).Hex(),
			}
			if err := store.UpsertBinding(c.Context, &rec); err != nil {
				return fmt.Errorf("failed to register binding: %w", err)
			}

			fmt.Fprintf(c.App.Writer, "registered %s -> %s\n", rec.SourceAddress, rec.DestinationAddress)
			return nil
		},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Run one monitor tick and queue any unseen deposits",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := getStore(c, cfg)
			if err != nil {
				return err
			}
			defer store.Close()
			queue, err := getQueue(c, cfg)
			if err != nil {
				return err
			}
			defer queue.Close()

			rvn := RVNRPC.New(cfg.RVNEndpoint(), cfg.RVN.RPCUser, cfg.RVN.RPCPassword, cfg.RVN.Timeout)
			monitor := workers.NewMonitor(rvn, store, queue, workers.MonitorConfig{
				BridgeAddress: cfg.RVN.BridgeAddress,
				ScanCount:     cfg.RVN.ScanCount,
				Interval:      cfg.Exchange.PollInterval,
				RPCTimeout:    cfg.RVN.Timeout,
				StoreTimeout:  cfg.Storage.Timeout,
			}, newLogger(c), nil)

			res, err := monitor.Tick(c.Context)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, res)
			}
			fmt.Fprintf(c.App.Writer, "listed %d, not deposits %d, already processed %d, already queued %d, queued %d\n",
				res.Listed, res.Filtered, res.Processed, res.Queued, res.Enqueued)
			return nil
		},
	}
}
