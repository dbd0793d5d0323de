package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/backkem/thread/pkg/crypto"
	"github.com/backkem/thread/pkg/dataset"
	"github.com/backkem/thread/pkg/link"
	"github.com/backkem/thread/pkg/storage"
	"github.com/backkem/thread/pkg/thread"
	"github.com/spf13/cobra"
)

func datasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Create and inspect operational datasets",
	}
	cmd.AddCommand(datasetNewCmd(), datasetDecodeCmd(), datasetShowCmd())
	return cmd
}

type newDatasetOptions struct {
	name       string
	channel    uint16
	panID      uint16
	passphrase string
}

func datasetNewCmd() *cobra.Command {
	var opts newDatasetOptions
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a random active dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lc, err := newDataset(rand.Reader, opts, time.Now())
			if err != nil {
				return err
			}
			b, err := lc.Encode()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "thread-node", "Network name")
	cmd.Flags().Uint16Var(&opts.channel, "channel", 15, "Channel (11-26)")
	cmd.Flags().Uint16Var(&opts.panID, "pan", 0, "PAN id, random when 0")
	cmd.Flags().StringVar(&opts.passphrase, "passphrase", "", "Commissioning passphrase for the PSKc, random key when empty")
	return cmd
}

// newDataset builds a dataset with random keys and identifiers.
func newDataset(r io.Reader, opts newDatasetOptions, now time.Time) (dataset.LinkConfiguration, error) {
	lc := dataset.LinkConfiguration{
		NetworkName:     opts.name,
		Channel:         link.Channel(opts.channel),
		PanID:           link.PanID(opts.panID),
		ChannelMask:     link.DefaultChannelMask,
		SecurityPolicy:  dataset.DefaultSecurityPolicy,
		ActiveTimestamp: dataset.Timestamp{Seconds: uint64(now.Unix())},
	}
	if err := lc.Channel.Validate(); err != nil {
		return lc, err
	}
	if lc.NetworkName == "" || len(lc.NetworkName) > dataset.MaxNetworkNameLen {
		return lc, fmt.Errorf("network name must be 1 to %d bytes", dataset.MaxNetworkNameLen)
	}

	var pan [2]byte
	fields := [][]byte{lc.ExtendedPanID[:], lc.NetworkKey[:], lc.MeshLocalPrefix[1:6], pan[:]}
	for _, f := range fields {
		if _, err := io.ReadFull(r, f); err != nil {
			return lc, fmt.Errorf("random: %w", err)
		}
	}
	// fd00::/8 with a random global id.
	lc.MeshLocalPrefix[0] = 0xfd
	if lc.PanID == 0 {
		lc.PanID = link.PanID(uint16(pan[0])<<8|uint16(pan[1])) & 0xfffe
	}

	if opts.passphrase == "" {
		if _, err := io.ReadFull(r, lc.PSKc[:]); err != nil {
			return lc, fmt.Errorf("random: %w", err)
		}
		return lc, nil
	}
	pskc, err := crypto.DerivePSKc(opts.passphrase, lc.NetworkName, lc.ExtendedPanID)
	if err != nil {
		return lc, err
	}
	lc.PSKc = pskc
	return lc, nil
}

func datasetDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>",
		Short: "Print the fields of a hex encoded dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := hex.DecodeString(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			lc, err := dataset.DecodeLinkConfiguration(b)
			if err != nil {
				return err
			}
			printDataset(cmd.OutOrStdout(), lc)
			return nil
		},
	}
}

func datasetShowCmd() *cobra.Command {
	var config string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored active datasets of a node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := thread.LoadConfig(config)
			if err != nil {
				return err
			}
			if cfg.StoragePath == "" {
				return errors.New("configuration has no storage path")
			}
			store, err := storage.OpenSQLite(cfg.StoragePath)
			if err != nil {
				return err
			}
			defer store.Close()
			return showDatasets(cmd.OutOrStdout(), store, cfg)
		},
	}
	cmd.Flags().StringVarP(&config, "config", "c", "", "YAML node configuration")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func showDatasets(w io.Writer, store storage.Storage, cfg thread.NodeConfig) error {
	for _, ic := range cfg.Interfaces {
		fmt.Fprintf(w, "%s:\n", ic.ID)
		rec, err := store.LoadDataset(ic.ID, storage.DatasetActive)
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Fprintln(w, "  no active dataset")
			continue
		}
		if err != nil {
			return fmt.Errorf("%s: %w", ic.ID, err)
		}
		lc, err := dataset.DecodeLinkConfiguration(rec.TLVs)
		if err != nil {
			return fmt.Errorf("%s: %w", ic.ID, err)
		}
		printDataset(w, lc)
	}
	return nil
}

func printDataset(w io.Writer, lc dataset.LinkConfiguration) {
	fmt.Fprintf(w, "  network name:      %s\n", lc.NetworkName)
	fmt.Fprintf(w, "  extended pan id:   %s\n", lc.ExtendedPanID)
	fmt.Fprintf(w, "  pan id:            %s\n", lc.PanID)
	fmt.Fprintf(w, "  channel:           %d (page %d)\n", lc.Channel, lc.ChannelPage)
	fmt.Fprintf(w, "  mesh local prefix: %s\n", lc.MeshLocalPrefixString())
	fmt.Fprintf(w, "  active timestamp:  %s\n", lc.ActiveTimestamp)
	if lc.ChannelMask != 0 {
		fmt.Fprintf(w, "  channel mask:      %08x\n", lc.ChannelMask)
	}
}
