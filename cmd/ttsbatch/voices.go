package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/plugin-tts-batch/internal/voice"
)

func (a *app) newVoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List the voices offered by the configured provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.listVoices()
		},
	}
	return markOffline(cmd)
}

func (a *app) listVoices() error {
	catalog, err := voice.CatalogFor(a.cfg.Provider)
	if err != nil {
		return err
	}
	if catalog.Open() {
		fmt.Fprintf(a.stdout, "%s accepts any voice name understood by the remote adapter\n", catalog.Provider)
		return nil
	}

	def := a.cfg.Batch.Voice
	if def == "" {
		def = catalog.Default
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, v := range catalog.Voices() {
		marker := " "
		if v.Name == def {
			marker = "*"
		}
		fmt.Fprintf(tw, "%s %s\t%s\n", marker, v.Name, v.Description)
	}
	return tw.Flush()
}
