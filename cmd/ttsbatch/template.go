package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/plugin-tts-batch/internal/script"
)

func (a *app) newTemplateCmd() *cobra.Command {
	var (
		output string
		noBOM  bool
	)
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Write a sample CSV script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.writeTemplate(output, !noBOM)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")
	cmd.Flags().BoolVar(&noBOM, "no-bom", false, "Omit the UTF-8 byte order mark")
	return markOffline(cmd)
}

func (a *app) writeTemplate(output string, bom bool) error {
	var w io.Writer = a.stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create template: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := script.WriteTemplate(w, bom); err != nil {
		return err
	}
	if output != "" {
		a.logger.Info("template written", "path", output)
	}
	return nil
}
