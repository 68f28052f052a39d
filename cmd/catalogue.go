package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangalib-parser/internal/catalogue"
	"github.com/JakeFAU/mangalib-parser/internal/publisher/callback"
)

func newCatalogueCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalogue",
		Short: "Export the mangalib catalogue",
	}
	cmd.AddCommand(newCatalogueCollectCmd(cfgFile), newCatalogueSendCmd(cfgFile))
	return cmd
}

func newCatalogueCollectCmd(cfgFile *string) *cobra.Command {
	var maxPages int
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Walk the catalogue listing and store it as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := loadDeps(cmd, *cfgFile, nil)
			if err != nil {
				return err
			}
			defer d.Close()

			ctx := cmd.Context()
			store, err := d.blobStore(ctx)
			if err != nil {
				return err
			}
			walker := catalogue.NewWalker(catalogue.Config{
				ListingURL:        d.cfg.Mangalib.CatalogueURL,
				SiteURL:           d.cfg.Mangalib.SiteURL,
				RequestsPerMinute: d.cfg.Mangalib.CatalogueRPM,
				UserAgent:         d.cfg.Chrome.UserAgent,
				MaxPages:          maxPages,
			}, d.logger.Named("catalogue"))

			previews, err := walker.Walk(ctx)
			if err != nil {
				return fmt.Errorf("collect catalogue: %w", err)
			}
			uri, err := catalogue.Save(ctx, store, catalogue.DumpPath(d.cfg.Storage.Prefix), previews)
			if err != nil {
				return err
			}
			d.logger.Info("catalogue collected", zap.Int("previews", len(previews)), zap.String("uri", uri))
			return nil
		},
	}
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many pages (0 walks everything)")
	return cmd
}

func newCatalogueSendCmd(cfgFile *string) *cobra.Command {
	var (
		target string
		file   string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "POST every stored preview to a URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if target == "" {
				return errors.New("--url is required")
			}
			d, err := loadDeps(cmd, *cfgFile, nil)
			if err != nil {
				return err
			}
			defer d.Close()

			ctx := cmd.Context()
			store, err := d.blobStore(ctx)
			if err != nil {
				return err
			}
			if file == "" {
				file = catalogue.DumpPath(d.cfg.Storage.Prefix)
			}
			previews, err := catalogue.Load(ctx, store, file)
			if err != nil {
				return err
			}
			client := callback.New(callback.Config{Timeout: d.cfg.CallbackTimeout()})
			if _, err := catalogue.NewSender(client, d.logger.Named("catalogue")).Send(ctx, target, previews); err != nil {
				return fmt.Errorf("send catalogue: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "url", "", "URL that receives each preview")
	cmd.Flags().StringVar(&file, "file", "", "object path of the dump (defaults to <storage.prefix>/mangalib_manga_list.json)")
	return cmd
}
