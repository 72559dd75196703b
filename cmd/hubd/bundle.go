package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dive-federation/hub/internal/bundle"
	"github.com/dive-federation/hub/internal/config"
	"github.com/dive-federation/hub/internal/logging"
	"github.com/dive-federation/hub/internal/publish"
	"github.com/dive-federation/hub/internal/store"
)

func newBundleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "bundle", Short: "Build and publish policy bundles"}
	cmd.AddCommand(newBundleBuildCmd())
	cmd.AddCommand(newBundlePublishCmd())
	return cmd
}

func newBundleBuildCmd() *cobra.Command {
	var scopes []string
	var sign bool
	var sourcePath string

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Assemble, hash, and optionally sign a policy bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			log := logging.New(false)
			defer func() { _ = log.Sync() }()

			cfg, err := config.Load(os.Environ())
			if err != nil {
				return withExitCode(1, err)
			}

			st, err := store.Connect(ctx, cfg.MongoURI, "dive_hub")
			if err != nil {
				return withExitCode(2, err)
			}

			var signer bundle.Signer
			if sign {
				if cfg.BundleSigningKeyPath == "" || cfg.BundleSigningKeyID == "" {
					return withExitCode(1, fmt.Errorf("signed build requires BUNDLE_SIGNING_KEY_PATH and BUNDLE_SIGNING_KEY_ID"))
				}
				keyPEM, err := os.ReadFile(cfg.BundleSigningKeyPath)
				if err != nil {
					return withExitCode(1, err)
				}
				signer, err = bundle.LoadKeySigner(keyPEM, cfg.BundleSigningKeyID)
				if err != nil {
					return withExitCode(1, err)
				}
			}

			source := bundle.NewDirSourceTree(sourcePath)
			builder := bundle.NewBuilder(source, st.BundleArtifacts(), st.BundlesCurrent(), signer)

			built, err := builder.Build(ctx, bundle.BuildOptions{Scopes: scopes, Sign: sign})
			if err != nil {
				return withExitCode(1, err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(built)
		},
	}

	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "additional policy scopes beyond policy:base")
	cmd.Flags().BoolVar(&sign, "sign", true, "sign the bundle hash with the configured signing key")
	cmd.Flags().StringVar(&sourcePath, "source", "./policy", "path to the policy source tree")
	return cmd
}

func newBundlePublishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Push the current bundle to the data plane and trigger a refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, err := config.Load(os.Environ())
			if err != nil {
				return withExitCode(1, err)
			}

			st, err := store.Connect(ctx, cfg.MongoURI, "dive_hub")
			if err != nil {
				return withExitCode(2, err)
			}

			current, ok, err := st.BundlesCurrent().GetCurrent(ctx)
			if err != nil {
				return withExitCode(1, err)
			}
			if !ok {
				return withExitCode(1, fmt.Errorf("no current bundle to publish; run 'hubd bundle build' first"))
			}

			plane := publish.NewNoopDataPlane()
			publisher := publish.New(plane, store.NewInlineDataAdapter(st))
			if err := publisher.Publish(ctx, current); err != nil {
				return withExitCode(1, err)
			}
			if err := publisher.TriggerRefresh(ctx); err != nil {
				return withExitCode(1, err)
			}
			fmt.Printf("published bundle %s (version %s)\n", current.BundleID, current.Version)
			return nil
		},
	}
	return cmd
}
