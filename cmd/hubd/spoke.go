package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dive-federation/hub/internal/config"
	"github.com/dive-federation/hub/internal/spoke"
	"github.com/dive-federation/hub/internal/store"
	"github.com/dive-federation/hub/internal/trust"
)

func newSpokeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "spoke", Short: "Manage spoke lifecycle"}
	cmd.AddCommand(newSpokeApproveCmd())
	return cmd
}

func newSpokeApproveCmd() *cobra.Command {
	var approver, trustLevel, maxClassification string
	var scopes []string

	cmd := &cobra.Command{
		Use:   "approve <spokeId>",
		Short: "Approve a pending spoke and grant it trust, scopes, and a classification cap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spokeID := args[0]
			ctx := context.Background()

			cfg, err := config.Load(os.Environ())
			if err != nil {
				return withExitCode(1, err)
			}

			st, err := store.Connect(ctx, cfg.MongoURI, "dive_hub")
			if err != nil {
				return withExitCode(2, err)
			}

			trustRegistry := trust.NewRegistry(0, 0)
			edges, err := st.BilateralTrust().LoadAll(ctx)
			if err != nil {
				return withExitCode(1, err)
			}
			for _, e := range edges {
				trustRegistry.Put(e)
			}

			registry := spoke.NewRegistry(trustRegistry, spoke.Events{})
			records, err := st.Spokes().List(ctx, "")
			if err != nil {
				return withExitCode(1, err)
			}
			registry.LoadRecords(records)

			rec, err := registry.ApproveSpoke(ctx, spokeID, approver, spoke.Grant{
				TrustLevel:               trust.Level(trustLevel),
				MaxClassificationAllowed: maxClassification,
				AllowedPolicyScopes:      scopes,
			})
			if err != nil {
				return withExitCode(1, err)
			}

			if err := st.Spokes().Upsert(ctx, *rec); err != nil {
				return withExitCode(1, err)
			}
			if edge := trustRegistry.Verify("HUB", rec.InstanceCode); edge != nil {
				if err := st.BilateralTrust().Upsert(ctx, *edge); err != nil {
					return withExitCode(1, err)
				}
			}

			fmt.Printf("approved %s (%s) at trust level %s, scopes %v\n", rec.SpokeID, rec.InstanceCode, rec.TrustLevel, rec.AllowedPolicyScopes)
			return nil
		},
	}

	cmd.Flags().StringVar(&approver, "approver", "", "identity of the approving administrator")
	cmd.Flags().StringVar(&trustLevel, "trust-level", "partner", "trust level to grant: development|partner|bilateral|coalition")
	cmd.Flags().StringVar(&maxClassification, "max-classification", "UNCLASSIFIED", "classification ceiling to grant")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "allowed policy scopes to grant")
	_ = cmd.MarkFlagRequired("approver")
	return cmd
}
