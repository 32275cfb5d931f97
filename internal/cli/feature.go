package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"featureworker/features/feature"
	"featureworker/internal/queue"
)

func NewFeatureRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feature",
		Short: "Manage feature records of one organization",
	}
	cmd.PersistentFlags().String("org", "", "organization id")
	cmd.PersistentFlags().String("user", "", "acting user id")
	_ = cmd.MarkPersistentFlagRequired("org")
	return cmd
}

func NewFeatureCreateCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a feature and queue its created job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, _ := cmd.Flags().GetString("org")
			user, _ := cmd.Flags().GetString("user")
			desc, _ := cmd.Flags().GetString("description")
			status, _ := cmd.Flags().GetString("status")

			return withSession(cmd.Context(), open, func(s *Session) error {
				f, err := s.Features.Create(cmd.Context(), org, user, feature.CreateInput{
					Name:        args[0],
					Description: desc,
					Status:      feature.Status(status),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Feature created: %s (%s)\n", f.ID, f.Status)
				return nil
			})
		},
	}
	cmd.Flags().String("description", "", "feature description")
	cmd.Flags().String("status", "", "initial status (DRAFT, ACTIVE or INACTIVE)")
	return cmd
}

func NewFeatureListCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List features",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			org, _ := cmd.Flags().GetString("org")
			page, _ := cmd.Flags().GetInt("page")
			limit, _ := cmd.Flags().GetInt("limit")
			search, _ := cmd.Flags().GetString("search")

			return withSession(cmd.Context(), open, func(s *Session) error {
				res, err := s.Features.List(cmd.Context(), org, feature.Query{Page: page, Limit: limit, Search: search})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, f := range res.Data {
					fmt.Fprintf(out, "%s | %s | %s\n", f.ID, f.Status, f.Name)
				}
				fmt.Fprintf(out, "page %d/%d, %d total\n", res.Pagination.Page, res.Pagination.TotalPages, res.Pagination.Total)
				return nil
			})
		},
	}
	cmd.Flags().Int("page", 1, "page number")
	cmd.Flags().Int("limit", 20, "page size")
	cmd.Flags().String("search", "", "name filter")
	return cmd
}

func NewFeatureUpdateCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <featureID>",
		Short: "Update a feature and queue its updated job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, _ := cmd.Flags().GetString("org")
			user, _ := cmd.Flags().GetString("user")

			// Only flags given on the command line become changes.
			var in feature.UpdateInput
			if cmd.Flags().Changed("name") {
				name, _ := cmd.Flags().GetString("name")
				in.Name = &name
			}
			if cmd.Flags().Changed("description") {
				desc, _ := cmd.Flags().GetString("description")
				in.Description = &desc
			}
			if cmd.Flags().Changed("status") {
				raw, _ := cmd.Flags().GetString("status")
				status := feature.Status(raw)
				in.Status = &status
			}
			if in.Name == nil && in.Description == nil && in.Status == nil {
				return errors.New("nothing to update")
			}

			return withSession(cmd.Context(), open, func(s *Session) error {
				f, err := s.Features.Update(cmd.Context(), args[0], org, user, in)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Feature updated: %s (%s)\n", f.ID, f.Status)
				return nil
			})
		},
	}
	cmd.Flags().String("name", "", "new name")
	cmd.Flags().String("description", "", "new description")
	cmd.Flags().String("status", "", "new status (DRAFT, ACTIVE or INACTIVE)")
	return cmd
}

func NewFeatureRemoveCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <featureID>",
		Short: "Soft delete a feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			org, _ := cmd.Flags().GetString("org")
			user, _ := cmd.Flags().GetString("user")

			return withSession(cmd.Context(), open, func(s *Session) error {
				if err := s.Features.Remove(cmd.Context(), args[0], org, user); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Feature removed:", args[0])
				return nil
			})
		},
	}
}

func NewFeatureBulkCmd(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "bulk <activate|deactivate|delete> <featureID>...",
		Short: "Queue one action over many features",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := queue.Action(args[0])
			if !action.Valid() {
				return fmt.Errorf("unknown action %q", args[0])
			}
			org, _ := cmd.Flags().GetString("org")
			user, _ := cmd.Flags().GetString("user")

			return withSession(cmd.Context(), open, func(s *Session) error {
				id, err := s.Features.RequestBulk(cmd.Context(), org, user, args[1:], action)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Bulk job enqueued:", id)
				return nil
			})
		},
	}
}
