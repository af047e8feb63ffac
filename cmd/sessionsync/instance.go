package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var instanceCmd = &cobra.Command{
	Use:     "instance",
	Aliases: []string{"instances"},
	Short:   "Manage tenant WhatsApp instances",
}

var instanceCreateCmd = &cobra.Command{
	Use:   "create --owner OWNER",
	Short: "Create an instance (record first, then the remote session)",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		owner, _ := cmd.Flags().GetString("owner")
		name, _ := cmd.Flags().GetString("name")

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		result, err := c.CreateInstance(cmd.Context(), owner, name)
		if err != nil {
			return err
		}
		return p.Creation(result)
	},
}

var instanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		owner, _ := cmd.Flags().GetString("owner")

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		records, err := c.ListInstances(cmd.Context(), owner)
		if err != nil {
			return err
		}
		return p.Instances(records)
	},
}

var instanceGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		record, err := c.GetInstance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return p.Instance(record)
	},
}

var instanceRetryCmd = &cobra.Command{
	Use:   "retry ID",
	Short: "Retry remote creation of a degraded instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		result, err := c.RetryInstance(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return p.Creation(result)
	},
}

var instanceDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an instance and its remote session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		if err := c.DeleteInstance(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Instance %s deleted\n", args[0])
		return nil
	},
}

var contactCmd = &cobra.Command{
	Use:   "contact",
	Short: "Manage contacts used to attribute orphan sessions",
}

var contactAddCmd = &cobra.Command{
	Use:   "add --owner OWNER --phone PHONE",
	Short: "Register a tenant phone number",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := newPrinter(cmd)
		if err != nil {
			return err
		}
		owner, _ := cmd.Flags().GetString("owner")
		phone, _ := cmd.Flags().GetString("phone")
		name, _ := cmd.Flags().GetString("name")

		c, err := newAPIClient(cmd)
		if err != nil {
			return err
		}
		contact, err := c.CreateContact(cmd.Context(), owner, phone, name)
		if err != nil {
			return err
		}
		return p.Contact(contact)
	},
}

func init() {
	instanceCmd.AddCommand(instanceCreateCmd)
	instanceCmd.AddCommand(instanceListCmd)
	instanceCmd.AddCommand(instanceGetCmd)
	instanceCmd.AddCommand(instanceRetryCmd)
	instanceCmd.AddCommand(instanceDeleteCmd)

	instanceCreateCmd.Flags().String("owner", "", "Owning tenant ID (required)")
	instanceCreateCmd.Flags().String("name", "", "Display name")
	_ = instanceCreateCmd.MarkFlagRequired("owner")
	instanceListCmd.Flags().String("owner", "", "Only list instances of this tenant")

	contactCmd.AddCommand(contactAddCmd)
	contactAddCmd.Flags().String("owner", "", "Owning tenant ID (required)")
	contactAddCmd.Flags().String("phone", "", "Phone number (required)")
	contactAddCmd.Flags().String("name", "", "Contact name")
	_ = contactAddCmd.MarkFlagRequired("owner")
	_ = contactAddCmd.MarkFlagRequired("phone")

	rootCmd.AddCommand(instanceCmd)
	rootCmd.AddCommand(contactCmd)
}
