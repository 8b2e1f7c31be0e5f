package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-invoicing/internal/numbering"
)

type formatKey struct {
	businessUnitID  int64
	salesCategoryID int64
}

func (k *formatKey) bind(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&k.businessUnitID, "business-unit", 0, "business unit id")
	cmd.Flags().Int64Var(&k.salesCategoryID, "sales-category", 0, "sales category id")
	_ = cmd.MarkFlagRequired("business-unit")
	_ = cmd.MarkFlagRequired("sales-category")
}

func newFormatCmd(e env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Manage invoice number formats",
	}

	var showKey formatKey
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the format for a business unit and sales category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := e.formats(cmd)
			if err != nil {
				return err
			}
			defer done()
			format, err := svc.GetFormat(cmd.Context(), showKey.businessUnitID, showKey.salesCategoryID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), format)
		},
	}
	showKey.bind(show)

	var saveKey formatKey
	var input numbering.SaveFormatInput
	save := &cobra.Command{
		Use:   "save",
		Short: "Create or replace a format; the counter is preserved",
		Example: "  invoicectl format save --business-unit 1 --sales-category 2 \\\n" +
			"    --use-year --use-sequential-number --separator - --length 6",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := e.formats(cmd)
			if err != nil {
				return err
			}
			defer done()
			input.BusinessUnitID = saveKey.businessUnitID
			input.SalesCategoryID = saveKey.salesCategoryID
			format, err := svc.SaveFormat(cmd.Context(), input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), format)
		},
	}
	saveKey.bind(save)
	save.Flags().BoolVar(&input.UseYear, "use-year", false, "prefix with the calendar year")
	save.Flags().BoolVar(&input.UseSalesCategoryCode, "use-sales-category-code", false, "include the sales category code")
	save.Flags().BoolVar(&input.UseBusinessUnitCode, "use-business-unit-code", false, "include the business unit code")
	save.Flags().BoolVar(&input.UseSequentialNumber, "use-sequential-number", false, "include the zero padded counter")
	save.Flags().StringVar(&input.Separator, "separator", "", "separator between parts")
	save.Flags().IntVar(&input.SequentialNumberLength, "length", 0, "counter width")

	var nextKey formatKey
	next := &cobra.Command{
		Use:   "next",
		Short: "Preview the next number without consuming it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := e.formats(cmd)
			if err != nil {
				return err
			}
			defer done()
			number, err := svc.PreviewNext(cmd.Context(), nextKey.businessUnitID, nextKey.salesCategoryID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), number.Formatted)
			return err
		},
	}
	nextKey.bind(next)

	cmd.AddCommand(show, save, next)
	return cmd
}
