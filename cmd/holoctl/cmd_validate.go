package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danmuck/holoctl/internal/configtree"
	"github.com/danmuck/holoctl/internal/schema"
	"github.com/danmuck/holoctl/internal/validate"
	"github.com/spf13/cobra"
)

var (
	validateSchemaPath  string
	validateRangePolicy string
	validateJSON        bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <config.json>",
	Short: "Validate a configuration document against the keylist schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := validateFile(args[0], validateSchemaPath, validateRangePolicy)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if validateJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
		} else {
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "warning: %s is not in the schema source\n", w)
			}
			fmt.Fprintln(out, res.Summary())
		}
		if !res.OK() {
			return fmt.Errorf("%d validation errors", len(res.Errors))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&validateSchemaPath, "schema", "s", "keylist.csv", "keylist CSV export")
	validateCmd.Flags().StringVar(&validateRangePolicy, "range-policy", "both", "range check policy: both|first_declared")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "print the full result as JSON")
}

func validateFile(docPath, schemaPath, policy string) (validate.Result, error) {
	rangePolicy, err := validate.ParseRangePolicy(policy)
	if err != nil {
		return validate.Result{}, err
	}
	source, err := schema.LoadFile(schemaPath)
	if err != nil {
		return validate.Result{}, err
	}
	doc, err := os.ReadFile(docPath)
	if err != nil {
		return validate.Result{}, fmt.Errorf("read %s: %w", docPath, err)
	}
	tree, err := configtree.Parse(doc)
	if err != nil {
		return validate.Result{}, err
	}
	cat, err := source.Build()
	if err != nil {
		return validate.Result{}, err
	}
	opts := validate.DefaultOptions()
	opts.RangePolicy = rangePolicy
	return validate.Validate(tree, cat, opts), nil
}
