package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/WSU-Carbon-Lab/pyref-ccd/internal/fits"
)

func newHeadersCmd(a *app) *cobra.Command {
	var experiment string

	cmd := &cobra.Command{
		Use:   "headers <file>...",
		Short: "Dump FITS header cards from frame files",
		Long: `Headers prints every header card of the given frame files, one block
per HDU. With --experiment the cards are filtered to the set a given
measurement type actually uses, which is the quick way to check whether
a detector writes the keys the reducer expects.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			exp, err := fits.ParseExperiment(experiment)
			if err != nil {
				return err
			}
			keys := a.cfg.Fits.KeyMap()

			for _, path := range args {
				dumps, err := fits.ReadHeaders(path)
				if err != nil {
					return err
				}
				fmt.Printf("%s\n", path)
				for _, dump := range dumps {
					name := dump.Name
					if name == "" {
						name = "(unnamed)"
					}
					fmt.Printf("  [%d] %s\n", dump.Index, name)
					for _, card := range dump.Cards {
						if !exp.Relevant(keys, card.Name) {
							continue
						}
						if card.Comment != "" {
							fmt.Printf("    %-8s = %v / %s\n", card.Name, card.Value, card.Comment)
						} else {
							fmt.Printf("    %-8s = %v\n", card.Name, card.Value)
						}
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&experiment, "experiment", "", "filter cards to a measurement type (xrr or xrs)")
	return cmd
}
