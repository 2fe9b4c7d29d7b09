// Command bpls lists the variables and attributes of a BP output.
//
//	bpls -l heat.bp
//	bpls -a -d heat.bp T
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	listLong       bool
	listAttributes bool
	listDump       bool
	listBlocks     bool
	listJSON       bool
	listNoColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "bpls <file.bp> [variable...]",
	Short: "List the contents of a BP output",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := listOptions{
			Long:       listLong,
			Attributes: listAttributes,
			Dump:       listDump,
			Blocks:     listBlocks,
			JSON:       listJSON,
			NoColor:    listNoColor,
			Only:       args[1:],
		}

		return list(context.Background(), cmd.OutOrStdout(), args[0], opts)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().BoolVarP(&listLong, "long", "l", false, "show min/max of each variable")
	rootCmd.Flags().BoolVarP(&listAttributes, "attrs", "a", false, "list attributes")
	rootCmd.Flags().BoolVarP(&listDump, "dump", "d", false, "dump the values of each variable")
	rootCmd.Flags().BoolVarP(&listBlocks, "decomp", "D", false, "show the blocks of each step")
	rootCmd.Flags().BoolVar(&listJSON, "json", false, "print the listing as JSON")
	rootCmd.Flags().BoolVar(&listNoColor, "no-color", false, "disable colored output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
