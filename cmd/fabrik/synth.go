package cmd

import (
	"fmt"
	"os"

	"github.com/fabrik/fabrik/template"
	"github.com/spf13/cobra"
)

var synthCommand = &cobra.Command{
	Use:   "synth",
	Short: "Synthesize the deployment template",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadProject(cmd)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		top, err := buildTopology(cfg)
		if err != nil {
			os.Exit(1)
		}
		tmpl, err := template.Synthesize(top)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		out, err := tmpl.JSON()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(out))
	},
}

func init() {
	Fabrik.AddCommand(synthCommand)
}
