package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fabrik/fabrik/storage"
	"github.com/fabrik/fabrik/storage/kvbackend"
	"github.com/fabrik/fabrik/template"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var diffCommand = &cobra.Command{
	Use:   "diff",
	Short: "Compare the synthesized template against the last deployed one",
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

		db, err := kvbackend.NewBolt()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer func() {
			_ = db.Close()
		}()
		store := &storage.Store{Backend: db}

		snap, err := store.Get(context.Background(), cfg.Name)
		if err != nil {
			if errors.Cause(err) == storage.ErrNotFound {
				fmt.Printf("no deployed snapshot for %q, everything is new\n", cfg.Name)
				return
			}
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		hash := template.Hash(tmpl)
		if snap.Hash == hash {
			fmt.Println("no changes")
			return
		}
		fmt.Printf("template changed: %s -> %s\n", snap.Hash, hash)
	},
}

func init() {
	Fabrik.AddCommand(diffCommand)
}
