package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fabrik/fabrik/engine"
	"github.com/fabrik/fabrik/storage"
	"github.com/fabrik/fabrik/storage/kvbackend"
	"github.com/fabrik/fabrik/template"
	"github.com/spf13/cobra"
)

var deployCommand = &cobra.Command{
	Use:   "deploy",
	Short: "Synthesize the template and apply it",
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

		logger, err := newLogger(cmd)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		ctx := context.Background()
		cf := &engine.CloudFormation{Logger: logger, Region: top.Region}
		if err := cf.Apply(ctx, cfg.Name, tmpl); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		body, err := tmpl.JSON()
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
		err = store.Put(ctx, storage.Snapshot{
			Project:   cfg.Name,
			Hash:      template.Hash(tmpl),
			Template:  body,
			CreatedAt: time.Now(),
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	Fabrik.AddCommand(deployCommand)
}
