package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fabrik/fabrik/engine"
	"github.com/fabrik/fabrik/storage"
	"github.com/fabrik/fabrik/storage/kvbackend"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var destroyCommand = &cobra.Command{
	Use:   "destroy",
	Short: "Tear down the deployed stack",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadProject(cmd)
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
		cf := &engine.CloudFormation{Logger: logger, Region: cfg.Region}
		if err := cf.Destroy(ctx, cfg.Name); err != nil {
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
		if err := store.Delete(ctx, cfg.Name); err != nil && errors.Cause(err) != storage.ErrNotFound {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func init() {
	Fabrik.AddCommand(destroyCommand)
}
