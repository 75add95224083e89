package main

import (
	"context"
	"fmt"

	"github.com/fogfactory/scatter/internal/graceful"
	"github.com/fogfactory/scatter/internal/store"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <input-dir> <output-dir>",
	Short: "Process every file of a directory",
	Long: `Process every file below input-dir, writing each merged file at the same
relative path below output-dir.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := graceful.Context(cmd.Context())
		defer cancel()

		src := store.Files{Dir: args[0]}
		return processAll(ctx, src, store.Files{Dir: args[1]})
	},
}

var s3Cmd = &cobra.Command{
	Use:   "s3 <bucket/prefix> <bucket/prefix>",
	Short: "Process every object below a bucket prefix",
	Long: `Process every object below the input prefix, writing each merged object at
the same relative key below the output prefix. The output bucket is created
when missing.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := graceful.Context(cmd.Context())
		defer cancel()

		bucket, prefix, err := store.ParseLocation(args[0])
		if err != nil {
			return err
		}
		src, err := store.NewS3(settings.cfg.MinIO, bucket, prefix)
		if err != nil {
			return err
		}
		if bucket, prefix, err = store.ParseLocation(args[1]); err != nil {
			return err
		}
		dst := src.At(bucket, prefix)
		if err := dst.EnsureBucket(ctx, ""); err != nil {
			return err
		}
		return processAll(ctx, src, dst)
	},
}

// processAll processes every key of src.
func processAll(ctx context.Context, src store.Source, dst store.Sink) error {
	keys, err := src.List(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return fmt.Errorf("nothing to process")
	}
	_, err = process(ctx, lo.SliceToChannel(0, keys), src.Get, dst, nil)
	return err
}
