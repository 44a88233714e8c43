package main

import (
	"github.com/spf13/cobra"

	"triage/services/archiver"
)

func newArchiveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Pack or check a portable snapshot of a mirror",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newArchiveBuildCommand(a))
	cmd.AddCommand(newArchiveVerifyCommand(a))
	return cmd
}

func newArchiveBuildCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "build <target-dir>",
		Short: "Write a tar.zst snapshot of a mirror, signed when a secret key is configured",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := archiver.NewSigner(a.cfg.ArchiveSecretKey, a.cfg.ArchivePublicKey)
			if err != nil {
				return err
			}
			_, err = archiver.Build(cmd.Context(), archiver.BuildConfig{
				MirrorDir: args[0],
				Output:    output,
				Signer:    signer,
				Stdout:    cmd.OutOrStdout(),
			})
			return err
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Destination archive file (tar.zst)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newArchiveVerifyCommand(a *app) *cobra.Command {
	var (
		file       string
		extractDir string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check an archive's signature and contents, optionally restoring it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			signer, err := archiver.NewSigner(a.cfg.ArchiveSecretKey, a.cfg.ArchivePublicKey)
			if err != nil {
				return err
			}
			_, err = archiver.Verify(cmd.Context(), archiver.VerifyConfig{
				Path:       file,
				Signer:     signer,
				ExtractDir: extractDir,
				Stdout:     cmd.OutOrStdout(),
			})
			return err
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to the archive tar.zst")
	cmd.Flags().StringVar(&extractDir, "extract-dir", "", "Restore the mirror into this directory after verification")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
