package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/personalizedrefrigerator/notesync/internal/app"
	"github.com/personalizedrefrigerator/notesync/internal/buildinfo"
	"github.com/personalizedrefrigerator/notesync/internal/common"
	"github.com/personalizedrefrigerator/notesync/internal/config"
	"github.com/personalizedrefrigerator/notesync/internal/cryptox"
	"github.com/personalizedrefrigerator/notesync/internal/keystore"
	"github.com/personalizedrefrigerator/notesync/internal/logging"
	"github.com/personalizedrefrigerator/notesync/internal/models"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/settings"
)

var (
	verbose bool

	logger logging.Logger
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = func() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}

func main() {
	rootCmd := &cobra.Command{
		Use:     "notesync",
		Short:   "Offline-first encrypted notebook sync",
		Long:    `Synchronizes a local notebook database with a remote target, end-to-end encrypted when a master key is enabled.`,
		Version: buildinfo.Version,
		// config flags like -t or -f are handled by the config package
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefault(verbose)
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		syncCmd(),
		statusCmd(),
		keysCmd(),
		migrateCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Show build information",
			Run: func(cmd *cobra.Command, args []string) {
				buildinfo.PrintBuildData(os.Stdout)
			},
		},
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openApp(ctx context.Context) (*app.App, error) {
	return app.NewApp(ctx, config.LoadConfig(), logger)
}

func promptPassphrase(confirm bool) ([]byte, error) {
	fmt.Print("Enter passphrase: ")
	pw, err := readPassword()
	fmt.Println()
	if err != nil {
		return nil, err
	}
	if !confirm {
		return pw, nil
	}

	fmt.Print("Repeat passphrase: ")
	again, err := readPassword()
	fmt.Println()
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(again)

	if string(pw) != string(again) {
		common.WipeByteArray(pw)
		return nil, fmt.Errorf("passphrases do not match")
	}
	return pw, nil
}

func syncCmd() *cobra.Command {
	var unlock bool

	cmd := &cobra.Command{
		Use:                "sync",
		Short:              "Run one synchronization pass",
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if unlock {
				pw, err := promptPassphrase(false)
				if err != nil {
					return err
				}
				defer common.WipeByteArray(pw)
				n, err := a.Keys.Unlock(ctx, pw)
				if err != nil {
					return err
				}
				fmt.Printf("Unlocked %d key(s)\n", n)
			}

			summary, err := a.Engine.Run(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("Pulled %d, pushed %d, deleted %d, conflicts %d, deferred %d, failed %d\n",
				summary.Pulled, summary.Pushed, summary.Deleted,
				summary.Conflicted, summary.Deferred, summary.Failed)
			for _, e := range summary.Errors {
				fmt.Fprintf(os.Stderr, "  %v\n", e)
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d item(s) failed", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&unlock, "unlock", "u", false, "prompt for a passphrase before syncing")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "status",
		Short:              "Show encryption and sync state",
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			enabled, err := a.Keys.IsEncryptionEnabled(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Encryption: %v\n", enabled)

			cursor, err := settings.NewSQLiteRepository(a.DB).Get(ctx, settings.KeySyncCursor)
			line, err := cursorStatusLine(cursor, err)
			if err != nil {
				return err
			}
			fmt.Println(line)
			return nil
		},
	}
}

// cursorStatusLine formats the sync-cursor line for the status command. A
// missing setting means the profile never completed a pass; any other read
// error is reported to the caller instead of being shown as "never synced".
func cursorStatusLine(cursor string, err error) (string, error) {
	switch {
	case err == nil && cursor != "":
		return "Sync cursor: " + cursor, nil
	case err == nil || errors.Is(err, common.ErrNotFound):
		return "Sync cursor: (never synced)", nil
	default:
		return "", err
	}
}

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage master keys",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:                "list",
			Short:              "List master keys",
			FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				a, err := openApp(ctx)
				if err != nil {
					return err
				}
				defer a.Close()

				list, err := a.Keys.List(ctx)
				if err != nil {
					return err
				}
				for _, k := range list {
					fmt.Printf("%s  method=%d  used=%v  created=%s\n",
						k.ID, k.EncryptionMethod, k.HasBeenUsed,
						time.UnixMilli(k.CreatedTime).Format(time.RFC3339))
				}
				return nil
			},
		},
		&cobra.Command{
			Use:                "enable",
			Short:              "Enable encryption with a new master key",
			FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				a, err := openApp(ctx)
				if err != nil {
					return err
				}
				defer a.Close()

				pw, err := promptPassphrase(true)
				if err != nil {
					return err
				}
				defer common.WipeByteArray(pw)
				return a.Keys.EnableEncryption(ctx, pw)
			},
		},
		&cobra.Command{
			Use:                "disable",
			Short:              "Disable encryption for new items",
			FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				a, err := openApp(ctx)
				if err != nil {
					return err
				}
				defer a.Close()
				return a.Keys.DisableEncryption(ctx)
			},
		},
		&cobra.Command{
			Use:                "rotate",
			Short:              "Create a fresh active master key",
			FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				a, err := openApp(ctx)
				if err != nil {
					return err
				}
				defer a.Close()

				pw, err := promptPassphrase(true)
				if err != nil {
					return err
				}
				defer common.WipeByteArray(pw)

				key, err := a.Keys.RotateMasterKey(ctx, pw)
				if err != nil {
					return err
				}
				fmt.Printf("Active master key is now %s\n", key.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:                "device",
			Short:              "Print this device's public key for key exchange",
			FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
			RunE: func(cmd *cobra.Command, args []string) error {
				kp, err := keystore.LoadOrCreateDeviceKeyPair(profileDir())
				if err != nil {
					return err
				}
				fmt.Printf("Device: %s\n", kp.DeviceID)
				_, err = os.Stdout.Write(kp.PublicPEM)
				return err
			},
		},
		&cobra.Command{
			Use:                "share <key-id> <recipient-public.pem>",
			Short:              "Wrap a master key for another device's public key",
			Args:               cobra.ExactArgs(2),
			FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				a, err := openApp(ctx)
				if err != nil {
					return err
				}
				defer a.Close()

				pubPEM, err := os.ReadFile(args[1])
				if err != nil {
					return err
				}

				pw, err := promptPassphrase(false)
				if err != nil {
					return err
				}
				defer common.WipeByteArray(pw)
				if _, err := a.Keys.Unlock(ctx, pw); err != nil {
					return err
				}

				wk, err := a.Keys.WrapForDevice(ctx, args[0], pubPEM, cryptox.AlgorithmRSAV3)
				if err != nil {
					return err
				}
				out, err := json.Marshal(wk)
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			},
		},
		&cobra.Command{
			Use:                "accept <wrapped.json>",
			Short:              "Import a master key wrapped for this device",
			Args:               cobra.ExactArgs(1),
			FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				a, err := openApp(ctx)
				if err != nil {
					return err
				}
				defer a.Close()

				data, err := os.ReadFile(args[0])
				if err != nil {
					return err
				}
				var wk models.WrappedKey
				if err := json.Unmarshal(data, &wk); err != nil {
					return fmt.Errorf("parsing %s: %w", args[0], err)
				}

				kp, err := keystore.LoadOrCreateDeviceKeyPair(profileDir())
				if err != nil {
					return err
				}

				pw, err := promptPassphrase(true)
				if err != nil {
					return err
				}
				defer common.WipeByteArray(pw)

				key, err := a.Keys.UnwrapFromDevice(ctx, &wk, kp.PrivatePEM, pw)
				if err != nil {
					return err
				}
				fmt.Printf("Imported master key %s\n", key.ID)
				return nil
			},
		},
	)
	return cmd
}

// profileDir is where per-device files such as the key-exchange keypair
// live, next to the sqlite database.
func profileDir() string {
	return filepath.Dir(config.LoadConfig().DatabaseFile)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "migrate",
		Short:              "Create or upgrade the schema of a postgres sync target",
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()
			if cfg.Target != config.TargetPostgres {
				return fmt.Errorf("migrate applies to the postgres target, current target is %q", cfg.Target)
			}
			return app.MigrateRemoteDatabase(cmd.Context(), cfg.DatabaseDSN)
		},
	}
}
