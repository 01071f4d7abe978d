// taidi keeps score for a Taidi card game: start a game, enter each round's
// leftover card counts, and the tool settles who owes whom.  Finished games
// go into an archive that drives lifetime player stats.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ts4z/taidi/config"
	"github.com/ts4z/taidi/dbcache"
	"github.com/ts4z/taidi/dbutil"
	"github.com/ts4z/taidi/password"
	"github.com/ts4z/taidi/state"
	"github.com/ts4z/taidi/tracker"
	"github.com/ts4z/taidi/ts"
	"github.com/ts4z/taidi/varz"
)

var (
	verbose  bool
	showVarz bool
	gameID   string
)

var closeFunc = func() {}

// newService connects to the configured database.  The caller is done
// with it when the command returns; PersistentPostRun closes it.
func newService(ctx context.Context) (*tracker.Service, error) {
	db, err := dbutil.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	store, err := state.NewDBStorage(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("setting up database: %w", err)
	}
	games := dbcache.NewGameStorage(config.CacheSize(), store)
	closeFunc = games.Close
	return tracker.New(store, games, ts.NewRealClock(), config.CardValue()), nil
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	pwBytes, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pwBytes), nil
}

// requirePassword guards commands that destroy history.
func requirePassword() error {
	if !config.PasswordEnabled() {
		return nil
	}
	checker, err := password.NewChecker(config.PasswordHash())
	if err != nil {
		return fmt.Errorf("%w (set password_hash from `taidi pw hash`, or disable enable_password)", err)
	}
	pw, err := readPassword("Password: ")
	if err != nil {
		return err
	}
	return checker.Validate(pw)
}

func hashPassword(cmd *cobra.Command, args []string) error {
	pw, err := readPassword("Enter password: ")
	if err != nil {
		return err
	}
	if pw == "" {
		return errors.New("password is required")
	}
	again, err := readPassword("Again: ")
	if err != nil {
		return err
	}
	if pw != again {
		return errors.New("passwords don't match")
	}
	fmt.Println(password.Hash(pw))
	return nil
}

func printVarz() error {
	data := pterm.TableData{{"counter", "value"}}
	for _, v := range varz.Ours() {
		data = append(data, []string{v.Name, v.Value})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func main() {
	rootCmd := &cobra.Command{
		Short:        "Taidi score keeper",
		Use:          "taidi",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !verbose {
				log.SetOutput(io.Discard)
			}
			config.Init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeFunc()
			if showVarz {
				if err := printVarz(); err != nil {
					pterm.Error.Println(err)
				}
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log what's happening to stderr")
	rootCmd.PersistentFlags().BoolVar(&showVarz, "varz", false, "Print internal counters when done")

	rootCmd.AddCommand(gameCommand(), playerCommand(), archiveCommand(), statsCommand())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Delete all players, archived games, and active games",
		Args:  cobra.NoArgs,
		RunE:  factoryReset,
	})

	pwCmd := &cobra.Command{
		Use:   "pw",
		Short: "Password-related operations",
	}
	pwCmd.AddCommand(&cobra.Command{
		Use:   "hash",
		Short: "Hash a password for the password_hash setting",
		Args:  cobra.NoArgs,
		RunE:  hashPassword,
	})
	rootCmd.AddCommand(pwCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		closeFunc()
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
