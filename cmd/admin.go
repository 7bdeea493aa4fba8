package cmd

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/binderyhq/bindery/facets"
	"github.com/binderyhq/bindery/sql"
	"github.com/binderyhq/bindery/sql/facetprefs"
	"github.com/binderyhq/bindery/sql/shelves"
	"github.com/binderyhq/bindery/sql/statedb"
	"github.com/binderyhq/bindery/sql/syncstate"
	"github.com/binderyhq/bindery/sql/users"
	"github.com/binderyhq/bindery/syncer"
)

// withStateDB opens the state database for one administrative action. The
// server may be running at the same time; sqlite serializes the writes.
func withStateDB(cmd *cobra.Command, flags *serveFlags, action func(db *sql.Database) error) error {
	cfg, err := loadConfig(cmd.Root(), flags)
	if err != nil {
		return err
	}
	db, err := statedb.Open("file:" + cfg.StatePath())
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	return action(db)
}

func usersCommand(flags *serveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "manage user accounts",
	}

	var policy string
	var limit int
	var syncFacets bool
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "create a user account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if policy != "" {
				if _, ok := syncer.ParsePolicy(policy); !ok {
					return fmt.Errorf("unknown sync policy %q", policy)
				}
			}
			return withStateDB(cmd, flags, func(db *sql.Database) error {
				id, err := users.Add(db, &users.User{
					Name:       args[0],
					Created:    time.Now().UTC(),
					SyncPolicy: policy,
					SyncLimit:  limit,
					SyncFacets: syncFacets,
				})
				if err != nil {
					return err
				}
				cmd.Printf("created user %s (id %d)\n", args[0], id)
				return nil
			})
		},
	}
	addSyncSettingFlags(add, &policy, &limit, &syncFacets)

	var setPolicy string
	var setLimit int
	var setFacets bool
	set := &cobra.Command{
		Use:   "set-sync <name>",
		Short: "change a user's device-sync settings",
		Long: "Change a user's device-sync settings. A policy or generated-collection " +
			"change marks the account for a one-shot collection resync, the next " +
			"device round re-emits every generated collection.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if setPolicy != "" {
				if _, ok := syncer.ParsePolicy(setPolicy); !ok {
					return fmt.Errorf("unknown sync policy %q", setPolicy)
				}
			}
			return withStateDB(cmd, flags, func(db *sql.Database) error {
				user, err := users.GetByName(db, args[0])
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("policy") {
					setPolicy = user.SyncPolicy
				}
				if !cmd.Flags().Changed("limit") {
					setLimit = user.SyncLimit
				}
				if !cmd.Flags().Changed("facets") {
					setFacets = user.SyncFacets
				}
				if err := users.SetSyncSettings(db, user.ID, setPolicy, setLimit, setFacets); err != nil {
					return err
				}
				// Policy changes leave no trace in any item timestamp; the
				// one-shot flag is how the next round notices them.
				if setPolicy != user.SyncPolicy || setFacets != user.SyncFacets {
					if err := syncstate.SetForceResync(db, user.ID, time.Now().UTC()); err != nil {
						return err
					}
					cmd.Println("marked for collection resync")
				}
				return nil
			})
		},
	}
	addSyncSettingFlags(set, &setPolicy, &setLimit, &setFacets)

	cmd.AddCommand(add, set)
	return cmd
}

func addSyncSettingFlags(cmd *cobra.Command, policy *string, limit *int, syncFacets *bool) {
	cmd.Flags().StringVar(policy, "policy", "", "collection-sync policy (all, selected, hybrid; empty for server default)")
	cmd.Flags().IntVar(limit, "limit", 0, "per-round record limit (0 for server default)")
	cmd.Flags().BoolVar(syncFacets, "facets", false, "include enabled generated collections under the selected policy")
}

func devicesCommand(flags *serveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "manage paired devices",
	}

	var deviceID string
	pair := &cobra.Command{
		Use:   "pair <user>",
		Short: "issue a device token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStateDB(cmd, flags, func(db *sql.Database) error {
				user, err := users.GetByName(db, args[0])
				if err != nil {
					return err
				}
				raw := make([]byte, 16)
				if _, err := rand.Read(raw); err != nil {
					return fmt.Errorf("generate token: %w", err)
				}
				token := hex.EncodeToString(raw)
				if err := users.AddToken(db, &users.DeviceToken{
					Token:    token,
					UserID:   user.ID,
					DeviceID: deviceID,
					Created:  time.Now().UTC(),
				}); err != nil {
					return err
				}
				cfg, err := loadConfig(cmd.Root(), flags)
				if err != nil {
					return err
				}
				cmd.Printf("device API root: %s/%s\n", cfg.Server.BaseURL, token)
				return nil
			})
		},
	}
	pair.Flags().StringVar(&deviceID, "device", "", "device identifier to record with the token")

	revoke := &cobra.Command{
		Use:   "revoke <token>",
		Short: "revoke a device token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStateDB(cmd, flags, func(db *sql.Database) error {
				return users.DeleteToken(db, args[0])
			})
		},
	}

	cmd.AddCommand(pair, revoke)
	return cmd
}

func shelvesCommand(flags *serveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shelves",
		Short: "manage shelf sync flags",
	}

	var enabled bool
	set := &cobra.Command{
		Use:   "sync <user> <shelf>",
		Short: "toggle device sync for a manual shelf",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStateDB(cmd, flags, func(db *sql.Database) error {
				user, err := users.GetByName(db, args[0])
				if err != nil {
					return err
				}
				shelf, err := shelves.GetByName(db, user.ID, args[1])
				if err != nil {
					return err
				}
				if shelf.Name == syncer.OptInShelfName {
					return fmt.Errorf("shelf %q is reserved for the hybrid policy", shelf.Name)
				}
				return shelves.SetSyncEnabled(db, shelf.ID, enabled, time.Now().UTC())
			})
		},
	}
	set.Flags().BoolVar(&enabled, "enabled", true, "sync the shelf to the device")

	cmd.AddCommand(set)
	return cmd
}

func facetsCommand(flags *serveFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facets",
		Short: "manage generated collections",
	}

	var enabled bool
	set := &cobra.Command{
		Use:   "set <user> <source> <value>",
		Short: "toggle the generated collection for one facet value",
		Long: "Toggle the generated collection for one facet value, e.g. " +
			"`bindery facets set alice tags \"science fiction\"`. Sources: tags, " +
			"authors, publishers, languages and cc:<column> for custom columns. " +
			"The change marks the account for a one-shot collection resync.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, value := args[1], args[2]
			if !facets.ValidSource(source) {
				return fmt.Errorf("unknown facet source %q", source)
			}
			return withStateDB(cmd, flags, func(db *sql.Database) error {
				user, err := users.GetByName(db, args[0])
				if err != nil {
					return err
				}
				now := time.Now().UTC()
				if err := facetprefs.Set(db, user.ID, source, value, enabled, now); err != nil {
					return err
				}
				return syncstate.SetForceResync(db, user.ID, now)
			})
		},
	}
	set.Flags().BoolVar(&enabled, "enabled", true, "sync the generated collection to the device")

	cmd.AddCommand(set)
	return cmd
}
