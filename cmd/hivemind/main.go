// Command hivemind runs the listener and manages its client records.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/hivemind"
	"github.com/opd-ai/hivemind/database"
)

var (
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:   "hivemind",
		Short: "HiveMind mesh listener and client administration",
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (YAML)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		runCmd(),
		addClientCmd(),
		deleteClientCmd(),
		listClientsCmd(),
		renameClientCmd(),
		blacklistSkillCmd(),
		unblacklistSkillCmd(),
		allowMsgCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadOptions() (*hivemind.Options, error) {
	if configPath == "" {
		return hivemind.DefaultOptions(), nil
	}
	return hivemind.LoadOptions(configPath)
}

func openDB() (*database.ClientDB, error) {
	opts, err := loadOptions()
	if err != nil {
		return nil, err
	}
	return database.Open(opts.Database.Module, opts.Database.Config)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the listener",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := loadOptions()
			if err != nil {
				return err
			}
			service, err := hivemind.NewService(opts)
			if err != nil {
				return err
			}
			defer service.Close()

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := service.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
}

func addClientCmd() *cobra.Command {
	var name, key, password, cryptoKey string
	var admin bool
	cmd := &cobra.Command{
		Use:   "add-client",
		Short: "Create a client record, generating credentials when omitted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if name == "" {
				name = "HiveMind-Node-" + uuid.NewString()[:8]
			}
			if key == "" {
				key = uuid.NewString()
			}
			if password == "" {
				password = uuid.NewString()
			}

			record := database.NewClient(name, key)
			record.Password = password
			record.IsAdmin = admin
			record.SetCryptoKey(cryptoKey)

			created, err := db.AddClient(record)
			if err != nil {
				return err
			}
			action := "updated"
			if created {
				action = "created"
			}
			fmt.Printf("%s client %d\n", action, record.ClientID)
			fmt.Printf("  name:     %s\n", record.Name)
			fmt.Printf("  key:      %s\n", record.APIKey)
			fmt.Printf("  password: %s\n", record.Password)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "human readable client name")
	cmd.Flags().StringVar(&key, "key", "", "access key (generated when omitted)")
	cmd.Flags().StringVar(&password, "password", "", "handshake password (generated when omitted)")
	cmd.Flags().StringVar(&cryptoKey, "crypto-key", "", "16-byte pre-shared key, optional")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant broadcast rights")
	return cmd
}

func deleteClientCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-client <api-key>",
		Short: "Revoke a client (the record is tombstoned, the id never reused)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if !db.DeleteClient(args[0]) {
				return fmt.Errorf("no client with key %q", args[0])
			}
			fmt.Println("client revoked")
			return nil
		},
	}
}

func listClientsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-clients",
		Short: "Print all client records, tombstones included",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			for _, c := range db.List() {
				status := ""
				if c.IsRevoked() {
					status = " (revoked)"
				} else if c.IsAdmin {
					status = " (admin)"
				}
				fmt.Printf("%4d  %-30s %s%s\n", c.ClientID, c.Name, c.APIKey, status)
			}
			return nil
		},
	}
}

func renameClientCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename-client <api-key> <name>",
		Short: "Rename a client record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateClient(args[0], func(c *database.Client) {
				c.Name = args[1]
			})
		},
	}
}

func blacklistSkillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blacklist-skill <api-key> <skill-id>",
		Short: "Deny a skill for messages from a client",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateClient(args[0], func(c *database.Client) {
				for _, s := range c.SkillBlacklist {
					if s == args[1] {
						return
					}
				}
				c.SkillBlacklist = append(c.SkillBlacklist, args[1])
			})
		},
	}
}

func unblacklistSkillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unblacklist-skill <api-key> <skill-id>",
		Short: "Allow a previously denied skill",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateClient(args[0], func(c *database.Client) {
				kept := c.SkillBlacklist[:0]
				for _, s := range c.SkillBlacklist {
					if s != args[1] {
						kept = append(kept, s)
					}
				}
				c.SkillBlacklist = kept
			})
		},
	}
}

func allowMsgCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "allow-msg <api-key> <msg-type>",
		Short: "Permit a client to inject an application message type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutateClient(args[0], func(c *database.Client) {
				msgType := strings.TrimSpace(args[1])
				for _, t := range c.AllowedTypes {
					if t == msgType {
						return
					}
				}
				c.AllowedTypes = append(c.AllowedTypes, msgType)
			})
		},
	}
}

func mutateClient(apiKey string, mutate func(*database.Client)) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	record, ok := db.GetClientByAPIKey(apiKey)
	if !ok {
		return fmt.Errorf("no client with key %q", apiKey)
	}
	mutate(record)
	if err := db.UpdateClient(record); err != nil {
		return err
	}
	fmt.Printf("updated client %d (%s)\n", record.ClientID, record.Name)
	return nil
}
