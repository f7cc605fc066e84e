// Command relay is the command-line client for relayd.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/beamline/relay/internal/config"
)

var cfg *config.Config

var (
	flagOwner string
	flagToken string
)

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Chat with a Claude agent through the relay daemon",
	Long: `Relay runs Claude CLI turns through a local daemon that tracks
processes, conversations and history per owner.

Prompts stream back as they are generated. Conversations persist across
daemon restarts and can be listed, resumed and deleted.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagOwner, "owner", "",
		"owner identity (defaults to $RELAY_OWNER, then the OS username)")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "",
		"owner token for authenticated daemons (defaults to $RELAY_TOKEN)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("owner", "", "owner identity to mint a token for")
	tokenCmd.Flags().Bool("privileged", false, "grant privileged capabilities")
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (0 means no expiry)")
	tokenCmd.MarkFlagRequired("owner")
}

var chatCmd = &cobra.Command{
	Use:   "chat <prompt>",
	Short: "Send a prompt and stream the response",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(args)
	},
}

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a fresh conversation on the next prompt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runNew()
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List your conversations, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessions()
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Continue an earlier conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResume(args[0])
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Remove a conversation from your history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDelete(args[0])
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Print the messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(args[0])
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus()
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an owner token (requires the daemon's auth secret)",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		privileged, _ := cmd.Flags().GetBool("privileged")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		return runToken(owner, privileged, ttl)
	},
}
