package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"imgrelay/internal/config"
	"imgrelay/internal/server/bootstrap"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// DisplayError formats a fatal error for the terminal.
func DisplayError(msg string) string {
	return red("❌ " + msg)
}

// CLI holds flags shared by every subcommand.
type CLI struct {
	configFile string
}

func (c *CLI) loadConfig() (config.Config, error) {
	return config.Load(config.WithConfigFile(c.configFile))
}

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	cli := &CLI{}

	rootCmd := &cobra.Command{
		Use:   "imgrelay",
		Short: "Photo relay bot: re-hosts chat photos and serves them by short link",
		Long: fmt.Sprintf(`%s

Receives photos sent to a chat bot, re-hosts them on an image host and replies
with a short link served by this process.

%s
  imgrelay serve                      # Run the bot and HTTP server
  imgrelay serve --config relay.yaml  # Merge a YAML file under the environment
  imgrelay config show                # Print the effective configuration`,
			bold("imgrelay "+appVersion()),
			bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cli.configFile, "config", "c", "", "Optional YAML config file")

	rootCmd.AddCommand(newServeCommand(cli))
	rootCmd.AddCommand(newConfigCommand(cli))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newServeCommand(cli *CLI) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot and HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return bootstrap.Run(ctx, cfg)
		},
	}
}

// newConfigCommand creates the config subcommand.
func newConfigCommand(cli *CLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration inspection",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration with credentials masked",
		Long: `Prints the effective configuration as YAML using the same keys --config reads.
Credentials are masked, so supply BOT_TOKEN and SECRET_TOKEN through the
environment when reusing the output as a config file.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.loadConfig()
			if err != nil {
				return err
			}
			return showConfig(cmd.OutOrStdout(), cfg)
		},
	})
	return cmd
}

func showConfig(w io.Writer, cfg config.Config) error {
	mode := cfg.Mode()
	switch mode {
	case config.ModeServerOnly:
		fmt.Fprintf(w, "# mode: %s\n", yellow(mode))
	default:
		fmt.Fprintf(w, "# mode: %s\n", green(mode))
	}
	if cfg.Telegram.SecretGenerated {
		fmt.Fprintf(w, "# %s\n", yellow("secret_token generated for this run only"))
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg.Redacted().Settings()); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "imgrelay "+appVersion())
		},
	}
}
