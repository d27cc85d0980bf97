package cli

import (
	"log/slog"
	"os"

	"github.com/me/taskd/internal/logging"
	"github.com/spf13/cobra"
)

// EnvServer overrides the default server URL.
const EnvServer = "TASKD_SERVER"

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking TASKD_SERVER first.
func defaultServer() string {
	if s := os.Getenv(EnvServer); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for taskctl.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "taskctl",
		Short: "taskctl manages deferred tasks on a taskd server",
		Long:  "taskctl creates, lists, inspects and deletes scheduled Foo/Bar/Baz tasks.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if flagDebug {
				flagLogLevel = "debug"
			}
			var err error
			logger, err = logging.New(flagLogLevel, flagLogFormat)
			if err != nil {
				return err
			}
			client = NewClient(flagServer, logger)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "taskd server URL (or "+EnvServer+" env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newCreateCmd(),
		newListCmd(),
		newGetCmd(),
		newDeleteCmd(),
		newHealthCmd(),
	)

	return root
}
