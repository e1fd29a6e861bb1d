package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/cadence-api/internal/config"
	"github.com/phrazzld/cadence-api/internal/platform/logger"
	"github.com/phrazzld/cadence-api/internal/runtime"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultServerURL = "http://localhost:8080"

// deps are the side effects commands go through. Tests replace them.
type deps struct {
	httpClient *http.Client
	loadConfig func(path string) (*config.Config, error)
	bind       func(ctx context.Context, cfg *config.Config) (*runtime.Binding, error)
}

func defaultDeps() deps {
	return deps{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		loadConfig: config.LoadFile,
		bind: func(ctx context.Context, cfg *config.Config) (*runtime.Binding, error) {
			return runtime.Select(ctx, cfg, logger.Discard())
		},
	}
}

// cli holds state shared by every command.
type cli struct {
	deps deps
	v    *viper.Viper
}

func newRootCmd(d deps) *cobra.Command {
	c := &cli{deps: d, v: viper.New()}
	c.v.SetEnvPrefix(config.EnvPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	c.v.AutomaticEnv()
	c.v.SetDefault("ctl.server", defaultServerURL)

	root := &cobra.Command{
		Use:   "cadencectl",
		Short: "Operate a cadence API server",
		Long: `cadencectl talks to a running cadence API server for runtime status and
re-probe, and reads the configured backends directly for audit export and
token issuance.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("server", defaultServerURL, "server base URL (env CADENCE_CTL_SERVER)")
	root.PersistentFlags().String("operator-token", "", "operator token (env CADENCE_SERVER_OPERATOR_TOKEN)")
	root.PersistentFlags().StringP("config", "c", "", "server config file for commands that read backends directly")
	_ = c.v.BindPFlag("ctl.server", root.PersistentFlags().Lookup("server"))
	_ = c.v.BindPFlag("server.operator_token", root.PersistentFlags().Lookup("operator-token"))
	_ = c.v.BindPFlag("ctl.config", root.PersistentFlags().Lookup("config"))

	root.AddCommand(
		c.newStatusCmd(),
		c.newReprobeCmd(),
		c.newAuditCmd(),
		c.newTokenCmd(),
	)
	return root
}

func (c *cli) serverURL() string {
	return strings.TrimRight(c.v.GetString("ctl.server"), "/")
}

func (c *cli) loadConfig() (*config.Config, error) {
	return c.deps.loadConfig(c.v.GetString("ctl.config"))
}
