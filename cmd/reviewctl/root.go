package main

import (
	"errors"
	"fmt"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

var errNotSignedIn = errors.New("not signed in, run 'reviewctl login' first")

type rootOptions struct {
	configFile string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	root := &cobra.Command{
		Use:          "reviewctl",
		Short:        "Sign in to the review site API and make authenticated requests",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default ./reviewctl.yaml, ~/.reviewctl/reviewctl.yaml)")
	flags.String("api-url", "", "base URL of the review site API")
	flags.String("store", "", "credential backend: file, redis or sqlite")
	flags.String("store-path", "", "credential file or sqlite database path")
	flags.String("redis-addr", "", "redis address for the redis backend")
	flags.String("log-level", "", "trace, debug, info, warn or error")
	for key, flag := range map[string]string{
		"api_url":          "api-url",
		"store.backend":    "store",
		"store.path":       "store-path",
		"store.redis_addr": "redis-addr",
		"log_level":        "log-level",
	} {
		if err := opts.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", flag, err))
		}
	}

	root.AddCommand(
		newLoginCmd(opts),
		newRegisterCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newGetCmd(opts),
		newWatchCmd(opts),
		newVersionCmd(),
	)
	return root
}

// withApp loads the configuration, builds the app for one command and releases it afterwards
func (o *rootOptions) withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		config.InitViper(o.v, o.configFile)
		cfg, err := config.FromViper(o.v)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := a.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		return fn(cmd, args, a)
	}
}
