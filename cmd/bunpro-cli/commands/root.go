package commands

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"bunpro-backup/lib/configutil"
	"bunpro-backup/lib/restyutil"
	"bunpro-backup/lib/scrapers/bunpro/core"
	"bunpro-backup/lib/telemetry"
	"bunpro-backup/services/srsbackup"
	"bunpro-backup/services/srsbackup/store"

	"github.com/spf13/cobra"
)

var (
	email    string
	password string
	verbose  bool
	dataDir  string
)

var rootCmd = &cobra.Command{
	Use:           "bunpro-cli",
	Short:         "bunpro-cli backs up and restores Bunpro SRS review state.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
		_, err := telemetry.SetupFromEnv(cmd.Context(), "bunpro-cli")
		if err != nil {
			fmt.Fprintln(os.Stderr, "failed to setup telemetry:", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&email, "email", "e", "", "Bunpro login email (overrides env / bunpro.json5)")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "Bunpro login password (overrides env / bunpro.json5)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging, including per-request HTTP logs.")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "data", "Directory backups are written to and restored from.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type credentialsConfig struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// resolveCredentials falls through flags, then the BUNPRO_EMAIL /
// BUNPRO_PASSWORD environment variables, then a bunpro.json5 config
// file. Missing credentials exit with code 2, matching the documented
// CLI contract.
func resolveCredentials() core.Credentials {
	creds := core.Credentials{Email: email, Password: password}
	if creds.Email == "" {
		creds.Email = os.Getenv("BUNPRO_EMAIL")
	}
	if creds.Password == "" {
		creds.Password = os.Getenv("BUNPRO_PASSWORD")
	}

	if creds.Email == "" || creds.Password == "" {
		cfg, err := configutil.ReadConfig[credentialsConfig]("bunpro.json5")
		if err == nil {
			if creds.Email == "" {
				creds.Email = cfg.Email
			}
			if creds.Password == "" {
				creds.Password = cfg.Password
			}
		}
	}

	if creds.Email == "" || creds.Password == "" {
		fmt.Fprintln(
			os.Stderr,
			"Missing credentials. Provide --email/--password, set BUNPRO_EMAIL and BUNPRO_PASSWORD, or create a bunpro.json5.",
		)
		os.Exit(2)
	}
	return creds
}

func newService() (srsbackup.Service, error) {
	creds := resolveCredentials()

	var output restyutil.InstrumentOutput
	if verbose {
		output = restyutil.NewFilesystemOutput(".dev/resty/bunpro")
	}
	client, err := core.NewClient(core.ClientOptions{
		Email:            creds.Email,
		Password:         creds.Password,
		InstrumentOutput: output,
	})
	if err != nil {
		return srsbackup.Service{}, fmt.Errorf("failed to initialize bunpro client: %w", err)
	}
	return srsbackup.NewService(client, store.New(dataDir)), nil
}

// normalizeDeckPath accepts either a relative deck path or a full url
// on the bunpro host and reduces the latter to its path.
func normalizeDeckPath(arg string) (string, error) {
	if !strings.HasPrefix(arg, "http://") && !strings.HasPrefix(arg, "https://") {
		if !strings.HasPrefix(arg, "/") {
			return "/" + arg, nil
		}
		return arg, nil
	}
	link, err := url.Parse(arg)
	if err != nil {
		return "", fmt.Errorf("malformed deck url %q: %w", arg, err)
	}
	if link.Path == "" {
		return "", fmt.Errorf("deck url %q has no path", arg)
	}
	if link.RawQuery != "" {
		return link.Path + "?" + link.RawQuery, nil
	}
	return link.Path, nil
}
