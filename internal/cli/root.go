// Package cli implements the kxfer client commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"kxfer.org/internal/auth"
	"kxfer.org/internal/config"
	"kxfer.org/internal/platform"
)

const (
	formatJSON = "json"
	formatText = "text"
)

type rootOptions struct {
	cfgFile string
	apiURL  string
	format  string
}

// NewRootCmd builds the kxfer command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "kxfer",
		Short:         "Knowledge Transfer Platform client",
		Long:          "Browse, search and ask about organizational knowledge within your clearance level.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != formatJSON && opts.format != formatText {
				return fmt.Errorf("unknown format %q (want json or text)", opts.format)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "Path to JSON config file")
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", "", "API base URL (default: $KXFER_API_URL or http://localhost:8000)")
	root.PersistentFlags().StringVarP(&opts.format, "format", "f", formatText, "Output format: json or text")

	root.AddCommand(
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newWhoamiCmd(opts),
		newCanCmd(opts),
		newArtifactsCmd(opts),
		newArtifactCmd(opts),
		newSearchCmd(opts),
		newAskCmd(opts),
		newChatCmd(opts),
	)
	return root
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if o.apiURL != "" {
		cfg.APIURL = o.apiURL
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

func (o *rootOptions) open() (*platform.Platform, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return platform.New(cfg)
}

// openSession opens the platform and resumes the stored session.
func (o *rootOptions) openSession(ctx context.Context) (*platform.Platform, auth.User, error) {
	p, err := o.open()
	if err != nil {
		return nil, auth.User{}, err
	}
	u, err := p.Resume(ctx)
	if err != nil {
		return nil, auth.User{}, sessionError(err)
	}
	return p, u, nil
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, auth.ErrNotAuthenticated):
		return errors.New("not logged in: run `kxfer login` first")
	case errors.Is(err, auth.ErrSessionInvalid):
		return errors.New("session expired or revoked: run `kxfer login` again")
	default:
		return err
	}
}

func (o *rootOptions) emit(w io.Writer, v any, text func(io.Writer)) error {
	if o.format == formatJSON {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	}
	text(w)
	return nil
}
