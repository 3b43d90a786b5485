package cli

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"kxfer.org/internal/auth"
	"kxfer.org/internal/content"
	"kxfer.org/internal/knowledge"
)

func newArtifactsCmd(opts *rootOptions) *cobra.Command {
	var (
		typ   string
		tag   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "List artifacts within your clearance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := buildFilter(typ, tag, limit)
			if err != nil {
				return err
			}
			p, _, err := opts.openSession(cmd.Context())
			if err != nil {
				return err
			}
			arts, err := p.Content().ListArtifacts(cmd.Context(), f)
			return opts.emitArtifacts(cmd, arts, err)
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "Filter by artifact type")
	cmd.Flags().StringVar(&tag, "tag", "", "Filter by tag")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Max results")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		typ   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search artifacts within your clearance",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := buildFilter(typ, "", limit)
			if err != nil {
				return err
			}
			p, _, err := opts.openSession(cmd.Context())
			if err != nil {
				return err
			}
			arts, err := p.Content().Search(cmd.Context(), strings.Join(args, " "), f)
			return opts.emitArtifacts(cmd, arts, err)
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "Filter by artifact type")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Max results")
	return cmd
}

func newArtifactCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "artifact <id>",
		Short: "Show one artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return errors.New("artifact id must be a positive integer")
			}
			p, _, err := opts.openSession(cmd.Context())
			if err != nil {
				return err
			}
			a, err := p.Content().GetArtifact(cmd.Context(), id)
			switch {
			case errors.Is(err, content.ErrForbidden):
				return errors.New("insufficient permissions for this artifact")
			case errors.Is(err, content.ErrNotFound):
				return fmt.Errorf("artifact %d not found", id)
			case err != nil:
				return contentError(err)
			}
			return opts.emit(cmd.OutOrStdout(), a, func(w io.Writer) {
				fmt.Fprintf(w, "#%d %s\n", a.ID, a.Title)
				fmt.Fprintf(w, "Type: %s  Level: %d  Tags: %s\n", a.Type, a.AccessLevel, strings.Join(a.Tags, ", "))
				if !a.CreatedAt.IsZero() {
					fmt.Fprintf(w, "Created: %s\n", a.CreatedAt.Format("2006-01-02"))
				}
				fmt.Fprintf(w, "\n%s\n", a.Content)
			})
		},
	}
}

func buildFilter(typ, tag string, limit int) (knowledge.Filter, error) {
	v := url.Values{}
	if typ != "" {
		v.Set("type", typ)
	}
	if tag != "" {
		v.Set("tag", tag)
	}
	if limit != 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	return knowledge.ParseFilter(v)
}

// emitArtifacts renders a listing. Fetch failures degrade to an empty
// listing with a notice; session and policy failures are errors.
func (o *rootOptions) emitArtifacts(cmd *cobra.Command, arts []knowledge.Artifact, err error) error {
	arts, notice, err := degrade(arts, err)
	if err != nil {
		return contentError(err)
	}
	if notice != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), notice)
	}
	return o.emit(cmd.OutOrStdout(), arts, func(w io.Writer) {
		if len(arts) == 0 {
			fmt.Fprintln(w, "No artifacts found.")
			return
		}
		for _, a := range arts {
			fmt.Fprintf(w, "%4d  L%-3d %-14s %s\n", a.ID, a.AccessLevel, a.Type, a.Title)
		}
	})
}

func degrade(arts []knowledge.Artifact, err error) ([]knowledge.Artifact, string, error) {
	if err == nil {
		return arts, "", nil
	}
	return content.Degrade(err)
}

func contentError(err error) error {
	switch {
	case errors.Is(err, auth.ErrSessionInvalid), errors.Is(err, auth.ErrNotAuthenticated):
		return sessionError(err)
	case errors.Is(err, content.ErrPolicyViolation):
		return errors.New("the server returned content above your clearance; nothing was shown")
	default:
		return err
	}
}
