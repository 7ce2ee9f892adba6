package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"annotd/internal/annotate"
	"annotd/internal/params"
	"annotd/internal/vram"
)

func newProfilesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect or seed recorded memory profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("profiles requires a subcommand: get|record")
		},
	}

	var fingerprint string
	get := &cobra.Command{
		Use:     "get [name=value ...]",
		Short:   "Show the recorded peak for a configuration",
		Example: "  annotd profiles get --metadata app.yaml mode=fast",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := c.profileSession(cmd, fingerprint, args)
			if err != nil {
				return err
			}
			defer s.close()
			peak, ok, err := s.store.Load(cmd.Context(), s.app, s.fp)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(c.out, "%s\tno profile\n", s.fp)
				return nil
			}
			fmt.Fprintf(c.out, "%s\t%s\n", s.fp, humanize.IBytes(peak))
			return nil
		},
	}
	get.Flags().StringVar(&fingerprint, "fingerprint", "", "Use this fingerprint instead of refining parameters")

	var peak string
	record := &cobra.Command{
		Use:     "record [name=value ...]",
		Short:   "Raise the recorded peak for a configuration",
		Example: "  annotd profiles record --metadata app.yaml --peak 6GiB mode=fast",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := humanize.ParseBytes(peak)
			if err != nil {
				return fmt.Errorf("invalid --peak %q: %w", peak, err)
			}
			if n == 0 {
				return fmt.Errorf("--peak must be positive")
			}
			s, err := c.profileSession(cmd, fingerprint, args)
			if err != nil {
				return err
			}
			defer s.close()
			updated, err := s.store.Ratchet(cmd.Context(), s.app, s.fp, n)
			if err != nil {
				return err
			}
			state := "unchanged"
			if updated {
				state = "raised"
			}
			fmt.Fprintf(c.out, "%s\t%s\t%s\n", s.fp, humanize.IBytes(n), state)
			return nil
		},
	}
	record.Flags().StringVar(&fingerprint, "fingerprint", "", "Use this fingerprint instead of refining parameters")
	record.Flags().StringVar(&peak, "peak", "", "Peak to record, e.g. 6GiB or 6442450944")
	_ = record.MarkFlagRequired("peak")

	cmd.AddCommand(get, record)
	return cmd
}

type profileSession struct {
	app   string
	fp    string
	store vram.ProfileStore
	close func() error
}

func (c *cli) profileSession(cmd *cobra.Command, fingerprint string, args []string) (*profileSession, error) {
	orch, err := c.orchestrator(annotate.Options{})
	if err != nil {
		return nil, err
	}
	fp := fingerprint
	if fp == "" {
		raw, err := parseAssignments(args)
		if err != nil {
			return nil, err
		}
		cfg, err := orch.Refine(raw)
		if err != nil {
			return nil, err
		}
		fp = orch.Fingerprint(cfg)
	}
	store, closer, err := c.openStore()
	if err != nil {
		return nil, err
	}
	return &profileSession{app: orch.Metadata().Identifier, fp: fp, store: store, close: closer}, nil
}

// parseAssignments turns name=value arguments into raw parameters. Repeating
// a name adds a value.
func parseAssignments(args []string) (params.RawParams, error) {
	raw := params.RawParams{}
	for _, a := range args {
		name, value, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("argument %q is not name=value", a)
		}
		raw[name] = append(raw[name], value)
	}
	return raw, nil
}
