package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/availability"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/policy"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/timezone"
	"github.com/spf13/cobra"
)

// globals are the flags every subcommand shares.
type globals struct {
	missionsPath string
	policyPath   string
	zone         string
	verbose      bool
}

// env is what a subcommand works with once the shared flags are resolved.
type env struct {
	policy   policy.Policy
	zone     *timezone.Normalizer
	missions []model.Mission
	engine   *availability.Engine
	logger   *slog.Logger
}

// NewRootCmd builds the windowctl command tree.
func NewRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "windowctl",
		Short: "Inspect aircraft mission windows offline",
		Long: `windowctl answers availability questions against a YAML schedule:
which windows a mission occupies, whether a departure or a whole mission is
legal, where the next legal start is, and how a day looks as slots.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.missionsPath, "missions", "m", "", "YAML file with existing missions")
	root.PersistentFlags().StringVarP(&g.policyPath, "policy", "p", "", "YAML policy file (defaults apply when omitted)")
	root.PersistentFlags().StringVarP(&g.zone, "zone", "z", "UTC", "zone for input and output wall-clock times")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log excluded missions to stderr")

	root.AddCommand(windowsCmd(g))
	root.AddCommand(checkStartCmd(g))
	root.AddCommand(validateCmd(g))
	root.AddCommand(suggestCmd(g))
	root.AddCommand(slotsCmd(g))
	root.AddCommand(freeStartsCmd(g))
	return root
}

func (g *globals) load(cmd *cobra.Command) (*env, error) {
	p, err := policy.LoadFile(g.policyPath)
	if err != nil {
		return nil, err
	}
	n, err := timezone.New(g.zone)
	if err != nil {
		return nil, err
	}
	missions, err := loadMissions(g.missionsPath, g.zone)
	if err != nil {
		return nil, err
	}

	handler := slog.DiscardHandler
	if g.verbose {
		handler = slog.NewTextHandler(cmd.ErrOrStderr(), nil)
	}
	logger := slog.New(handler)
	engine, err := availability.New(p, logger)
	if err != nil {
		return nil, err
	}
	return &env{policy: p, zone: n, missions: missions, engine: engine, logger: logger}, nil
}

func (e *env) find(id string) (model.Mission, error) {
	for _, m := range e.missions {
		if m.ID == id {
			return m, nil
		}
	}
	return model.Mission{}, fmt.Errorf("mission %q not in missions file", id)
}

// Execute runs windowctl. A reported conflict exits 2, any other failure 1.
func Execute() {
	err := NewRootCmd().Execute()
	switch {
	case err == nil:
	case errors.Is(err, ErrConflict):
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
