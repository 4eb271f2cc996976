package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/availability"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/model"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/slots"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/timezone"
	"github.com/md-rashed-zaman/missionwindow/services/mission-service/internal/windows"
	"github.com/spf13/cobra"
)

// ErrConflict is returned after a conflict has been printed so the process
// exits non-zero.
var ErrConflict = errors.New("conflict")

var (
	okMark       = color.New(color.FgGreen).Sprint
	conflictMark = color.New(color.FgRed).Sprint
	dim          = color.New(color.FgHiBlack).Sprint
	kindColor    = map[windows.Kind]*color.Color{
		windows.PreUse:       color.New(color.FgYellow),
		windows.LegPrimary:   color.New(color.FgCyan),
		windows.LegSecondary: color.New(color.FgBlue),
		windows.LegReturn:    color.New(color.FgMagenta),
		windows.PostUse:      color.New(color.FgYellow),
	}
)

// candidateFlags describes a mission given on the command line.
type candidateFlags struct {
	id                 string
	resourceID         string
	departure          string
	ret                string
	legHours           float64
	returnLegHours     float64
	secondaryDeparture string
	secondaryReturn    string
}

func (c *candidateFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.id, "id", "", "mission id; an existing mission with this id is not treated as a conflict")
	cmd.Flags().StringVarP(&c.resourceID, "resource", "r", "", "aircraft resource id")
	cmd.Flags().StringVar(&c.departure, "departure", "", "departure (block-out start)")
	cmd.Flags().StringVar(&c.ret, "return", "", "return (block-out end, post-use buffer included)")
	cmd.Flags().Float64Var(&c.legHours, "leg-hours", 0, "total outbound and return flight hours")
	cmd.Flags().Float64Var(&c.returnLegHours, "return-leg-hours", -1, "return leg hours when the split is not symmetric")
	cmd.Flags().StringVar(&c.secondaryDeparture, "secondary-departure", "", "departure from the primary destination")
	cmd.Flags().StringVar(&c.secondaryReturn, "secondary-return", "", "arrival back from the secondary destination")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("departure")
	_ = cmd.MarkFlagRequired("return")
}

func (c *candidateFlags) mission(n *timezone.Normalizer) (model.Mission, error) {
	e := missionEntry{
		ID:                 c.id,
		ResourceID:         c.resourceID,
		Departure:          c.departure,
		Return:             c.ret,
		TotalLegHours:      c.legHours,
		SecondaryDeparture: c.secondaryDeparture,
		SecondaryReturn:    c.secondaryReturn,
	}
	if c.returnLegHours >= 0 {
		h := c.returnLegHours
		e.ReturnLegHours = &h
	}
	m, err := e.mission(n)
	if err != nil {
		return model.Mission{}, err
	}
	// Candidates carry no status.
	m.Status = ""
	return m, nil
}

func windowsCmd(g *globals) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "windows",
		Short: "List the windows of a mission from the missions file",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.load(cmd)
			if err != nil {
				return err
			}
			m, err := env.find(id)
			if err != nil {
				return err
			}
			ws, err := windows.For(m, env.policy)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s on %s\n", m.ID, m.ResourceID)
			for _, w := range ws {
				printWindow(out, env.zone, w)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "mission id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func checkStartCmd(g *globals) *cobra.Command {
	var resourceID, departure string
	cmd := &cobra.Command{
		Use:   "check-start",
		Short: "Check whether a departure leaves room for its pre-use buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.load(cmd)
			if err != nil {
				return err
			}
			dep, err := env.zone.ToInstant(departure)
			if err != nil {
				return err
			}
			res, err := env.engine.ValidateStart(dep, onResource(env.missions, resourceID))
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), env.zone, res)
		},
	}
	cmd.Flags().StringVarP(&resourceID, "resource", "r", "", "aircraft resource id")
	cmd.Flags().StringVar(&departure, "departure", "", "departure to check")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("departure")
	return cmd
}

func validateCmd(g *globals) *cobra.Command {
	c := &candidateFlags{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a candidate mission against the missions file",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.load(cmd)
			if err != nil {
				return err
			}
			m, err := c.mission(env.zone)
			if err != nil {
				return err
			}
			res, err := env.engine.ValidateMission(m, env.missions)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), env.zone, res)
		},
	}
	c.register(cmd)
	return cmd
}

func suggestCmd(g *globals) *cobra.Command {
	c := &candidateFlags{}
	var maxShifts int
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Find the next legal start for a candidate mission",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.load(cmd)
			if err != nil {
				return err
			}
			m, err := c.mission(env.zone)
			if err != nil {
				return err
			}
			got, shifts, err := env.engine.Suggest(m, env.missions, maxShifts)
			if errors.Is(err, availability.ErrNoSlot) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s no legal start within %d shifts\n", conflictMark("CONFLICT"), maxShifts)
				return ErrConflict
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s departure %s return %s %s\n",
				okMark("OK"),
				env.zone.ToWallClock(got.Departure),
				env.zone.ToWallClock(got.Return),
				dim(fmt.Sprintf("(%d shifts)", shifts)),
			)
			return nil
		},
	}
	c.register(cmd)
	cmd.Flags().IntVar(&maxShifts, "max-shifts", 48, "give up after this many shifts")
	return cmd
}

func slotsCmd(g *globals) *cobra.Command {
	var resourceID, date string
	var slotMinutes int
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Show a local day of a resource as slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.load(cmd)
			if err != nil {
				return err
			}
			p := env.policy
			if slotMinutes > 0 {
				p.SlotGranularity = time.Duration(slotMinutes) * time.Minute
			}
			enum, err := slots.New(p, env.logger)
			if err != nil {
				return err
			}
			seq, err := enum.Day(env.zone, resourceID, date, env.missions)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for s := range seq {
				line := fmt.Sprintf("%s-%s", clockOf(env.zone, s.Start), clockOf(env.zone, s.End))
				if s.Status == slots.Available {
					fmt.Fprintf(out, "%s  %s\n", line, okMark("available"))
					continue
				}
				fmt.Fprintf(out, "%s  %s %s %s\n", line, conflictMark("blocked"), s.Detail.MissionID, paintKind(s.Detail.Kind))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&resourceID, "resource", "r", "", "aircraft resource id")
	cmd.Flags().StringVar(&date, "date", "", "local date, YYYY-MM-DD")
	cmd.Flags().IntVar(&slotMinutes, "slot-minutes", 0, "slot size; the policy granularity when zero")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func freeStartsCmd(g *globals) *cobra.Command {
	var resourceID, date string
	var blockMinutes int
	cmd := &cobra.Command{
		Use:   "free-starts",
		Short: "List legal departures on a local day for a mission of a given length",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := g.load(cmd)
			if err != nil {
				return err
			}
			if blockMinutes <= 0 {
				return fmt.Errorf("--block-minutes must be positive")
			}
			p := env.policy
			day, err := env.zone.DayRange(date, p.DayStartHour, p.DayEndHour)
			if err != nil {
				return err
			}
			block := time.Duration(blockMinutes) * time.Minute
			legHours := (block - p.PreBuffer - p.PostBuffer).Hours()
			if legHours < 0 {
				legHours = 0
			}
			template := model.Mission{
				ResourceID:    resourceID,
				Departure:     day.Start,
				Return:        day.Start.Add(block),
				TotalLegHours: legHours,
			}
			starts, err := env.engine.FreeStarts(template, day.Start, day.End, p.SlotGranularity, env.missions, time.Time{})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(starts) == 0 {
				fmt.Fprintln(out, dim("no legal departures"))
				return nil
			}
			labels := make([]string, 0, len(starts))
			for _, t := range starts {
				labels = append(labels, clockOf(env.zone, t))
			}
			fmt.Fprintln(out, strings.Join(labels, " "))
			return nil
		},
	}
	cmd.Flags().StringVarP(&resourceID, "resource", "r", "", "aircraft resource id")
	cmd.Flags().StringVar(&date, "date", "", "local date, YYYY-MM-DD")
	cmd.Flags().IntVar(&blockMinutes, "block-minutes", 0, "block-out length including both buffers")
	_ = cmd.MarkFlagRequired("resource")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func printResult(out io.Writer, n *timezone.Normalizer, res availability.Result) error {
	if res.OK() {
		fmt.Fprintln(out, okMark("OK"))
		return nil
	}
	c := res.Conflict
	fmt.Fprintf(out, "%s %s %s earliest next %s\n",
		conflictMark("CONFLICT"), c.MissionID, paintKind(c.WindowKind), n.ToWallClock(c.EarliestNext))
	return ErrConflict
}

func printWindow(out io.Writer, n *timezone.Normalizer, w windows.Window) {
	line := fmt.Sprintf("  %-14s %s -> %s", paintKind(w.Kind), n.ToWallClock(w.Start), n.ToWallClock(w.End))
	if w.Invalid {
		line += " " + conflictMark("invalid")
	}
	fmt.Fprintln(out, line)
}

func paintKind(k windows.Kind) string {
	if c, ok := kindColor[k]; ok {
		return c.Sprint(string(k))
	}
	return string(k)
}

func clockOf(n *timezone.Normalizer, t time.Time) string {
	return t.In(n.Location()).Format("15:04")
}

func onResource(ms []model.Mission, resourceID string) []model.Mission {
	var out []model.Mission
	for _, m := range ms {
		if m.ResourceID == resourceID {
			out = append(out, m)
		}
	}
	return out
}
