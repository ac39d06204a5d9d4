package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/cpuguy83/calslots/internal/availability"
	"github.com/cpuguy83/calslots/internal/calendar"
	"github.com/cpuguy83/calslots/internal/sync"
	"github.com/cpuguy83/calslots/internal/tzclock"
)

type slotsOptions struct {
	start, end  string
	days        int
	tz          string
	hours       string
	minDuration time.Duration
	json        bool
	icsPath     string
}

func newSlotsCommand(root *rootOptions) *cobra.Command {
	opts := &slotsOptions{}

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print free slots for a date range",
		Long: `Fetches busy events from every configured source and prints the
free slots inside working hours.

Event titles may carry a buffer marker such as "-B15A30" to block 15
minutes before and 30 minutes after the event.`,
		Example: `  calslots slots --start 2026-03-02 --end 2026-03-06
  calslots slots --days 7 --tz Europe/Berlin --hours 08:30-17:00
  calslots slots --days 14 --ics ~/free.ics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, err := opts.query(cmd.Flags().Changed("days"))
			if err != nil {
				return err
			}
			return runSlots(cmd, root, opts, q)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.start, "start", "", "first date, YYYY-MM-DD")
	f.StringVar(&opts.end, "end", "", "last date, YYYY-MM-DD (default: same as --start)")
	f.IntVar(&opts.days, "days", 0, "query today and the next N days instead of --start/--end")
	f.StringVar(&opts.tz, "tz", "", "IANA time zone (default: availability.timezone)")
	f.StringVar(&opts.hours, "hours", "", "working hours as HH:MM-HH:MM")
	f.DurationVar(&opts.minDuration, "min", 0, "drop slots shorter than this (default: availability.min_duration)")
	f.BoolVar(&opts.json, "json", false, "print JSON")
	f.StringVar(&opts.icsPath, "ics", "", "also write the free slots to this ICS file")
	cmd.MarkFlagsMutuallyExclusive("days", "start")
	cmd.MarkFlagsMutuallyExclusive("days", "end")

	return cmd
}

func (o *slotsOptions) query(daysSet bool) (availability.Query, error) {
	q := availability.Query{Timezone: o.tz}

	if daysSet {
		days := o.days
		q.Days = &days
	} else {
		if o.start == "" {
			return q, fmt.Errorf("either --start or --days is required")
		}
		q.StartDate = o.start
		q.EndDate = o.end
		if q.EndDate == "" {
			q.EndDate = o.start
		}
	}

	if o.hours != "" {
		start, end, ok := strings.Cut(o.hours, "-")
		if !ok {
			return q, fmt.Errorf("--hours must look like 09:00-18:00, got %q", o.hours)
		}
		q.WorkStart = strings.TrimSpace(start)
		q.WorkEnd = strings.TrimSpace(end)
	}
	return q, nil
}

func runSlots(cmd *cobra.Command, root *rootOptions, opts *slotsOptions, q availability.Query) error {
	ctx := cmd.Context()

	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	defaults, err := serviceDefaults(cfg.Availability)
	if err != nil {
		return err
	}
	if opts.minDuration > 0 {
		defaults.MinDuration = opts.minDuration
	}

	syncer, err := sync.NewSyncer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create syncer: %w", err)
	}
	defer syncer.Close()

	res, err := availability.NewService(syncer, defaults).FreeSlots(ctx, q)
	if err != nil {
		return err
	}
	loc, err := tzclock.Load(res.Zone)
	if err != nil {
		return err
	}

	if opts.icsPath != "" {
		if err := calendar.WriteICS(opts.icsPath, slotEvents(res.Slots)); err != nil {
			return fmt.Errorf("write %s: %w", opts.icsPath, err)
		}
	}

	out := cmd.OutOrStdout()
	if opts.json {
		return writeSlotsJSON(out, res, loc)
	}
	writeSlotsTable(out, res, loc)
	return nil
}

type slotOutput struct {
	Start           string `json:"start"`
	End             string `json:"end"`
	DurationMinutes int    `json:"durationMinutes"`
}

type slotsOutput struct {
	StartDate string       `json:"startDate"`
	EndDate   string       `json:"endDate"`
	Timezone  string       `json:"timezone"`
	Count     int          `json:"count"`
	FreeSlots []slotOutput `json:"freeSlots"`
}

func writeSlotsJSON(w io.Writer, res *availability.Result, loc *time.Location) error {
	out := slotsOutput{
		StartDate: res.Range.Start.String(),
		EndDate:   res.Range.End.String(),
		Timezone:  res.Zone,
		Count:     len(res.Slots),
		FreeSlots: make([]slotOutput, 0, len(res.Slots)),
	}
	for _, s := range res.Slots {
		out.FreeSlots = append(out.FreeSlots, slotOutput{
			Start:           s.Start.In(loc).Format(time.RFC3339),
			End:             s.End.In(loc).Format(time.RFC3339),
			DurationMinutes: int(s.Duration() / time.Minute),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeSlotsTable(w io.Writer, res *availability.Result, loc *time.Location) {
	fmt.Fprintf(w, "Free slots %s to %s (%s)\n", res.Range.Start, res.Range.End, res.Zone)
	if len(res.Slots) == 0 {
		fmt.Fprintln(w, "No free slots.")
		return
	}

	re := lipgloss.NewRenderer(w)
	header := re.NewStyle().Bold(true).Padding(0, 1)
	cell := re.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("DATE", "START", "END", "DURATION").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})

	for _, s := range res.Slots {
		start := s.Start.In(loc)
		t.Row(
			start.Format("Mon 2006-01-02"),
			start.Format("15:04"),
			s.End.In(loc).Format("15:04"),
			formatDuration(s.Duration()),
		)
	}
	fmt.Fprintln(w, t.Render())
}

func formatDuration(d time.Duration) string {
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	switch {
	case h == 0:
		return fmt.Sprintf("%dm", m)
	case m == 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dh%02dm", h, m)
	}
}

// slotEvents renders free slots as events for ICS export.
func slotEvents(slots []availability.FreeSlot) []calendar.Event {
	events := make([]calendar.Event, 0, len(slots))
	for _, s := range slots {
		events = append(events, calendar.Event{
			UID:         fmt.Sprintf("free-%d@calslots", s.Start.Unix()),
			Summary:     "Free",
			Start:       s.Start.UTC(),
			End:         s.End.UTC(),
			Transparent: true,
			Source:      "calslots",
		})
	}
	return events
}
