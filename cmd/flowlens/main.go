// Command flowlens opens a pcapng capture and presents its conversations,
// interactively by default or as a printed table with --summary.
package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"flowlens/internal/config"
	"flowlens/internal/core/model"
	"flowlens/internal/loader"
	"flowlens/internal/logging"
	"flowlens/internal/tui"
)

// version is overridden at build time:
// go build -ldflags "-X main.version=v0.1.0" ./cmd/flowlens
var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	logFile    string
	summary    bool
	filter     string
	noNames    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "flowlens: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var opts rootOptions

	cmd := &cobra.Command{
		Use:   "flowlens [flags] <capture.pcapng>",
		Short: "Inspect pcapng captures as conversations",
		Long: "flowlens reads a pcapng capture, groups its frames into " +
			"bidirectional flows and opens an interactive table to browse " +
			"them. With --summary the flow table prints to stdout instead.",
		Args:          cobra.ExactArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.logFile, "log-file", "", "Write logs to this file")
	flags.BoolVar(&opts.summary, "summary", false, "Print the flow table and exit instead of starting the UI")
	flags.StringVarP(&opts.filter, "filter", "f", "", "Only show flows matching this text")
	flags.BoolVar(&opts.noNames, "no-names", false, "Show literal addresses even when the capture carries resolved names")

	return cmd
}

func run(path string, opts rootOptions) error {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	level := cfg.Logging.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logFile := cfg.Logging.File
	if opts.logFile != "" {
		logFile = opts.logFile
	}
	// The interactive view owns the terminal, so logs go to a file
	// unless the run is headless.
	if !opts.summary && logFile == "" {
		logFile = "flowlens.log"
	}
	if _, err := logging.Setup("flowlens", level, logFile); err != nil {
		return err
	}

	preferNames := cfg.UI.PreferNames && !opts.noNames

	if opts.summary {
		return printSummary(os.Stdout, path, opts.filter, preferNames)
	}

	return tui.Start(tui.Options{
		Path:        path,
		Refresh:     time.Duration(cfg.UI.RefreshMS) * time.Millisecond,
		PreferNames: preferNames,
		Version:     version,
	})
}

// printSummary loads the capture to completion and writes the flow table
// in one shot.
func printSummary(w io.Writer, path, filter string, preferNames bool) error {
	ctl := loader.StartLoad(path)

	var res *loader.Result
	for res == nil {
		st := ctl.Poll()
		switch st.State {
		case loader.StateLoaded:
			res = st.Result
		case loader.StateError:
			return st.Err
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	format := &model.FlowFormatter{
		Origin:      res.StartTime,
		HasOrigin:   res.HasStart,
		PreferNames: preferNames,
		Names:       res.Names,
	}
	flowFilter := model.NewFlowFilter(filter, format)

	t := tabwriter.NewWriter(w, 12, 1, 3, ' ', 0)
	fmt.Fprintln(t, "TIMESTAMP\tSOURCE\tDESTINATION\tPROTO\tPACKETS\tBYTES")
	shown := 0
	for _, flow := range model.SortFlows(res.Flows) {
		if !flowFilter.MatchAll() && !flowFilter.Matches(flow) {
			continue
		}
		fmt.Fprintf(t, "%s\t%s\t%s\t%s\t%d\t%d\n",
			format.Timestamp(flow.FirstSeen),
			format.Endpoint(flow.Source),
			format.Endpoint(flow.Destination),
			flow.Proto,
			len(flow.Packets),
			flow.TotalBytes(),
		)
		shown++
	}
	if err := t.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d flows, %d packets\n", shown, res.Packets)
	return nil
}
