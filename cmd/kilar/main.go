package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/polidog/kilar/internal/config"
	"github.com/polidog/kilar/internal/output"
	"github.com/polidog/kilar/internal/portcache"
	"github.com/polidog/kilar/internal/procnet"
	"github.com/polidog/kilar/internal/strategy"
	"github.com/polidog/kilar/internal/toolchain"
	"github.com/polidog/kilar/pkg/errdefs"
)

// To embed version, commit, and build date, use:
// go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse --short HEAD) -X 'main.buildDate=$(date +%Y-%m-%d)'" -o kilar ./cmd/kilar
var (
	version   = ""
	commit    = ""
	buildDate = ""
)

var (
	app = kingpin.New("kilar", "Port process management CLI tool")

	quietFlag   = app.Flag("quiet", "Suppress output").Short('q').Bool()
	jsonFlag    = app.Flag("json", "Output in JSON format").Short('j').Bool()
	verboseFlag = app.Flag("verbose", "Enable verbose output").Short('v').Bool()
	configFlag  = app.Flag("config", "Path to the configuration file").String()

	checkCmd   = app.Command("check", "Check port usage status")
	checkPort  = checkCmd.Arg("port", "Port number to check").Required().Uint16()
	checkProto = checkCmd.Flag("protocol", "Protocol (tcp/udp)").Short('p').Default("tcp").String()

	killCmd   = app.Command("kill", "Kill process using specified port")
	killPort  = killCmd.Arg("port", "Port number used by the process to kill").Required().Uint16()
	killForce = killCmd.Flag("force", "Force kill without confirmation").Short('f').Bool()
	killProto = killCmd.Flag("protocol", "Protocol (tcp/udp)").Short('p').Default("tcp").String()

	listCmd     = app.Command("list", "List ports in use")
	listRange   = listCmd.Flag("ports", "Port range to filter (e.g., 3000-4000)").Short('r').String()
	listFilter  = listCmd.Flag("filter", "Filter by process name").Short('f').String()
	listSort    = listCmd.Flag("sort", "Sort order (port/pid/name)").Short('s').Default("port").String()
	listProto   = listCmd.Flag("protocol", "Protocol (tcp/udp/all)").Short('p').Default("tcp").String()
	listProfile = listCmd.Flag("profile", "Resolution profile (fast/balanced/complete)").String()
	listWatch   = listCmd.Flag("watch", "Watch mode - continuously monitor port changes").Bool()
	listHistory = listCmd.Flag("history", "SQLite file for recorded port changes").String()
)

// env carries the wired-up components into the command handlers.
type env struct {
	cache  *portcache.Cache
	sel    *strategy.Selector
	render *output.Renderer
	log    *logrus.Logger
	cfg    config.Config

	jsonOut bool
	quiet   bool
	verbose bool
	tty     bool
	stdin   *os.File
}

func main() {
	if version == "" {
		version = "dev"
	}
	app.Version(versionString())
	app.HelpFlag.Short('h')

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.WarnLevel)
	if *verboseFlag {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fatal(err)
	}

	e, err := newEnv(cfg, log)
	if err != nil {
		fatal(err)
	}

	ctx := context.Background()
	switch command {
	case checkCmd.FullCommand():
		err = runCheck(ctx, e, *checkPort, *checkProto)
	case killCmd.FullCommand():
		err = runKill(ctx, e, *killPort, *killProto, *killForce)
	case listCmd.FullCommand():
		err = runList(ctx, e, listOptions{
			portRange: *listRange,
			filter:    *listFilter,
			sort:      *listSort,
			protocol:  *listProto,
			profile:   *listProfile,
			watch:     *listWatch,
			history:   *listHistory,
		})
	}
	if err != nil {
		fatal(err)
	}
}

func newEnv(cfg config.Config, log *logrus.Logger) (*env, error) {
	kernel := procnet.New("/proc", log)
	tools := toolchain.New(log)
	if cfg.CommandTimeout > 0 {
		tools.Timeout = cfg.CommandTimeout
	}
	if *verboseFlag {
		events := make(chan toolchain.Event, 16)
		tools.Progress = events
		go func() {
			for ev := range events {
				if ev.Fallback {
					log.WithField("tool", ev.Tool).WithError(ev.Err).Debug("falling back")
				} else {
					log.WithField("tool", ev.Tool).Debug("querying tool")
				}
			}
		}()
	}

	profile := strategy.Balanced
	if cfg.Profile != "" {
		p, ok := strategy.ParseProfile(cfg.Profile)
		if !ok {
			return nil, errdefs.ParseFailuref("config: unknown profile %q", cfg.Profile)
		}
		profile = p
	}

	sel := strategy.New(kernel, tools, profile, log)
	cache := portcache.New(sel, log)
	if cfg.UpdateInterval > 0 {
		cache.SetUpdateInterval(cfg.UpdateInterval)
	}

	tty := isatty.IsTerminal(os.Stdout.Fd())
	color := tty && !cfg.NoColor && os.Getenv("NO_COLOR") == ""

	return &env{
		cache:   cache,
		sel:     sel,
		render:  output.NewRenderer(os.Stdout, os.Stderr, color, *quietFlag),
		log:     log,
		cfg:     cfg,
		jsonOut: *jsonFlag,
		quiet:   *quietFlag,
		verbose: *verboseFlag,
		tty:     tty,
		stdin:   os.Stdin,
	}, nil
}

func versionString() string {
	s := version
	if commit != "" {
		s += " (" + commit
		if buildDate != "" {
			s += ", built " + buildDate
		}
		s += ")"
	}
	return s
}

func fatal(err error) {
	msg := fmt.Sprintf("Error: %v", err)
	if isatty.IsTerminal(os.Stderr.Fd()) && os.Getenv("NO_COLOR") == "" {
		fmt.Fprintf(os.Stderr, "\033[31m%s\033[0m\n", msg)
	} else {
		fmt.Fprintln(os.Stderr, msg)
	}
	if errdefs.IsPermissionDenied(err) {
		fmt.Fprintf(os.Stderr, "Insufficient permissions. Try:\n  sudo %s\n", strings.Join(os.Args, " "))
	}
	os.Exit(1)
}
