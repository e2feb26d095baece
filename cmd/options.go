// Copyright © 2024 The ELPS authors

package cmd

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/cockroachdb/errors"
	"github.com/luthersystems/testview/controller"
	"github.com/luthersystems/testview/dapstream"
	"github.com/luthersystems/testview/diagnostic"
	"github.com/luthersystems/testview/outline"
	"github.com/luthersystems/testview/results"
	"github.com/luthersystems/testview/session"
	"github.com/luthersystems/testview/telemetry"
	"github.com/luthersystems/testview/view"
	"github.com/muesli/termenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Settings are the configuration values shared by all commands.  They
// are read from flags, TESTVIEW_* environment variables and the config
// file, in that order of precedence.
type Settings struct {
	Color       string `mapstructure:"color"`
	HideSkipped bool   `mapstructure:"hide-skipped"`
	OnlyActive  bool   `mapstructure:"only-active"`
	OnlyFailed  bool   `mapstructure:"only-failed"`
	ShowErrors  bool   `mapstructure:"show-errors"`
	Width       int    `mapstructure:"width"`
	LogLevel    string `mapstructure:"log-level"`
	Telemetry   string `mapstructure:"telemetry"`
	EventName   string `mapstructure:"event-name"`
	Separator   string `mapstructure:"separator"`
	SourceRoot  string `mapstructure:"source-root"`
}

func loadSettings() (Settings, error) {
	viper.SetDefault("color", "auto")
	viper.SetDefault("log-level", "warn")
	viper.SetDefault("telemetry", "none")
	viper.SetDefault("event-name", dapstream.DefaultEventName)
	viper.SetDefault("separator", outline.DefaultSeparator)
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return s, errors.Wrap(err, "reading settings")
	}
	return s, nil
}

// ViewOptions returns the rendering options of s.
func (s Settings) ViewOptions() view.Options {
	return view.Options{
		HideSkipped: s.HideSkipped,
		OnlyActive:  s.OnlyActive,
		OnlyFailed:  s.OnlyFailed,
		ShowErrors:  s.ShowErrors,
		Color:       s.Color != "never",
		Width:       s.Width,
	}
}

// DiagnosticColor returns the color mode of failure reports.
func (s Settings) DiagnosticColor() diagnostic.ColorMode {
	switch strings.ToLower(s.Color) {
	case "always":
		return diagnostic.ColorAlways
	case "never":
		return diagnostic.ColorNever
	}
	return diagnostic.ColorAuto
}

// failureRenderer returns the renderer of failure reports.
func (s Settings) failureRenderer() *diagnostic.Renderer {
	return &diagnostic.Renderer{Color: s.DiagnosticColor(), Root: s.SourceRoot}
}

// Option configures an exported command factory (RenderCommand,
// DAPCommand, REPLCommand).
type Option func(*cmdConfig)

type cmdConfig struct {
	observer session.Observer
	outlines *outline.Registry
}

// WithObserver adds an observer notified of every session a command
// runs, next to the one selected by the telemetry setting.
func WithObserver(obs session.Observer) Option {
	return func(c *cmdConfig) { c.observer = obs }
}

// WithOutlines injects the outline registry of the result tree.
// Embedders that compute outlines themselves register them here.
func WithOutlines(reg *outline.Registry) Option {
	return func(c *cmdConfig) { c.outlines = reg }
}

func newCmdConfig(opts []Option) *cmdConfig {
	var cfg cmdConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &cfg
}

// stack is a result tree with the services commands run on it.
type stack struct {
	settings Settings
	log      *logrus.Logger
	outlines *outline.Registry
	tree     *results.Tree
	tracker  *session.Tracker
	ctrl     *controller.Controller
}

func (c *cmdConfig) newStack(logOut io.Writer) (*stack, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(logOut)
	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "log-level")
	}
	log.SetLevel(level)
	switch strings.ToLower(s.Color) {
	case "always":
		lipgloss.SetColorProfile(termenv.ANSI256)
	case "never":
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	obs, err := observer(s.Telemetry, c.observer)
	if err != nil {
		return nil, err
	}
	reg := c.outlines
	if reg == nil {
		reg = outline.NewRegistry()
	}
	tree := results.New(
		results.WithOutline(reg),
		results.WithSeparator(s.Separator),
		results.WithLogger(log),
	)
	st := &stack{
		settings: s,
		log:      log,
		outlines: reg,
		tree:     tree,
		tracker:  session.NewTracker(tree, session.WithLogger(log), session.WithObserver(obs)),
		ctrl: controller.New(tree,
			controller.WithLogger(log),
			controller.WithViewOptions(s.ViewOptions()),
			controller.WithNotifier(controller.NotifierFunc(func(a controller.Advisory) {
				log.Warn(a.Message)
			}))),
	}
	return st, nil
}

func observer(name string, extra session.Observer) (session.Observer, error) {
	var obs []session.Observer
	switch strings.ToLower(name) {
	case "", "none":
	case "opentelemetry", "otel":
		obs = append(obs, telemetry.NewOpenTelemetry())
	case "opencensus":
		obs = append(obs, telemetry.NewOpenCensus())
	default:
		return nil, errors.Newf("unknown telemetry %q", name)
	}
	if extra != nil {
		obs = append(obs, extra)
	}
	switch len(obs) {
	case 0:
		return session.NopObserver{}, nil
	case 1:
		return obs[0], nil
	}
	return telemetry.Multi(obs...), nil
}

// loadOutlines installs outlines given as FILE=PATH pairs.
func (st *stack) loadOutlines(specs []string) error {
	for _, spec := range specs {
		file, path, ok := strings.Cut(spec, "=")
		if !ok || file == "" || path == "" {
			return errors.Newf("outline %q: want FILE=PATH", spec)
		}
		f, err := outline.Load(path)
		if err != nil {
			return err
		}
		st.outlines.Set(file, f)
		st.log.WithField("suite", file).Debugf("cmd: outline with %d declarations", f.Count())
	}
	return nil
}

// replay feeds the event logs at paths to sessions of the stack.  A log
// that ends without a done event keeps the results it delivered.
func (st *stack) replay(ctx context.Context, paths []string) error {
	for _, path := range paths {
		f, err := os.Open(path) //#nosec G304
		if err != nil {
			return errors.Wrap(err, "opening event log")
		}
		s, err := st.tracker.Replay(ctx, f, session.Request{Fresh: true})
		_ = f.Close()
		if errors.Is(err, session.ErrStreamEnded) {
			st.log.WithField("log", path).Warn("cmd: event log ends before the run completed")
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "replaying %s", path)
		}
		st.log.WithField("log", path).Debugf("cmd: %+v", s.Stats())
	}
	return nil
}
