package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"imagetool/internal/banner"
	"imagetool/internal/cli"
	"imagetool/internal/config"
	"imagetool/internal/domain"
	"imagetool/internal/gateway"
	"imagetool/internal/imagemage"
	"imagetool/internal/secrets"
	"imagetool/internal/security"
	"imagetool/internal/signals"
	"imagetool/internal/tooling"
)

// buildMeta holds version and build metadata (injectable via ldflags).
type buildMeta struct {
	Version string
	GoOS    string
	GoArch  string
}

func newBuildMeta(version, goos, goarch string) buildMeta {
	if goos == "" {
		goos = runtime.GOOS
	}
	if goarch == "" {
		goarch = runtime.GOARCH
	}
	return buildMeta{Version: version, GoOS: goos, GoArch: goarch}
}

func (m buildMeta) String() string {
	return fmt.Sprintf("imagetool %s %s/%s", m.Version, m.GoOS, m.GoArch)
}

// imageFlags are shared by generate and edit.
type imageFlags struct {
	output      string
	aspectRatio string
	resolution  string
	model       string
	style       string
	open        bool
	additional  []string
	asJSON      bool
}

func (f *imageFlags) bind(cmd *cobra.Command, edit bool) {
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output file path (default: unique file in imagemage.outputDir)")
	cmd.Flags().StringVarP(&f.aspectRatio, "aspect", "a", "", "aspect ratio, e.g. 16:9")
	cmd.Flags().StringVarP(&f.resolution, "resolution", "r", "", "resolution: 1K, 2K or 4K")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model tier: pro or flash")
	cmd.Flags().BoolVar(&f.open, "open", false, "open the result in the system viewer")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the full tool result as JSON")
	if edit {
		cmd.Flags().StringArrayVarP(&f.additional, "image", "i", nil, "additional reference image (repeatable)")
	} else {
		cmd.Flags().StringVarP(&f.style, "style", "s", "", "style hint")
	}
}

func (f *imageFlags) input(cmd *cobra.Command, op, prompt, image string) tooling.ImageGenInput {
	in := tooling.ImageGenInput{
		Prompt:           prompt,
		Operation:        op,
		Image:            image,
		AdditionalImages: f.additional,
		OutputPath:       f.output,
		AspectRatio:      f.aspectRatio,
		Resolution:       f.resolution,
		Model:            f.model,
		Style:            f.style,
	}
	if cmd.Flags().Changed("open") {
		open := f.open
		in.AutoOpen = &open
	}
	return in
}

func newRootCommand(bm buildMeta) *cobra.Command {
	var cfgFlag string
	cfgPath := func() string { return config.ResolvePath(cfgFlag) }

	root := &cobra.Command{
		Use:           "imagetool",
		Short:         "Image generation and editing tool for LLM agents",
		Long:          "imagetool exposes the imagemage executable as a generate_image tool, from the command line or over HTTP and WebSocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), bm.String())
				return nil
			}
			return cmd.Help()
		},
	}
	root.Flags().BoolP("version", "V", false, "print version and build metadata")
	root.PersistentFlags().StringVarP(&cfgFlag, "config", "c", "", "config file (default $"+config.EnvPath+" or "+config.DefaultPath+")")

	var gen imageFlags
	generateCmd := &cobra.Command{
		Use:   "generate PROMPT",
		Short: "Generate a new image from a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImage(cmd, cfgPath(), gen.input(cmd, string(imagemage.OpGenerate), args[0], ""), gen.asJSON)
		},
	}
	gen.bind(generateCmd, false)

	var edit imageFlags
	editCmd := &cobra.Command{
		Use:   "edit PROMPT IMAGE",
		Short: "Edit an image (path, file:// URI or URL) following a prompt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImage(cmd, cfgPath(), edit.input(cmd, string(imagemage.OpEdit), args[0], args[1]), edit.asJSON)
		},
	}
	edit.bind(editCmd, true)

	callCmd := &cobra.Command{
		Use:   "call TOOL [ARGS_JSON|-]",
		Short: "Call a tool with JSON arguments, as an LLM host would",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := "{}"
			if len(args) == 2 {
				raw = args[1]
			}
			if raw == "-" {
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				raw = string(b)
			}
			return runCall(cmd, cfgPath(), args[0], json.RawMessage(raw), true)
		},
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the tool definitions (name, description, JSON Schema)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), cfgPath(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()
			out, err := json.MarshalIndent(a.registry.Definitions(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the tools over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, cfgPath(), serveShutdownCh)
		},
	}
	serveCmd.Flags().Int("port", -1, "override gateway.port")
	serveCmd.Flags().Bool("no-banner", false, "skip the startup banner")
	serveCmd.Flags().Bool("no-watch", false, "do not reload when the config file changes")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check config, imagemage binary and directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fix, _ := cmd.Flags().GetBool("fix")
			code := cli.RunCheck(cli.CheckOptions{ConfigPath: cfgPath(), Fix: fix}, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	checkCmd.Flags().Bool("fix", false, "write default config and create missing directories")

	configCmd := &cobra.Command{Use: "config", Short: "Create, show or edit the config file"}
	configAction := func(action string, nargs int) *cobra.Command {
		use := action
		switch nargs {
		case 1:
			use += " PATH"
		case 2:
			use += " PATH VALUE"
		}
		return &cobra.Command{
			Use:  use,
			Args: cobra.ExactArgs(nargs),
			RunE: func(cmd *cobra.Command, args []string) error {
				opts := cli.ConfigOptions{ConfigPath: cfgPath(), Action: action}
				if nargs > 0 {
					opts.Path = args[0]
				}
				if nargs > 1 {
					opts.Value = args[1]
				}
				if code := cli.RunConfig(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
					return exitCodeErr(code)
				}
				return nil
			},
		}
	}
	configCmd.AddCommand(configAction("init", 0), configAction("show", 0), configAction("get", 1), configAction("set", 2), configAction("unset", 1))

	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage encrypted secrets such as " + secrets.GatewayTokenKey,
	}
	secretAction := func(action string, nargs int) *cobra.Command {
		use := action + " KEY"
		if nargs == 2 {
			use += " VALUE|-"
		}
		return &cobra.Command{
			Use:  use,
			Args: cobra.ExactArgs(nargs),
			RunE: func(cmd *cobra.Command, args []string) error {
				opts := cli.SecretOptions{Action: action, Key: args[0]}
				if nargs == 2 {
					opts.Value = args[1]
					if opts.Value == "-" {
						b, err := io.ReadAll(cmd.InOrStdin())
						if err != nil {
							return err
						}
						opts.Value = strings.TrimRight(string(b), "\r\n")
					}
				}
				if code := cli.RunSecret(opts, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
					return exitCodeErr(code)
				}
				return nil
			},
		}
	}
	secretCmd.AddCommand(secretAction("set", 2), secretAction("get", 1), secretAction("delete", 1))

	var hist cli.HistoryOptions
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled invocations (requires journal.url)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hist.ConfigPath = cfgPath()
			if code := cli.RunHistory(cmd.Context(), hist, cmd.OutOrStdout(), cmd.ErrOrStderr()); code != 0 {
				return exitCodeErr(code)
			}
			return nil
		},
	}
	historyCmd.Flags().StringVarP(&hist.Search, "search", "q", "", "only prompts containing all these words")
	historyCmd.Flags().IntVarP(&hist.Limit, "limit", "n", 20, "maximum entries to show")
	historyCmd.Flags().BoolVar(&hist.JSON, "json", false, "print entries as JSON")

	root.AddCommand(generateCmd, editCmd, callCmd, schemaCmd, serveCmd, checkCmd, configCmd, secretCmd, historyCmd)
	return root
}

func runImage(cmd *cobra.Command, cfgPath string, in tooling.ImageGenInput, asJSON bool) error {
	args, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return runCall(cmd, cfgPath, tooling.ImageGenToolName, args, asJSON)
}

func runCall(cmd *cobra.Command, cfgPath, name string, args json.RawMessage, asJSON bool) error {
	a, err := loadApp(cmd.Context(), cfgPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()
	ctx, stop := signals.NotifyContext(cmd.Context())
	defer stop()

	res, err := a.registry.Call(ctx, name, args)
	if err != nil {
		return err
	}
	if !asJSON {
		fmt.Fprintln(cmd.OutOrStdout(), res.Data)
		return nil
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// runServe runs the gateway until a shutdown signal. If shutdownCh is non-nil
// it is used instead of OS signals (for tests).
func runServe(cmd *cobra.Command, cfgPath string, shutdownCh <-chan struct{}) error {
	euidGetter := security.EffectiveUIDGetter()
	if serveEUIDGetter != nil {
		euidGetter = serveEUIDGetter
	}
	if err := security.RequireNonRoot(euidGetter); err != nil {
		return err
	}

	a, err := loadApp(cmd.Context(), cfgPath, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	portFlag, _ := cmd.Flags().GetInt("port")
	if portFlag >= 0 {
		a.cfg.Gateway.Port = portFlag
	}
	live := &liveApp{cur: a, port: a.cfg.Gateway.Port, portFlag: portFlag, logOut: cmd.ErrOrStderr()}
	defer live.close()
	resolveToken(a)
	if _, err := a.pipeline.Invoker().LookupBinary(); err != nil {
		a.logger.Warn("imagemage is not available; tool calls will fail until it is installed", "error", err)
	}

	srv, err := gateway.NewServer(&a.cfg.Gateway, a.registry, gateway.WithLogger(a.logger))
	if err != nil {
		return err
	}
	live.srv = srv

	if noWatch, _ := cmd.Flags().GetBool("no-watch"); !noWatch {
		w := config.NewWatcher(cfgPath, a.logger)
		if err := w.Start(func(cfg *domain.Config) { live.reload(cmd.Context(), cfg) }); err != nil {
			a.logger.Warn("config watch disabled", "path", cfgPath, "error", err)
		} else {
			defer w.Stop()
		}
	}

	if shutdownCh == nil {
		ctx, stop := signals.NotifyContext(cmd.Context())
		defer stop()
		shutdownCh = ctx.Done()
	}

	if noBanner, _ := cmd.Flags().GetBool("no-banner"); !noBanner {
		banner.Startup(cmd.OutOrStdout(), getVersion(), banner.Opts{})
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(shutdownCh) }()

	for i := 0; i < serveBindWaitIterations; i++ {
		if addr := srv.Addr(); addr != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  listen %s\n  ready.\n", addr)
			if serveStarted != nil {
				serveStarted(addr)
			}
			break
		}
		select {
		case err := <-errCh:
			return fmt.Errorf("gateway: %w", err)
		case <-time.After(20 * time.Millisecond):
		}
	}
	return <-errCh
}

func getVersion() string {
	if version != "" {
		return version
	}
	b, err := os.ReadFile("VERSION")
	if err != nil {
		return "dev"
	}
	return strings.TrimSpace(string(b))
}

// version is set at build time via ldflags for build metadata, e.g.:
//
//	go build -ldflags "-X main.version=1.0.0" -o imagetool ./cmd/imagetool
var version string

// serveShutdownCh is set by tests to stop runServe without signals. Production leaves it nil.
var serveShutdownCh <-chan struct{}

// serveEUIDGetter is set by tests to avoid RequireNonRoot failing when tests run as root. Production leaves it nil.
var serveEUIDGetter func() int

// serveStarted is called with the bound address once the gateway listens. Tests set it.
var serveStarted func(addr string)

// serveBindWaitIterations bounds the wait for the gateway to bind before printing ready.
var serveBindWaitIterations = 50

// exitCodeErr carries an exit code for the process. When returned from a command, runApp exits with that code.
type exitCodeErr int

func (e exitCodeErr) Error() string { return fmt.Sprintf("exit %d", int(e)) }
func (e exitCodeErr) ExitCode() int { return int(e) }

// runApp runs the root command with the given args and returns the exit code.
// 2 means the gateway refused to run as root.
func runApp(args []string) int {
	return runAppWith(context.Background(), args, os.Stdin, os.Stdout, os.Stderr)
}

func runAppWith(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	bm := newBuildMeta(version, "", "")
	if bm.Version == "" {
		bm.Version = getVersion()
	}
	root := newRootCommand(bm)
	root.SetArgs(args[1:])
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, security.ErrRunningAsRoot) {
			fmt.Fprintln(stderr, err)
			return 2
		}
		var ec exitCodeErr
		if errors.As(err, &ec) {
			return ec.ExitCode()
		}
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}
