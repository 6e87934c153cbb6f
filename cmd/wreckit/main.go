// Command wreckit is the CLI front end for the autonomous engineering
// orchestrator: item management, the worker-pool run loop, one
// subcommand per phase for manual stepping, and the doctor/learn/docs
// utilities.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v3"

	"github.com/mikehostetler/wreckit/internal/config"
	"github.com/mikehostetler/wreckit/internal/dispatch"
	"github.com/mikehostetler/wreckit/internal/docs"
	"github.com/mikehostetler/wreckit/internal/gitlifecycle"
	"github.com/mikehostetler/wreckit/internal/item"
	"github.com/mikehostetler/wreckit/internal/learn"
	"github.com/mikehostetler/wreckit/internal/logging"
	"github.com/mikehostetler/wreckit/internal/orchestrator"
	"github.com/mikehostetler/wreckit/internal/phaserunner"
	"github.com/mikehostetler/wreckit/internal/sandbox"
	"github.com/mikehostetler/wreckit/internal/scaffold"
	"github.com/mikehostetler/wreckit/internal/skills"
	"github.com/mikehostetler/wreckit/internal/statemachine"
	"github.com/mikehostetler/wreckit/internal/templates"
	"github.com/mikehostetler/wreckit/internal/ux"
	"github.com/mikehostetler/wreckit/internal/wreckerr"
)

func main() {
	app := &cli.Command{
		Name:        "wreckit",
		Usage:       "Autonomous engineering orchestrator",
		Description: "Run 'wreckit docs' for documentation on configuration, phases, and templates.",
		Commands: []*cli.Command{
			initCmd(),
			addCmd(),
			ideasCmd(),
			listCmd(),
			showCmd(),
			runCmd(),
			phaseCmd(statemachine.PhaseResearch),
			phaseCmd(statemachine.PhasePlan),
			phaseCmd(statemachine.PhaseImplement),
			phaseCmd(statemachine.PhasePR),
			phaseCmd(statemachine.PhaseComplete),
			doctorCmd(),
			learnCmd(),
			docsCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%serror:%s %v\n", ux.Red, ux.Reset, err)
		os.Exit(wreckerr.ExitCode(err))
	}
}

// findProjectRoot walks up from cwd looking for .wreckit/config.json.
// WRECKIT_HOME short-circuits the walk and names the root directly.
func findProjectRoot() (string, error) {
	if home := os.Getenv("WRECKIT_HOME"); home != "" {
		if _, err := os.Stat(filepath.Join(home, ".wreckit", "config.json")); err != nil {
			return "", fmt.Errorf("WRECKIT_HOME is set but %s has no .wreckit/config.json", home)
		}
		return home, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		configPath := filepath.Join(dir, ".wreckit", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no .wreckit/config.json found (searched from cwd to root)")
		}
		dir = parent
	}
}

// wreckitDir returns <root>/.wreckit.
func wreckitDir(root string) string { return filepath.Join(root, ".wreckit") }

// buildRunner assembles everything RunPhase/Orchestrator need from an
// on-disk project root: the resolved config, item store, skills, git
// lifecycle, sandbox manager, and template loader.
func buildRunner(root string) (*phaserunner.Runner, *item.Store, *config.Configuration, *gitlifecycle.Lifecycle, *sandbox.Manager, error) {
	cfg, err := config.Load(filepath.Join(wreckitDir(root), "config.json"))
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := dispatch.Preflight(cfg.Agent); err != nil {
		return nil, nil, nil, nil, nil, err
	}
	for _, name := range dispatch.MissingEnv(cfg.Agent) {
		logging.Root.Warn("agent backend env var is not set", "var", name)
	}

	store := item.New(wreckitDir(root))

	skillSet, err := skills.Load(filepath.Join(wreckitDir(root), "skills.json"))
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("loading skills: %w", err)
	}

	git := gitlifecycle.New(root)

	var sb *sandbox.Manager
	if cfg.Sandbox.Enabled {
		sb = sandbox.NewManager(sandbox.DefaultConfig())
		dispatch.RegisterVMProvisioner(sb)
	}

	tmpl := templates.New(root)

	runner := &phaserunner.Runner{
		Store:     store,
		Config:    cfg,
		Templates: tmpl,
		Skills:    skillSet,
		RepoRoot:  root,
		Agent:     dispatch.DefaultRunner{},
	}

	return runner, store, cfg, git, sb, nil
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Initialize a new .wreckit/ directory with a default config",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "ai", Usage: "generate phase templates tailored to this project via an agent"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root, err := os.Getwd()
			if err != nil {
				return err
			}
			dir := wreckitDir(root)
			if err := os.MkdirAll(filepath.Join(dir, "items"), 0o755); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Join(dir, "templates"), 0o755); err != nil {
				return err
			}
			cfgPath := filepath.Join(dir, "config.json")
			if _, err := os.Stat(cfgPath); err == nil {
				fmt.Printf("%s already exists\n", cfgPath)
				return nil
			}
			defaultCfg := &config.Configuration{
				BaseBranch:   "main",
				BranchPrefix: "wreckit/",
				MergeMode:    config.MergePR,
				Agent: &dispatch.AgentConfig{
					Kind:    dispatch.BackendProcess,
					Process: &dispatch.ProcessParams{Command: "claude", Args: []string{"-p"}},
				},
			}
			if err := config.Save(cfgPath, defaultCfg); err != nil {
				return fmt.Errorf("writing default config: %w", err)
			}
			fmt.Printf("%sInitialized%s %s\n", ux.Green, ux.Reset, dir)

			if cmd.Bool("ai") {
				if err := scaffold.Init(ctx, root); err != nil {
					return fmt.Errorf("AI-assisted init: %w", err)
				}
			}
			return nil
		},
	}
}

func addCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Add a new item",
		ArgsUsage: "<title>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "section", Value: "default", Usage: "Section to file the item under"},
			&cli.StringFlag{Name: "overview", Usage: "Free-form overview text"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			title := cmd.Args().First()
			if title == "" {
				return fmt.Errorf("title argument is required")
			}
			root, err := findProjectRoot()
			if err != nil {
				return err
			}
			store := item.New(wreckitDir(root))
			id, err := store.Create(cmd.String("section"), title, cmd.String("overview"))
			if err != nil {
				return err
			}
			fmt.Printf("%s%s%s\n", ux.Green, id, ux.Reset)
			return nil
		},
	}
}

func ideasCmd() *cli.Command {
	return &cli.Command{
		Name:      "ideas",
		Usage:     "Ingest a batch of ideas from a free-form text file via an agent",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "section", Value: "default"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				return fmt.Errorf("file argument is required")
			}
			root, err := findProjectRoot()
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			runner, store, cfg, _, _, err := buildRunner(root)
			if err != nil {
				return err
			}

			fmt.Printf("parsing %d bytes of ideas from %s...\n", len(raw), path)
			ids, err := ingestIdeas(ctx, store, runner.Agent, cfg, root, raw, cmd.String("section"))
			if err != nil {
				return err
			}
			fmt.Printf("%screated %d item(s)%s\n", ux.Green, len(ids), ux.Reset)
			for _, id := range ids {
				fmt.Println(" ", id)
			}
			return nil
		},
	}
}

func listCmd() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List items",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "state", Usage: "Filter by state"},
			&cli.StringFlag{Name: "section", Usage: "Filter by section"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root, err := findProjectRoot()
			if err != nil {
				return err
			}
			store := item.New(wreckitDir(root))
			items, err := store.List(item.Filter{
				State:   item.State(cmd.String("state")),
				Section: cmd.String("section"),
			})
			if err != nil {
				return err
			}
			ux.RenderList(items)
			return nil
		},
	}
}

func showCmd() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show an item's full status",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("id argument is required")
			}
			root, err := findProjectRoot()
			if err != nil {
				return err
			}
			store := item.New(wreckitDir(root))
			it, err := store.Read(id)
			if err != nil {
				return err
			}
			timing, err := phaserunner.LoadTiming(store.Dir(id))
			var view *struct{ Entries []ux.TimingView }
			if err == nil && timing != nil {
				entries := make([]ux.TimingView, len(timing.Entries))
				for i, e := range timing.Entries {
					entries[i] = ux.TimingView{Phase: e.Phase, Duration: e.Duration}
				}
				view = &struct{ Entries []ux.TimingView }{Entries: entries}
			}
			ux.RenderStatus(it, view)
			return nil
		},
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run one item (or every runnable item) through its remaining phases",
		ArgsUsage: "[<id>]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "Run every runnable item (the default when no id is given)"},
			&cli.StringFlag{Name: "phase", Usage: "Run only this phase (requires an id)"},
			&cli.StringFlag{Name: "agent", Usage: "Override the configured agent backend kind for this run"},
			&cli.BoolFlag{Name: "sandbox", Usage: "Wrap the agent in an ephemeral sandbox VM"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Skip agent invocation; report synthetic successes"},
			&cli.BoolFlag{Name: "mock-agent", Usage: "Use the mock agent backend"},
			&cli.BoolFlag{Name: "verbose", Usage: "Enable debug logging"},
			&cli.IntFlag{Name: "workers", Usage: "Override config's workers count"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if os.Getenv("CLAUDECODE") != "" {
				return fmt.Errorf("wreckit cannot run inside Claude Code (CLAUDECODE env var is set); run from a regular terminal")
			}
			if cmd.Bool("verbose") {
				logging.SetVerbose()
			}
			root, err := findProjectRoot()
			if err != nil {
				return err
			}
			runner, store, cfg, git, sb, err := buildRunner(root)
			if err != nil {
				return err
			}
			runner.Dry = cmd.Bool("dry-run")
			runner.Mock = cmd.Bool("mock-agent")
			if w := cmd.Int("workers"); w > 0 {
				cfg.Workers = int(w)
			}
			if kind := cmd.String("agent"); kind != "" {
				if err := overrideAgentKind(cfg, kind); err != nil {
					return err
				}
			}
			if cmd.Bool("sandbox") {
				if sb == nil {
					sb = sandbox.NewManager(sandbox.DefaultConfig())
					dispatch.RegisterVMProvisioner(sb)
				}
				cfg.Agent = &dispatch.AgentConfig{
					Kind: dispatch.BackendSprite,
					Sprite: &dispatch.SpriteParams{
						VMNamePrefix: cfg.Sandbox.VMNamePrefix,
						SyncBack:     true,
						Inner:        cfg.Agent,
					},
				}
			}

			orch := orchestrator.New(store, runner, cfg, git, sb)

			id := cmd.Args().First()
			if phase := cmd.String("phase"); phase != "" && id == "" {
				return fmt.Errorf("--phase requires an item id")
			}

			var results []orchestrator.Result
			if id != "" {
				results, err = orch.RunItem(ctx, id, cmd.String("phase"))
			} else {
				results, err = orch.Run(ctx)
			}
			if errors.Is(err, context.Canceled) {
				err = wreckerr.Wrap(wreckerr.KindInterrupted, "run interrupted", err)
			}

			var completed, failed int
			for _, r := range results {
				if r.Err != nil {
					failed++
				} else {
					completed++
				}
			}
			ux.Success(completed, failed)
			return err
		},
	}
}

// overrideAgentKind swaps cfg.Agent's backend for the --agent flag's kind,
// reusing the configured params when the kinds line up and defaulting them
// otherwise. Kinds whose params cannot be defaulted (rlm, sprite) must be
// configured in config.json instead.
func overrideAgentKind(cfg *config.Configuration, kind string) error {
	k := dispatch.BackendKind(kind)
	if cfg.Agent != nil && cfg.Agent.Kind == k {
		return nil
	}
	switch k {
	case dispatch.BackendProcess:
		params := &dispatch.ProcessParams{Command: "claude", Args: []string{"-p"}}
		if cfg.Agent != nil && cfg.Agent.Process != nil {
			params = cfg.Agent.Process
		}
		cfg.Agent = &dispatch.AgentConfig{Kind: k, Process: params}
	case dispatch.BackendClaudeSDK, dispatch.BackendCodexSDK, dispatch.BackendAmpSDK, dispatch.BackendOpenCodeSDK:
		params := &dispatch.SDKParams{PermissionMode: dispatch.PermissionDefault}
		if cfg.Agent != nil && cfg.Agent.SDK != nil {
			params = cfg.Agent.SDK
		}
		cfg.Agent = &dispatch.AgentConfig{Kind: k, SDK: params}
	case dispatch.BackendRLM, dispatch.BackendSprite:
		return fmt.Errorf("--agent %s needs parameters only config.json can supply; set it there instead", kind)
	default:
		return wreckerr.WithSub(wreckerr.KindConfig, wreckerr.SubUnknownBackend,
			"unknown agent backend kind: "+kind, nil)
	}
	return cfg.Agent.Validate()
}

// phaseCmd builds the single-phase subcommands (research/plan/implement/
// pr/complete <id>) that run exactly one phase of one item without the
// worker pool, for manual stepping and debugging.
func phaseCmd(phase string) *cli.Command {
	return &cli.Command{
		Name:      phase,
		Usage:     fmt.Sprintf("Run the %s phase for one item", phase),
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("id argument is required")
			}
			root, err := findProjectRoot()
			if err != nil {
				return err
			}
			runner, _, _, _, _, err := buildRunner(root)
			if err != nil {
				return err
			}
			it, outcome, err := runner.RunPhase(ctx, id, phase)
			if err != nil {
				ux.PhaseFail(id, phase, err.Error())
				return err
			}
			if outcome == phaserunner.OutcomeRejectedCritique {
				ux.CritiqueRejected(id, phase, it.CritiqueRounds[phase], runner.Config.CritiqueMaxRounds)
			} else {
				ux.PhaseComplete(id, phase, 0)
			}
			return nil
		},
	}
}

// doctorCmd checks that the environment can run wreckit; the diagnostic engine itself is an out-of-scope
// external collaborator, so this stays a precondition check,
// not an AI-driven failure analysis.
func doctorCmd() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Check that the environment can run wreckit",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "fix", Usage: "recreate any missing .wreckit/ directories"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root, err := findProjectRoot()
			if err != nil {
				return err
			}
			dir := wreckitDir(root)

			if cmd.Bool("fix") {
				for _, sub := range []string{"items", "templates"} {
					if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
						return fmt.Errorf("fixing %s: %w", sub, err)
					}
				}
			}

			cfg, err := config.Load(filepath.Join(dir, "config.json"))
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := dispatch.Preflight(cfg.Agent); err != nil {
				return fmt.Errorf("agent backend: %w", err)
			}
			fmt.Printf("%sconfig OK, agent backend reachable%s\n", ux.Green, ux.Reset)
			return nil
		},
	}
}

// learnCmd aggregates the timing and critique history already recorded
// per item across the whole store. --item scopes to a single item;
// --phase filters the printed table to one phase; --all is the default
// (and accepted as a no-op flag for parity with the documented surface).
func learnCmd() *cli.Command {
	return &cli.Command{
		Name:  "learn",
		Usage: "Summarize phase timing and retry history across items",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all"},
			&cli.StringFlag{Name: "item", Usage: "scope to a single item id"},
			&cli.StringFlag{Name: "phase", Usage: "only print this phase's row"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			root, err := findProjectRoot()
			if err != nil {
				return err
			}
			store := item.New(wreckitDir(root))

			if id := cmd.String("item"); id != "" {
				timing, err := phaserunner.LoadTiming(store.Dir(id))
				if err != nil {
					return err
				}
				for _, e := range timing.Entries {
					if p := cmd.String("phase"); p != "" && p != e.Phase {
						continue
					}
					fmt.Printf("%-12s retry=%d duration=%s\n", e.Phase, e.Retry, e.Duration)
				}
				return nil
			}

			report, err := learn.Collect(store)
			if err != nil {
				return err
			}
			if p := cmd.String("phase"); p != "" {
				var filtered []learn.PhaseStat
				for _, s := range report.Phases {
					if s.Phase == p {
						filtered = append(filtered, s)
					}
				}
				report.Phases = filtered
			}
			fmt.Print(learn.Render(report))
			return nil
		},
	}
}

func docsCmd() *cli.Command {
	return &cli.Command{
		Name:      "docs",
		Usage:     "Print documentation on a topic",
		ArgsUsage: "[topic]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			name := cmd.Args().First()
			if name == "" {
				for _, t := range docs.All() {
					fmt.Printf("  %-16s %s\n", t.Name, t.Summary)
				}
				return nil
			}
			t, err := docs.Get(name)
			if err != nil {
				return err
			}
			fmt.Print(t.Content)
			return nil
		},
	}
}
