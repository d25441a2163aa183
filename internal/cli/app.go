// Package cli is the operator command line for the oracle: schema
// migration, key issuance, CPT seeding, offline inference and audits.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Harshitk-cp/bnoracle/internal/backend"
	"github.com/Harshitk-cp/bnoracle/internal/buildconfig"
	"github.com/Harshitk-cp/bnoracle/internal/config"
	"github.com/Harshitk-cp/bnoracle/internal/domain"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// App represents the CLI application.
type App struct {
	root   *cobra.Command
	stdout io.Writer
	stderr io.Writer
	logger *zap.Logger

	// open is swapped in tests to share one backend across commands.
	open func(ctx context.Context, migrate bool) (*backend.Backend, error)
}

func New() *App {
	app := &App{
		stdout: os.Stdout,
		stderr: os.Stderr,
		logger: zap.NewNop(),
	}
	app.open = func(ctx context.Context, migrate bool) (*backend.Backend, error) {
		return backend.Open(ctx, migrate, app.logger)
	}

	app.root = &cobra.Command{
		Use:   "oraclectl",
		Short: "Operate the evidence oracle",
		Long: `oraclectl administers an oracle deployment directly against its store.

It reads the same environment as the server (DATABASE_URL, STORE_BACKEND,
NETWORK_PATH, ...). Commands run as a local operator: they bypass API keys
but still record the operator's name on everything they write.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				l, err := backend.Logger()
				if err != nil {
					return err
				}
				app.logger = l
			}
			return nil
		},
	}
	app.root.PersistentFlags().BoolP("verbose", "v", false, "Log to stderr at LOG_LEVEL")

	app.root.AddCommand(
		app.newVersionCmd(),
		app.newMigrateCmd(),
		app.newActorCmd(),
		app.newCPTCmd(),
		app.newInferCmd(),
		app.newVerifyCmd(),
		app.newEventsCmd(),
	)

	return app
}

// WithOutput sets custom output writers.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.root.ExecuteContext(ctx)
}

// ExecuteWithArgs runs the CLI with specific arguments.
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

// operator is the local identity commands act as.
func operator(roles ...domain.Role) *domain.Actor {
	name := os.Getenv("ORACLE_OPERATOR")
	if name == "" {
		name = "oraclectl"
	}
	return &domain.Actor{Name: name, Roles: roles}
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := buildconfig.Get()
			fmt.Fprintf(a.stdout, "oraclectl version %s\n", info.Version)
			fmt.Fprintf(a.stdout, "  Git commit: %s\n", info.Commit)
			fmt.Fprintf(a.stdout, "  Build date: %s\n", info.BuildDate)
		},
	}
}

func (a *App) newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.open(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(a.stdout, "%s store is up to date\n", db.Kind)
			return nil
		},
	}
}
