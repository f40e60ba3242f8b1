package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"teedops/clients"
	"teedops/config"
	"teedops/database"
	"teedops/ledger"
	"teedops/logger"
	"teedops/output"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	envFile   string
	format    string
	logLevel  string
	dryRun    bool
	assumeYes bool

	cfg *config.Config
	log logger.Logger
	out *output.Formatter
)

// Process streams; tests swap them.
var (
	stdin      io.Reader = os.Stdin
	stdout     io.Writer = os.Stdout
	stderr     io.Writer = os.Stderr
	isTerminal           = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
)

// errReported ends the process with exit code 1 after the failure was already printed.
var errReported = stderrors.New("failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// run executes one command line and returns the process exit code.
func run(ctx context.Context, args []string) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !stderrors.Is(err, errReported) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// newRootCmd builds the command tree. Flag definitions reset the globals they
// bind to their defaults.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "teedops",
		Short:         "Operational toolkit for the Teed.club Supabase backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default: .env.local then .env)")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", "", "output format: human, text or json (default: human on a terminal)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default: LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "compute and print, write nothing")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")

	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(rlsCmd())
	rootCmd.AddCommand(waitlistCmd())
	rootCmd.AddCommand(invitesCmd())
	rootCmd.AddCommand(imagesCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(smokeCmd())
	rootCmd.AddCommand(sqlCmd())
	return rootCmd
}

func setup() error {
	f, err := output.ParseFormat(format)
	if err != nil {
		return err
	}
	out = output.NewFormatterWithWriters(f, stdout, stderr)

	var files []string
	if envFile != "" {
		files = []string{envFile}
	}
	cfg, err = config.LoadConfig(files...)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logFormat := cfg.Logging.Format
	if f == output.FormatJSON {
		logFormat = "json"
	}
	log = logger.NewLogger(level, logFormat)
	return nil
}

func serviceClient() *clients.SupabaseClient {
	return clients.NewSupabaseClient(cfg, cfg.Supabase.ServiceRoleKey, log)
}

// warnKeyRole flags a service key that does not carry the service_role claim.
// Such a key is subject to RLS, so admin tasks would see partial data.
func warnKeyRole() {
	role, err := config.KeyRole(cfg.Supabase.ServiceRoleKey)
	if err != nil {
		out.Warning("cannot read role from SUPABASE_SERVICE_ROLE_KEY: %v", err)
		return
	}
	if role != config.RoleServiceRole {
		out.Warning("SUPABASE_SERVICE_ROLE_KEY has role %q, not %q; results may be filtered by RLS", role, config.RoleServiceRole)
	}
}

// openDB returns nil without error when DATABASE_URL is not configured.
func openDB(ctx context.Context) (*database.PostgresService, error) {
	if !cfg.HasDirectDatabase() {
		return nil, nil
	}
	return database.NewPostgresService(ctx, database.PostgresConfigFromConfig(cfg))
}

// newExecutor builds the direct → exec_sql → manual chain. A direct connection
// that cannot be opened is logged and left out of the chain.
func newExecutor(ctx context.Context) (*database.Executor, func()) {
	var direct database.ScriptRunner
	closeFn := func() {}
	if cfg.HasDirectDatabase() {
		db, err := openDB(ctx)
		if err != nil {
			log.Warn("direct database unavailable", logger.String("error", err.Error()))
		} else {
			direct = db
			closeFn = db.Close
		}
	}
	exec := database.NewExecutor(direct, serviceClient(), log).WithPrintOnly(dryRun)
	return exec, closeFn
}

func openLedger() (*ledger.Ledger, error) {
	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state db %s: %w", cfg.Ledger.Path, err)
	}
	return l, nil
}

// confirm asks before a destructive operation. Without a terminal --yes is required.
func confirm(prompt string) error {
	if assumeYes {
		return nil
	}
	if !isTerminal() {
		return fmt.Errorf("%s: refusing without --yes when stdin is not a terminal", prompt)
	}
	fmt.Fprintf(stderr, "%s [y/N]: ", prompt)
	answer, _ := bufio.NewReader(stdin).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	}
	return fmt.Errorf("aborted")
}

// reportManual prints the SQL block for a ManualRequiredError and reports
// whether err was one.
func reportManual(title string, err error) bool {
	m, ok := database.AsManual(err)
	if !ok {
		return false
	}
	out.Warning("%s: %s", title, m.Reason)
	out.SQLBlock(title, m.SQL)
	return true
}

func isManual(err error) bool {
	_, ok := database.AsManual(err)
	return ok
}
