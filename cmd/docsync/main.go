package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/docsync/docsync/internal/config"
	"github.com/docsync/docsync/internal/docstate"
	"github.com/docsync/docsync/internal/engine"
	"github.com/docsync/docsync/internal/logging"
	"github.com/docsync/docsync/internal/metrics"
	"github.com/docsync/docsync/internal/svc"
	"github.com/docsync/docsync/internal/uploader"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string

	// Watch command flags
	watchToken string

	// Init command flags
	initBackendURL string
	initOutput     string
	initForce      bool

	// Service mode flag (hidden, used when running as a service)
	serviceRun bool
)

func main() {
	// Check if running as a service (invoked by service manager)
	if svc.IsServiceMode(os.Args) {
		runAsService()
		return
	}

	rootCmd := &cobra.Command{
		Use:   "docsync",
		Short: "DocSync - document library sync agent",
		Long: `DocSync keeps a local document library in step with an ingestion backend.

First-level subdirectories of the library root are buckets; the files
inside them are the documents. The agent uploads new documents one at a
time, follows the backend's processing event stream, and always knows
which documents the backend has finished indexing.

QUICK START:

  # Write a starter config and create the library directory:
  docsync init --backend http://127.0.0.1:8000

  # Put documents in the library and run the agent:
  mkdir -p ~/.docsync/library/acme
  cp report.pdf ~/.docsync/library/acme/
  docsync watch

  # Or install as a system service:
  sudo docsync service install

EVERYDAY COMMANDS:

  docsync status            # per-bucket sync state
  docsync sync              # upload everything unsynced
  docsync dispatch acme     # ask the backend to process a bucket

For more help on any command, use: docsync <command> --help`,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	// Hidden service mode flag (used when running as a service)
	rootCmd.PersistentFlags().BoolVar(&serviceRun, "service-run", false, "Run as a service (internal use)")
	_ = rootCmd.PersistentFlags().MarkHidden("service-run")

	// Watch command
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the sync agent in the foreground",
		Long: `Run the sync agent until interrupted.

The agent subscribes to the backend's processing event stream, keeps an
in-memory view of every document's processing state, uploads documents
that appear in the library, and refreshes the bucket indexes whenever
the backend reports a change.

Examples:
  # Run with the default config (~/.docsync/config.yaml)
  docsync watch

  # Run with an explicit config and token
  docsync watch --config /etc/docsync/config.yaml --token $TOKEN

The token may also be supplied via the DOCSYNC_TOKEN environment
variable. To run unattended, install a system service instead:
  sudo docsync service install`,
		RunE: runWatch,
	}
	watchCmd.Flags().StringVarP(&watchToken, "token", "t", "", "backend auth token (overrides config)")
	rootCmd.AddCommand(watchCmd)

	// Status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show backend connection and per-bucket sync state",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	// Buckets command
	bucketsCmd := &cobra.Command{
		Use:   "buckets [bucket]",
		Short: "List library buckets, or one bucket's documents",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runBuckets,
	}
	rootCmd.AddCommand(bucketsCmd)

	// Sync command
	syncCmd := &cobra.Command{
		Use:   "sync [bucket]",
		Short: "Upload unsynced documents",
		Long: `Upload every local document the backend has not indexed yet.

With a bucket argument only that bucket is synced; otherwise all buckets
are. Uploads run strictly one at a time in arrival order, and a failed
upload never blocks the files behind it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSync,
	}
	rootCmd.AddCommand(syncCmd)

	// Upload command
	uploadCmd := &cobra.Command{
		Use:   "upload <bucket> <file>...",
		Short: "Upload specific files into a bucket",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runUpload,
	}
	rootCmd.AddCommand(uploadCmd)

	// Dispatch command
	dispatchCmd := &cobra.Command{
		Use:   "dispatch [bucket]...",
		Short: "Ask the backend to process unsynced documents",
		Long: `Request backend processing for the unsynced documents of the given
buckets (all buckets when none are named).

Buckets are dispatched in parallel and settled independently: one
bucket's rejection never cancels the others. Buckets with processing
already in flight are skipped.`,
		RunE: runDispatch,
	}
	rootCmd.AddCommand(dispatchCmd)

	// Version command
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("docsync %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Build Time: %s\n", BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	// Init command - generate config and library directory
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize docsync (write config and create the library)",
		Long: `Initialize DocSync by writing a starter configuration file and creating
the library directory.

Examples:
  # Default locations (~/.docsync/config.yaml, ~/.docsync/library)
  docsync init --backend http://127.0.0.1:8000

  # Explicit config location
  docsync init --backend https://ingest.example.com --output /etc/docsync/config.yaml`,
		RunE: runInit,
	}
	initCmd.Flags().StringVar(&initBackendURL, "backend", "", "Backend base URL to write into the config")
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "", "Config file path (default: ~/.docsync/config.yaml)")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)

	// Service command - manage system service
	rootCmd.AddCommand(newServiceCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runAsService runs the agent as a system service.
// This is called when the service manager starts the binary with --service-run.
func runAsService() {
	// Set up logging directly to a file since launchd/kardianos-service
	// may not properly redirect stderr
	setupServiceLogging()

	// Parse the service-specific flags manually
	var configPath string
	for i, arg := range os.Args {
		if (arg == "--config" || arg == "-c") && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		}
	}
	if configPath == "" {
		configPath = svc.DefaultConfigPath()
	}

	log.Info().Str("config", configPath).Msg("starting as service")

	cfg := &svc.Config{ConfigPath: configPath}
	cfg.ApplyDefaults()

	prg := &svc.Program{
		ConfigPath: configPath,
		Run:        runWatchFromService,
	}

	if err := svc.Run(prg, cfg); err != nil {
		log.Fatal().Err(err).Msg("service error")
	}
}

// runWatchFromService runs the agent from within a service.
func runWatchFromService(ctx context.Context, configPath string) error {
	log.Info().Str("config_path", configPath).Msg("agent starting under service manager")

	if configPath == "" {
		return fmt.Errorf("config file required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Apply configured log level
	if cfg.Log.Level != "" {
		logging.Setup(cfg.Log.Level)
	}

	// The installed service delivers the token via its environment;
	// argv is visible in process listings.
	if tok := os.Getenv("DOCSYNC_TOKEN"); tok != "" {
		cfg.Backend.AuthToken = tok
	}

	log.Info().
		Str("backend", cfg.Backend.URL).
		Str("library", cfg.Library.Root).
		Msg("config loaded")

	return runAgent(ctx, cfg)
}

func runWatch(cmd *cobra.Command, args []string) error {
	setupLogging()
	if !serviceRun {
		logStartupBanner()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Config log level applies unless the flag was given explicitly
	if cfg.Log.Level != "" && !cmd.Flags().Changed("log-level") {
		logging.Setup(cfg.Log.Level)
	}

	if watchToken != "" {
		cfg.Backend.AuthToken = watchToken
	} else if tok := os.Getenv("DOCSYNC_TOKEN"); tok != "" {
		cfg.Backend.AuthToken = tok
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("shutting down...")
		cancel()
	}()

	return runAgent(ctx, cfg)
}

// runAgent runs the sync engine until the context is cancelled. Shared by
// the watch command and service mode.
func runAgent(ctx context.Context, cfg *config.Config) error {
	stopLoki := logging.EnableLoki(cfg.Log)
	defer stopLoki()

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("listen", cfg.Metrics.Listen).Msg("metrics listener started")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server error - metrics unavailable")
			}
		}()
	}

	<-ctx.Done()

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	return eng.Close()
}

func runStatus(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Println("Status: not configured")
		fmt.Printf("  Error: %v\n", err)
		return nil
	}

	fmt.Println("DocSync Status")
	fmt.Println("==============")
	fmt.Println()

	fmt.Println("Backend:")
	if cfg.Backend.URL == "" {
		fmt.Println("  URL:    (not configured - run 'docsync init')")
		fmt.Println("  Status: disconnected")
		return nil
	}
	fmt.Printf("  URL:    %s\n", cfg.Backend.URL)

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := eng.Refresh(ctx); err != nil {
		fmt.Println("  Status: unreachable")
		fmt.Printf("  Error:  %v\n", err)
		return nil
	}
	fmt.Println("  Status: connected")

	fmt.Println()

	fmt.Println("Library:")
	fmt.Printf("  Root:       %s\n", cfg.Library.Root)
	fmt.Printf("  Extensions: %s\n", strings.Join(cfg.Library.Extensions, ", "))

	buckets, err := eng.Library().Buckets()
	if err != nil {
		fmt.Printf("  Error:      %v\n", err)
		return nil
	}
	fmt.Printf("  Buckets:    %d\n", len(buckets))

	fmt.Println()

	if len(buckets) == 0 {
		fmt.Println("No buckets yet. Create a subdirectory under the library root and")
		fmt.Println("put documents in it, then run 'docsync sync'.")
		return nil
	}

	fmt.Println("Buckets:")
	for _, bucket := range buckets {
		st, err := eng.Status().StatusFor(bucket)
		if err != nil {
			fmt.Printf("  %-24s error: %v\n", bucket, err)
			continue
		}
		fmt.Printf("  %-24s %d/%d synced  %s\n",
			bucket, st.SyncedCount, st.TotalCount, bucketState(eng, bucket, st))
	}

	fmt.Println()

	total, active, failed := eng.Store().Counts()
	fmt.Println("Processing:")
	fmt.Printf("  Tracked:  %d\n", total)
	fmt.Printf("  Active:   %d\n", active)
	fmt.Printf("  Failed:   %d\n", failed)

	return nil
}

// bucketState renders a one-word health summary for a bucket.
func bucketState(eng *engine.Engine, bucket string, st docstate.Status) string {
	switch {
	case eng.Status().IsAnyError(bucket):
		return "error"
	case eng.Status().IsAnyProcessing(bucket):
		return "processing"
	case st.HasUnsynced:
		return fmt.Sprintf("%d unsynced", st.TotalCount-st.SyncedCount)
	case st.TotalCount == 0:
		return "empty"
	default:
		return "synced"
	}
}

func runBuckets(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := eng.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("backend unreachable, showing local listing only")
	}

	if len(args) == 1 {
		return bucketDetail(eng, args[0])
	}

	buckets, err := eng.Library().Buckets()
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}

	if len(buckets) == 0 {
		fmt.Println("No buckets in library")
		return nil
	}

	fmt.Printf("%-24s %-8s %-8s %s\n", "BUCKET", "FILES", "SYNCED", "STATE")
	fmt.Println("------------------------ -------- -------- --------------------")

	for _, bucket := range buckets {
		st, err := eng.Status().StatusFor(bucket)
		if err != nil {
			fmt.Printf("%-24s %-8s %-8s error: %v\n", bucket, "-", "-", err)
			continue
		}
		fmt.Printf("%-24s %-8d %-8d %s\n",
			bucket, st.TotalCount, st.SyncedCount, bucketState(eng, bucket, st))
	}

	return nil
}

// bucketDetail lists one bucket's documents: the local files, the indexed
// snapshot's metadata for them, and any in-flight processing state.
func bucketDetail(eng *engine.Engine, bucket string) error {
	files, err := eng.Library().List(bucket)
	if err != nil {
		log.Warn().Err(err).Str("bucket", bucket).Msg("local listing unavailable")
	}

	snap, _ := eng.Store().Snapshot(bucket)

	local := make(map[string]bool, len(files))
	for _, name := range files {
		local[name] = true
	}
	names := make(map[string]bool, len(files)+len(snap.Documents))
	for name := range local {
		names[name] = true
	}
	for name := range snap.Documents {
		names[name] = true
	}

	if len(names) == 0 {
		fmt.Printf("No documents in %s\n", bucket)
		return nil
	}

	fmt.Printf("%-36s %-7s %-20s %s\n", "DOCUMENT", "PAGES", "UPLOADED", "STATE")
	fmt.Println("------------------------------------ ------- -------------------- --------------------")

	for _, name := range sortedKeys(names) {
		pages, uploaded := "-", "-"
		doc, indexed := snap.Documents[name]
		if indexed {
			pages = fmt.Sprintf("%d", doc.PageCount())
			if doc.UploadTime != "" {
				uploaded = doc.UploadTime
				if len(uploaded) > 19 {
					// backend isoformat timestamps carry microseconds
					uploaded = uploaded[:19]
				}
			}
		}
		fmt.Printf("%-36s %-7s %-20s %s\n", name, pages, uploaded,
			documentState(eng, bucket, name, local[name], indexed))
	}

	return nil
}

func documentState(eng *engine.Engine, bucket, name string, local, indexed bool) string {
	if rec, ok := eng.Store().ActiveRecord(bucket, name); ok {
		if rec.Queued {
			return "queued"
		}
		return fmt.Sprintf("processing %d%%", rec.Progress)
	}
	for _, rec := range eng.Store().Records(bucket) {
		if rec.FileName == name && rec.Failed {
			return "failed: " + rec.Error
		}
	}
	switch {
	case local && indexed:
		return "synced"
	case indexed:
		return "remote only"
	default:
		return "unsynced"
	}
}

func runSync(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := refreshOnce(ctx, eng); err != nil {
		return err
	}

	var tasks []uploader.Task
	if len(args) == 1 {
		tasks, err = eng.SyncBucket(args[0])
		if err != nil {
			return err
		}
	} else {
		perBucket, err := eng.SyncAll()
		if err != nil {
			return err
		}
		buckets := make([]string, 0, len(perBucket))
		for b := range perBucket {
			buckets = append(buckets, b)
		}
		sort.Strings(buckets)
		for _, b := range buckets {
			tasks = append(tasks, perBucket[b]...)
		}
	}

	if len(tasks) == 0 {
		fmt.Println("Everything is synced.")
		return nil
	}

	fmt.Printf("Uploading %d file(s)...\n", len(tasks))
	return waitAndReport(ctx, eng)
}

func runUpload(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	bucket := args[0]
	paths := make([]string, 0, len(args[1:]))
	for _, p := range args[1:] {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return fmt.Errorf("file not found: %s", p)
		}
		paths = append(paths, abs)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	tasks := eng.Queue().Enqueue(bucket, paths)
	fmt.Printf("Uploading %d file(s) to %s...\n", len(tasks), bucket)
	return waitAndReport(ctx, eng)
}

// waitAndReport blocks until the upload queue drains, then prints one line
// per task and fails if any upload failed.
func waitAndReport(ctx context.Context, eng *engine.Engine) error {
	if err := eng.Queue().WaitIdle(ctx); err != nil {
		return fmt.Errorf("wait for uploads: %w", err)
	}

	failed := 0
	for _, t := range eng.Queue().Tasks() {
		switch t.Status {
		case uploader.StatusCompleted:
			fmt.Printf("  ok    %s/%s\n", t.Bucket, t.Name)
		case uploader.StatusFailed:
			failed++
			fmt.Printf("  FAIL  %s/%s: %s\n", t.Bucket, t.Name, t.Error)
		default:
			fmt.Printf("  %-5s %s/%s\n", t.Status, t.Bucket, t.Name)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d upload(s) failed", failed)
	}
	return nil
}

func runDispatch(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := refreshOnce(ctx, eng); err != nil {
		return err
	}

	buckets := args
	if len(buckets) == 0 {
		buckets, err = eng.Library().Buckets()
		if err != nil {
			return fmt.Errorf("list buckets: %w", err)
		}
	}
	if len(buckets) == 0 {
		fmt.Println("No buckets to dispatch")
		return nil
	}

	report, dispatchErr := eng.Dispatcher().DispatchSelected(ctx, buckets)

	for _, bucket := range sortedKeys(report.Dispatched) {
		fmt.Printf("  dispatched  %-24s %d file(s)\n", bucket, len(report.Dispatched[bucket]))
	}
	for _, bucket := range sortedKeys(report.Skipped) {
		fmt.Printf("  skipped     %-24s %s\n", bucket, report.Skipped[bucket])
	}
	for _, bucket := range sortedKeys(report.Failed) {
		fmt.Printf("  FAILED      %-24s %v\n", bucket, report.Failed[bucket])
	}

	return dispatchErr
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// nolint:revive // args required by cobra.Command RunE signature
func runInit(cmd *cobra.Command, args []string) error {
	setupLogging()

	outPath := initOutput
	if outPath == "" {
		outPath = config.DefaultConfigPath()
	}

	if _, err := os.Stat(outPath); err == nil && !initForce {
		return fmt.Errorf("config already exists: %s (use --force to overwrite)", outPath)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("get home dir: %w", err)
	}
	libraryRoot := filepath.Join(homeDir, ".docsync", "library")

	if err := os.MkdirAll(filepath.Dir(outPath), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.MkdirAll(libraryRoot, 0700); err != nil {
		return fmt.Errorf("create library dir: %w", err)
	}

	if err := writeConfig(outPath, initBackendURL, libraryRoot); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Config written:  %s\n", outPath)
	fmt.Printf("Library created: %s\n", libraryRoot)

	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the config: set backend.url and backend.auth_token")
	fmt.Println("  2. Put documents in a library subdirectory (one per bucket)")
	fmt.Println("  3. docsync watch")

	return nil
}

func writeConfig(path, backendURL, libraryRoot string) error {
	if backendURL == "" {
		backendURL = "http://127.0.0.1:8000"
	}

	cfg := fmt.Sprintf(`# DocSync agent config
backend:
  url: "%s"
  auth_token: ""

library:
  root: "%s"
  extensions: [".pdf"]

live:
  transport: "sse"

metrics:
  enabled: false

log:
  level: "info"
`, backendURL, libraryRoot)

	// The file will hold the auth token once filled in
	return os.WriteFile(path, []byte(cfg), 0600)
}

// loadConfig resolves the configuration: explicit flag, then default
// locations, then built-in defaults.
func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.Load(cfgFile)
	}

	defaults := []string{
		config.DefaultConfigPath(),
		"docsync.yaml",
	}
	for _, path := range defaults {
		if _, err := os.Stat(path); err == nil {
			return config.Load(path)
		}
	}

	return config.Default(), nil
}

// refreshOnce pulls the backend's current index before a one-shot command.
func refreshOnce(ctx context.Context, eng *engine.Engine) error {
	refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := eng.Refresh(refreshCtx); err != nil {
		return fmt.Errorf("refresh index: %w", err)
	}
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			log.Info().Msg("interrupted")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

func setupLogging() {
	logging.Setup(logLevel)
}

// logStartupBanner logs the application startup banner with version information.
func logStartupBanner() {
	banner := `
╔══════════════════════════════════════════════════╗
║                                                  ║
║            ██████╗  ██████╗  ██████╗             ║
║            ██╔══██╗██╔═══██╗██╔════╝             ║
║            ██║  ██║██║   ██║██║                  ║
║            ██║  ██║██║   ██║██║                  ║
║            ██████╔╝╚██████╔╝╚██████╗             ║
║            ╚═════╝  ╚═════╝  ╚═════╝             ║
║                                                  ║
║       ███████╗██╗   ██╗███╗   ██╗ ██████╗        ║
║       ██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝        ║
║       ███████╗ ╚████╔╝ ██╔██╗ ██║██║             ║
║       ╚════██║  ╚██╔╝  ██║╚██╗██║██║             ║
║       ███████║   ██║   ██║ ╚████║╚██████╗        ║
║       ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝        ║
║                                                  ║
║           Document Library Sync Agent            ║
║                                                  ║
╚══════════════════════════════════════════════════╝`

	fmt.Fprintln(os.Stderr, banner)
	fmt.Fprintf(os.Stderr, "\n  Version:    %s\n", Version)
	fmt.Fprintf(os.Stderr, "  Commit:     %s\n", Commit)
	fmt.Fprintf(os.Stderr, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(os.Stderr, "  Go:         %s\n", runtime.Version())
	fmt.Fprintf(os.Stderr, "  OS/Arch:    %s/%s\n\n", runtime.GOOS, runtime.GOARCH)
}

// setupServiceLogging configures logging for service mode.
// This writes directly to a file because launchd/kardianos-service
// may not properly redirect stderr.
// Default level is Info; can be overridden by config after loading.
func setupServiceLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Try to open log file for direct writing
	logPath := "/var/log/docsync-service.log"
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		// Fall back to stderr if we can't open the log file
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		return
	}

	// Write to both file and stderr
	multi := io.MultiWriter(logFile, os.Stderr)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: multi, TimeFormat: time.RFC3339})
}
