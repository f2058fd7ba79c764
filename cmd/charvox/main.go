package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"charvox/internal/config"
	"charvox/internal/database"
	"charvox/internal/discover"
	"charvox/internal/pipeline"
	"charvox/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "charvox",
	Short:   "Character voice pipeline",
	Long:    "charvox scrapes character wiki pages, derives voice profiles with an LLM, generates candidate voice clips, and tracks selection and transcription.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(clearCacheCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("charvox", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/charvox/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure the wiki, API keys, and LLM provider.")
		return nil
	},
}

// --- status command ---

var statusCmd = &cobra.Command{
	Use:   "status [subject-id]",
	Short: "Show database status, or one subject's stage progress",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if len(args) == 1 {
			id, err := parseSubjectID(args[0])
			if err != nil {
				return err
			}
			return printSubjectStatus(db, id)
		}

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Subjects:")
		fmt.Printf("  Total: %d\n", stats.Subjects)
		fmt.Printf("  With snapshot: %d\n", stats.RawSnapshots)
		fmt.Printf("  With profile: %d\n", stats.Profiles)
		fmt.Println("\nVoices:")
		fmt.Printf("  Clips generated: %d\n", stats.AudioArtifacts)
		fmt.Printf("  Selected: %d\n", stats.Selected)
		fmt.Printf("  Transcripts: %d\n", stats.Transcripts)
		return nil
	},
}

func printSubjectStatus(db *database.DB, id int64) error {
	orch := pipeline.New(cfg, db)
	status, err := orch.Status(id)
	if err != nil {
		return err
	}
	if !status.Exists {
		fmt.Printf("Subject %d: not processed yet\n", id)
		return nil
	}

	fmt.Printf("Subject %d: %s", id, status.Name)
	if status.Variant != nil {
		fmt.Printf(" (%s)", *status.Variant)
	}
	fmt.Println()
	if status.URL != nil {
		fmt.Printf("  URL: %s\n", *status.URL)
	}

	fmt.Println("  Stages:")
	printStage("wiki data", status.Stages.WikiData)
	printStage("character profile", status.Stages.CharacterProfile)
	printStage("voice generation", status.Stages.VoiceGeneration)
	printStage("voice selection", status.Stages.VoiceSelection)
	printStage("transcription", status.Stages.Transcription)
	printStage("complete", status.Stages.Complete)

	if status.Confidence != nil {
		fmt.Printf("  Confidence: %.2f", *status.Confidence)
		if status.Degraded {
			fmt.Print(" (degraded)")
		}
		fmt.Println()
	}
	fmt.Printf("  Clips: %d\n", status.Artifacts)
	if status.SelectedID != nil {
		fmt.Printf("  Selected: %s\n", *status.SelectedID)
	}
	if status.LastError != nil {
		fmt.Printf("  Last error: %s\n", *status.LastError)
	}
	return nil
}

func printStage(name string, done bool) {
	mark := " "
	if done {
		mark = "x"
	}
	fmt.Printf("    [%s] %s\n", mark, name)
}

// --- process command ---

var forceRefresh bool

var processCmd = &cobra.Command{
	Use:   "process <subject-id>...",
	Short: "Run the pipeline for one or more wiki page ids",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args))
		for _, arg := range args {
			id, err := parseSubjectID(arg)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		orch := pipeline.New(cfg, db)
		orch.SetListener(pipeline.ConsoleListener{})

		results := orch.ProcessAll(context.Background(), ids, pipeline.Options{ForceRefresh: forceRefresh})

		failed := 0
		for _, r := range results {
			switch {
			case r.Err != nil:
				failed++
				fmt.Printf("subject %d: %v\n", r.SubjectID, r.Err)
			case r.Status.LastError != nil:
				failed++
				fmt.Printf("subject %d: %s\n", r.SubjectID, *r.Status.LastError)
			default:
				name := r.Status.Name
				fmt.Printf("subject %d: %s — %d clips, awaiting selection\n", r.SubjectID, name, r.Status.Artifacts)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d subjects failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	processCmd.Flags().BoolVar(&forceRefresh, "force", false, "Re-run completed stages instead of using cached results")
}

// --- discover command ---

var (
	discoverLimit   int
	discoverProcess bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find candidate pages from the wiki's recent-changes feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Wiki.FeedURL == "" {
			return fmt.Errorf("no feed_url configured under wiki")
		}

		finder := discover.NewFinder(cfg.Wiki.FeedURL)
		candidates, err := finder.Recent(discoverLimit)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			fmt.Println("No candidates found in the feed.")
			return nil
		}

		fmt.Printf("Found %d candidates:\n", len(candidates))
		for _, c := range candidates {
			date := c.Published
			if date == "" {
				date = "-"
			}
			fmt.Printf("  %8d  %-10s  %s\n", c.PageID, date, c.Title)
		}

		if !discoverProcess {
			return nil
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ids := make([]int64, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.PageID)
		}

		orch := pipeline.New(cfg, db)
		orch.SetListener(pipeline.ConsoleListener{})
		results := orch.ProcessAll(context.Background(), ids, pipeline.Options{})

		processed := 0
		for _, r := range results {
			if r.Err == nil && r.Status != nil && r.Status.LastError == nil {
				processed++
			}
		}
		fmt.Printf("Processed %d of %d candidates.\n", processed, len(results))
		return nil
	},
}

func init() {
	discoverCmd.Flags().IntVar(&discoverLimit, "limit", 20, "Maximum candidates to list")
	discoverCmd.Flags().BoolVar(&discoverProcess, "process", false, "Run the pipeline for each candidate")
}

// --- select command ---

var selectCmd = &cobra.Command{
	Use:   "select <subject-id> <artifact-id>",
	Short: "Mark a generated clip as the subject's voice",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSubjectID(args[0])
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		orch := pipeline.New(cfg, db)
		artifact, err := orch.SelectArtifact(id, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Selected %s for subject %d.\n", artifact.ID, id)
		return nil
	},
}

// --- transcribe command ---

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <subject-id>",
	Short: "Transcribe the subject's selected voice clip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseSubjectID(args[0])
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		orch := pipeline.New(cfg, db)
		transcript, err := orch.TranscribeSelected(context.Background(), id)
		if err != nil {
			return err
		}
		fmt.Printf("Transcript (%s):\n  %s\n", transcript.Provider, transcript.Text)
		return nil
	},
}

// --- clear-cache command ---

var clearYes bool

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Delete all subjects and derived data",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return err
		}
		if stats.Subjects == 0 {
			fmt.Println("Database is already empty.")
			return nil
		}

		if !clearYes {
			fmt.Printf("Delete %d subjects, %d clips, and %d transcripts? [y/N]: ",
				stats.Subjects, stats.AudioArtifacts, stats.Transcripts)
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			answer = strings.TrimSpace(strings.ToLower(answer))
			if answer != "y" && answer != "yes" {
				return fmt.Errorf("aborted")
			}
		}

		if err := db.ClearCache(); err != nil {
			return err
		}
		fmt.Println("Cache cleared.")
		return nil
	},
}

func init() {
	clearCacheCmd.Flags().BoolVar(&clearYes, "yes", false, "Skip the confirmation prompt")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

func parseSubjectID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid subject id: %s", arg)
	}
	return id, nil
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "charvox.db")
	return database.Open(dbPath)
}
