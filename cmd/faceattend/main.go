package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"faceattend/internal/app"
	"faceattend/internal/attend"
	"faceattend/internal/config"
	"faceattend/internal/encryption"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readConfig locates and reads the config file.
func readConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// newApp reads the config and creates a FaceApp. The caller must defer app.Close().
func newApp(cmd *cobra.Command) (*app.FaceApp, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}

	passphrase, err := keyPassphrase(cfg.Encryption.KeyPath)
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	a, err := app.NewFaceApp(cfg, app.Options{Passphrase: passphrase, Verbose: verbose})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// keyPassphrase returns the passphrase for a protected key file, from the
// environment or an interactive prompt.
func keyPassphrase(keyPath string) (string, error) {
	protected, err := encryption.KeyFileProtected(keyPath)
	if err != nil || !protected {
		// A missing file is reported by the key store with a better message.
		return "", nil
	}
	if p := os.Getenv("FACEATTEND_KEY_PASSPHRASE"); p != "" {
		return p, nil
	}
	return promptSecret("Key passphrase: ")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid identity id %q", s)
	}
	return id, nil
}

var rootCmd = &cobra.Command{
	Use:   "faceattend",
	Short: "Face recognition attendance",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Host ID:      %s\n", cfg.HostID)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		fmt.Printf("Database:     %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Key File:     %s\n", cfg.Encryption.KeyPath)
		fmt.Printf("Extractor:    %s (dim %d, timeout %s)\n", cfg.Extractor.URL, cfg.Extractor.Dimension, cfg.Extractor.Timeout)
		fmt.Printf("Threshold:    match < %v, liveness > %v\n", cfg.Matching.Threshold, cfg.Liveness.Threshold)
		fmt.Printf("Drop Folder:  %s -> %s every %s\n", cfg.Ingest.DropDir, cfg.Ingest.ArchiveDir, cfg.Ingest.Interval)
		for _, v := range cfg.Vaults {
			fmt.Printf("Vault:        %s (%s)\n", v.Name, v.Type)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the template encryption key",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the template encryption key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}

		var passphrase string
		if protect, _ := cmd.Flags().GetBool("passphrase"); protect {
			if passphrase, err = promptNewSecret("Key passphrase: "); err != nil {
				return err
			}
		}

		recipient, err := app.InitKeys(cfg, passphrase)
		if err != nil {
			return fmt.Errorf("initializing keys: %w", err)
		}

		fmt.Printf("Key file created at %s\n", cfg.Encryption.KeyPath)
		fmt.Printf("Recipient: %s\n", recipient)
		fmt.Println("Keep a copy of this file: stored templates cannot be read without it.")
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the gallery database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		if err := app.MigrateDatabase(cfg); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

// enroll command
var enrollCmd = &cobra.Command{
	Use:   "enroll IMAGE IMAGE [IMAGE...]",
	Short: "Enroll a new identity from a capture session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		handle, _ := cmd.Flags().GetString("handle")
		role, _ := cmd.Flags().GetString("role")
		withCredential, _ := cmd.Flags().GetBool("credential")

		var credential string
		if withCredential {
			var err error
			if credential, err = promptNewSecret("Credential: "); err != nil {
				return err
			}
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Enroll(cmd.Context(), name, handle, attend.Role(role), credential, args)
		if err != nil {
			return fmt.Errorf("enrollment failed: %w", err)
		}

		fmt.Printf("Enrolled #%d %s <%s> as %s (%d of %d frames used)\n",
			res.Identity.ID, res.Identity.DisplayName, res.Identity.ContactHandle,
			res.Identity.Role, res.FramesUsed, len(args))
		return nil
	},
}

var reenrollCmd = &cobra.Command{
	Use:   "reenroll ID IMAGE IMAGE [IMAGE...]",
	Short: "Replace an identity's template",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.ReEnroll(cmd.Context(), id, args[1:])
		if err != nil {
			return fmt.Errorf("re-enrollment failed: %w", err)
		}
		fmt.Printf("Re-enrolled #%d (%d of %d frames used)\n", id, res.FramesUsed, len(args)-1)
		return nil
	},
}

// recognize command
var recognizeCmd = &cobra.Command{
	Use:   "recognize IMAGE",
	Short: "Recognize a face and record attendance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Recognize(cmd.Context(), args[0])
		if err != nil {
			if errors.Is(err, attend.ErrNotRecognized) && errors.Is(err, attend.ErrIntegrity) {
				fmt.Fprintln(os.Stderr, "Warning: some templates could not be read; run 'faceattend gallery verify'")
			}
			return err
		}

		fmt.Printf("Recognized #%d (distance %.4f), %s at %s\n",
			rec.IdentityID, rec.Distance, rec.Event.Status,
			rec.Event.RecordedAt.Local().Format("2006-01-02 15:04:05"))
		return nil
	},
}

// attendance command
var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "View and record attendance",
}

var attendanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List attendance events",
	RunE: func(cmd *cobra.Command, args []string) error {
		as, _ := cmd.Flags().GetInt64("as")
		identity, _ := cmd.Flags().GetInt64("identity")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := a.ListAttendanceFor(cmd.Context(), as, identity, limit)
		if err != nil {
			return err
		}

		if len(events) == 0 {
			fmt.Println("No attendance recorded.")
			return nil
		}
		for _, e := range events {
			fmt.Printf("#%d  %s  identity:%d  %s\n",
				e.ID, e.RecordedAt.Local().Format("2006-01-02 15:04:05"), e.IdentityID, e.Status)
		}
		return nil
	},
}

var attendanceMarkCmd = &cobra.Command{
	Use:   "mark ID",
	Short: "Record attendance by hand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		status, _ := cmd.Flags().GetString("status")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		event, err := a.MarkAttendance(cmd.Context(), id, attend.Status(status))
		if err != nil {
			return err
		}
		fmt.Printf("Recorded #%d %s for identity %d\n", event.ID, event.Status, event.IdentityID)
		return nil
	},
}

// identity command
var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage identities",
}

var identityDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete an identity and its attendance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteIdentity(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Deleted identity %d\n", id)
		return nil
	},
}

// ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Process the drop-folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return a.RunIngest(ctx, once, func(r *attend.CycleReport) {
			if len(r.Items) == 0 {
				return
			}
			for _, item := range r.Items {
				line := fmt.Sprintf("%-8s %s", item.Outcome, item.Name)
				if item.IdentityID != 0 {
					line += fmt.Sprintf("  identity:%d", item.IdentityID)
				}
				if item.Err != nil {
					line += fmt.Sprintf("  (%v)", item.Err)
				}
				fmt.Println(line)
			}
			fmt.Printf("%d matched, %d enrolled, %d skipped, %d failed\n",
				r.Count(attend.OutcomeMatched), r.Count(attend.OutcomeEnrolled),
				r.Count(attend.OutcomeSkipped), r.Count(attend.OutcomeFailed))
		})
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View ingestion cycle history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		cycles, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		if len(cycles) == 0 {
			fmt.Println("No ingestion cycles recorded.")
			return nil
		}
		for _, c := range cycles {
			fmt.Printf("#%d  %s  %-8s  matched:%d enrolled:%d skipped:%d failed:%d\n",
				c.ID,
				c.StartedAt.Local().Format("2006-01-02 15:04:05"),
				c.FinishedAt.Sub(c.StartedAt).Truncate(time.Millisecond),
				c.Matched, c.Enrolled, c.Skipped, c.Failed)
		}
		return nil
	},
}

// gallery command
var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Inspect the template gallery",
}

var galleryVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every stored template can be opened",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		var bar *progressbar.ProgressBar
		total, failures, err := a.VerifyGallery(cmd.Context(), func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetDescription("Verifying templates"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("templates"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionFullWidth(),
				)
			}
			bar.Set(done)
		})
		if bar != nil {
			bar.Finish()
			fmt.Println()
		}
		if err != nil {
			return err
		}

		for _, f := range failures {
			fmt.Printf("FAIL  %v\n", f)
		}
		fmt.Printf("%d template(s) checked, %d unreadable\n", total, len(failures))
		if len(failures) > 0 {
			return attend.ErrIntegrity
		}
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Upload a database snapshot to a vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		name, err := a.Backup(cmd.Context(), vaultName)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
		fmt.Printf("Uploaded snapshot %s\n", name)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots in a vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		vaultName, _ := cmd.Flags().GetString("vault")

		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		snapshots, err := a.ListBackups(cmd.Context(), vaultName)
		if err != nil {
			return err
		}
		if len(snapshots) == 0 {
			fmt.Println("No snapshots.")
			return nil
		}
		for _, s := range snapshots {
			fmt.Printf("%s  %10d  %s\n", s.ModTime.Local().Format("2006-01-02 15:04:05"), s.Size, s.Name)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(func() {
		// A missing .env is not an error.
		_ = godotenv.Load()
	})
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug messages")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// keys and db subcommands
	keysCmd.AddCommand(keysInitCmd)
	keysInitCmd.Flags().Bool("passphrase", false, "Protect the key file with a passphrase")
	dbCmd.AddCommand(dbMigrateCmd)

	// enrollment
	enrollCmd.Flags().String("name", "", "Display name")
	enrollCmd.Flags().String("handle", "", "Contact handle (unique)")
	enrollCmd.Flags().String("role", string(attend.RoleMember), "Role: admin or member")
	enrollCmd.Flags().Bool("credential", false, "Prompt for a credential to store")
	enrollCmd.MarkFlagRequired("name")
	enrollCmd.MarkFlagRequired("handle")

	// attendance subcommands
	attendanceCmd.AddCommand(attendanceListCmd)
	attendanceListCmd.Flags().Int64("as", 0, "Identity id of the requester")
	attendanceListCmd.Flags().Int64("identity", 0, "Only list this identity (admins)")
	attendanceListCmd.Flags().IntP("limit", "n", 50, "Maximum number of events to show")
	attendanceListCmd.MarkFlagRequired("as")
	attendanceCmd.AddCommand(attendanceMarkCmd)
	attendanceMarkCmd.Flags().String("status", string(attend.StatusPresent), "present or absent")

	identityCmd.AddCommand(identityDeleteCmd)
	galleryCmd.AddCommand(galleryVerifyCmd)

	ingestCmd.Flags().Bool("once", false, "Run a single cycle and exit")
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of cycles to show")

	backupCmd.PersistentFlags().String("vault", "", "Vault name (default: first configured)")
	backupCmd.AddCommand(backupListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(enrollCmd)
	rootCmd.AddCommand(reenrollCmd)
	rootCmd.AddCommand(recognizeCmd)
	rootCmd.AddCommand(attendanceCmd)
	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(galleryCmd)
	rootCmd.AddCommand(backupCmd)
}
