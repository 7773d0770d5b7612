package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/pablasso/ralph/internal/config"
)

type initOptions struct {
	yes   bool
	force bool
}

func newInitCmd(root *rootOptions) *cobra.Command {
	opts := &initOptions{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write .ralph/config.yaml for this workspace",
		Long: `Creates the .ralph/ folder with a settings file and adds .ralph/ to
.gitignore. Without --yes the settings are asked for interactively.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(root, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "Accept the defaults without prompting")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Overwrite an existing config")
	return cmd
}

// ErrAlreadyInitialized is returned when the config exists and --force is not set.
var ErrAlreadyInitialized = errors.New("ralph is already initialized here (use --force to overwrite)")

func runInit(root *rootOptions, opts *initOptions, w io.Writer) error {
	dir := root.dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}

	path := config.Path(dir)
	if _, err := os.Stat(path); err == nil && !opts.force {
		return ErrAlreadyInitialized
	}

	cfg := config.Default()
	root.apply(&cfg)
	if !opts.yes {
		if err := askSettings(&cfg); err != nil {
			return err
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := config.Save(path, cfg); err != nil {
		return err
	}
	added, err := ensureIgnored(filepath.Join(dir, ".gitignore"), config.Dir+"/")
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Wrote", filepath.Join(config.Dir, config.FileName))
	if added {
		fmt.Fprintln(w, "Added", config.Dir+"/", "to .gitignore")
	}
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintf(w, "  1. Write %s, or run: ralph generate <what to build>\n", cfg.PRDPath)
	fmt.Fprintln(w, "  2. Run: ralph")
	return nil
}

// askSettings edits the common settings in place with a huh form.
func askSettings(cfg *config.Config) error {
	maxIter := strconv.Itoa(cfg.MaxIterations)
	countdown := strconv.Itoa(cfg.CountdownSeconds)
	var duties []string

	dutyOptions := []huh.Option[string]{
		huh.NewOption("Write tests", "write_tests").Selected(cfg.Requirements.WriteTests),
		huh.NewOption("Run tests", "run_tests").Selected(cfg.Requirements.RunTests),
		huh.NewOption("Type check", "type_check").Selected(cfg.Requirements.TypeCheck),
		huh.NewOption("Lint", "lint").Selected(cfg.Requirements.Lint),
		huh.NewOption("Update docs", "update_docs").Selected(cfg.Requirements.UpdateDocs),
		huh.NewOption("Commit", "commit").Selected(cfg.Requirements.Commit),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Task list").Value(&cfg.PRDPath),
			huh.NewInput().Title("Progress log").Value(&cfg.ProgressPath),
			huh.NewInput().Title("Agent command").Value(&cfg.Agent.Command),
		),
		huh.NewGroup(
			huh.NewInput().Title("Iteration limit (0 = unlimited)").Value(&maxIter).Validate(nonNegative),
			huh.NewInput().Title("Review countdown (seconds)").Value(&countdown).Validate(nonNegative),
			huh.NewMultiSelect[string]().Title("Ask the agent to").Options(dutyOptions...).Value(&duties),
			huh.NewConfirm().Title("Copy to clipboard when the agent is unavailable?").Value(&cfg.Agent.ClipboardFallback),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}

	cfg.MaxIterations, _ = strconv.Atoi(maxIter)
	cfg.CountdownSeconds, _ = strconv.Atoi(countdown)
	cfg.Requirements = config.Requirements{}
	for _, d := range duties {
		switch d {
		case "write_tests":
			cfg.Requirements.WriteTests = true
		case "run_tests":
			cfg.Requirements.RunTests = true
		case "type_check":
			cfg.Requirements.TypeCheck = true
		case "lint":
			cfg.Requirements.Lint = true
		case "update_docs":
			cfg.Requirements.UpdateDocs = true
		case "commit":
			cfg.Requirements.Commit = true
		}
	}
	return nil
}

func nonNegative(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return errors.New("enter a whole number, 0 or more")
	}
	return nil
}

// ensureIgnored appends entry to the ignore file unless a line already
// matches it. It reports whether the file changed.
func ensureIgnored(path, entry string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	bare := strings.TrimSuffix(entry, "/")
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == entry || line == bare || line == "/"+entry || line == "/"+bare {
			return false, nil
		}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	prefix := ""
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		prefix = "\n"
	}
	if _, err := f.WriteString(prefix + entry + "\n"); err != nil {
		return false, fmt.Errorf("failed to update %s: %w", path, err)
	}
	return true, nil
}
