package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/tendant/webq/pkg/webq"
	"github.com/tendant/webq/pkg/webq/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("WEBQ_CONFIG"); p != "" {
		return p
	}
	return "webq.toml"
}

func logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// loadConfig reads the config file named by --config and applies WEBQ_ environment overrides.
func loadConfig(cmd *cobra.Command, extra ...config.Option) (*config.ServerConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	fc, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	opts, err := fc.options()
	if err != nil {
		return nil, err
	}
	opts = append(opts, config.WithEnv("WEBQ_"), config.WithEventLogging(false))
	opts = append(opts, extra...)
	return config.Load(opts...)
}

// newService builds the service for one command. The caller must call the returned cleanup.
func newService(cmd *cobra.Command) (*webq.Service, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	svc, cleanup, err := cfg.BuildService(cmd.Context(), logger(cmd))
	if err != nil {
		return nil, nil, fmt.Errorf("initializing service: %w", err)
	}
	return svc, cleanup, nil
}

var rootCmd = &cobra.Command{
	Use:           "webqctl",
	Short:         "Administer webq projects, files and conversions",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, config.WithAutoMigrate(false))
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Migrate(logger(cmd)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database %s is up to date\n", cfg.DatabaseType)
		return nil
	},
}

// project command
var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectAddCmd = &cobra.Command{
	Use:   "add <project-id>",
	Short: "Register a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		description, _ := cmd.Flags().GetString("description")
		project := &webq.Project{ProjectID: args[0], Description: description}
		if _, err := svc.Projects.Create(cmd.Context(), project); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Project %s created (id %d)\n", project.ProjectID, project.ID)
		return nil
	},
}

var projectRenameCmd = &cobra.Command{
	Use:   "rename <project-id> <new-project-id>",
	Short: "Change the external id of a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		project, err := svc.Projects.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := svc.Projects.Rename(cmd.Context(), project.ID, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Project %s renamed to %s\n", args[0], args[1])
		return nil
	},
}

var projectDescribeCmd = &cobra.Command{
	Use:   "describe <project-id> <description>",
	Short: "Replace the description of a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		project, err := svc.Projects.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return svc.Projects.UpdateDescription(cmd.Context(), project.ID, args[1])
	},
}

var projectRmCmd = &cobra.Command{
	Use:   "rm <project-id>",
	Short: "Remove a project and all of its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		project, err := svc.Projects.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := svc.Projects.Remove(cmd.Context(), project.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Project %s removed\n", args[0])
		return nil
	},
}

var projectLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		projects, err := svc.Projects.List(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, p := range projects {
			fmt.Fprintf(out, "%d\t%s\t%s\n", p.ID, p.ProjectID, p.Description)
		}
		return nil
	},
}

// file command operates on project files
var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "Manage project files",
}

var filePutCmd = &cobra.Command{
	Use:   "put <project-id> <path>",
	Short: "Upload a file into a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		project, err := svc.Projects.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[1], err)
		}

		flags := cmd.Flags()
		title, _ := flags.GetString("title")
		description, _ := flags.GetString("description")
		schema, _ := flags.GetString("schema")
		active, _ := flags.GetBool("active")
		mainForm, _ := flags.GetBool("main-form")

		file := &webq.ProjectFile{
			FileInfo: webq.FileInfo{
				Title:        title,
				FileName:     filepath.Base(args[1]),
				Description:  description,
				XMLSchemaURL: schema,
				Content:      webq.NewContent(data),
			},
			Active:   active,
			MainForm: mainForm,
		}
		id, err := svc.ProjectFiles.Save(cmd.Context(), file, project.Key())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %s as file %d (%d bytes)\n", file.FileName, id, file.SizeInBytes)
		return nil
	},
}

var fileGetCmd = &cobra.Command{
	Use:   "get <project-id> <file-id>",
	Short: "Download a project file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid file id %q", args[1])
		}
		svc, cleanup, err := newService(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		file, err := svc.DownloadProjectFile(cmd.Context(), args[0], id)
		if err != nil {
			return err
		}
		data, _ := file.Content.Bytes()

		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%d bytes)\n", output, len(data))
		return nil
	},
}

var fileLsCmd = &cobra.Command{
	Use:   "ls <project-id>",
	Short: "List the files of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		project, err := svc.Projects.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		files, err := svc.ProjectFiles.AllFilesFor(cmd.Context(), project.Key())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, f := range files {
			fmt.Fprintf(out, "%d\t%s\t%d\tactive=%t\tmain=%t\t%s\n",
				f.ID, f.FileName, f.SizeInBytes, f.Active, f.MainForm, f.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var fileRmCmd = &cobra.Command{
	Use:   "rm <project-id> <file-id>...",
	Short: "Remove project files",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args)-1)
		for _, raw := range args[1:] {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid file id %q", raw)
			}
			ids = append(ids, id)
		}
		svc, cleanup, err := newService(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		project, err := svc.Projects.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		n, err := svc.ProjectFiles.Remove(cmd.Context(), project.Key(), ids...)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d of %d files\n", n, len(ids))
		return nil
	},
}

// convert command
var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Inspect conversions",
}

var convertListCmd = &cobra.Command{
	Use:   "list <schema-url>",
	Short: "List the conversions offered for a schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, cleanup, err := newService(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		out := cmd.OutOrStdout()
		for _, c := range svc.AvailableConversions(args[0]) {
			fmt.Fprintf(out, "%d\t%s\t%s\n", c.ID, c.Name, c.ResultType)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", defaultConfigPath(), "Path to the TOML configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")

	projectCmd.AddCommand(projectAddCmd)
	projectAddCmd.Flags().StringP("description", "d", "", "Project description")
	projectCmd.AddCommand(projectRenameCmd)
	projectCmd.AddCommand(projectDescribeCmd)
	projectCmd.AddCommand(projectRmCmd)
	projectCmd.AddCommand(projectLsCmd)

	fileCmd.AddCommand(filePutCmd)
	filePutCmd.Flags().String("title", "", "File title")
	filePutCmd.Flags().StringP("description", "d", "", "File description")
	filePutCmd.Flags().String("schema", "", "XML schema URL")
	filePutCmd.Flags().Bool("active", true, "Mark the file active")
	filePutCmd.Flags().Bool("main-form", false, "Mark the file as the project's main form")
	fileCmd.AddCommand(fileGetCmd)
	fileGetCmd.Flags().StringP("output", "o", "", "Write to this path instead of stdout")
	fileCmd.AddCommand(fileLsCmd)
	fileCmd.AddCommand(fileRmCmd)

	convertCmd.AddCommand(convertListCmd)

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(fileCmd)
	rootCmd.AddCommand(convertCmd)
}
