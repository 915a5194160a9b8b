package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/stepflow/internal/definition"
	"github.com/rendis/stepflow/internal/diagram"
	"github.com/rendis/stepflow/pkg/schema"
)

// readDocument reads path, or stdin when path is "-". Stdin documents are
// read as YAML, which also accepts JSON.
func readDocument(cmd *cobra.Command, path string) ([]byte, definition.Format, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return data, definition.FormatYAML, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return data, definition.FormatFromPath(path), nil
}

// resolveProgram decodes the program named by a file argument, or the
// registered definition selected by --name and --version.
func (a *app) resolveProgram(cmd *cobra.Command, args []string) (*schema.ProgramDefinition, error) {
	if len(args) == 1 {
		data, format, err := readDocument(cmd, args[0])
		if err != nil {
			return nil, err
		}
		return a.loader.Parse(data, format)
	}

	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		return nil, fmt.Errorf("a definition file or --name is required")
	}
	version, _ := cmd.Flags().GetString("version")

	s, err := a.openStore(cmd.Context())
	if err != nil {
		return nil, err
	}
	defer s.Close()

	rec, err := a.registry(s).GetDefinition(cmd.Context(), name, version)
	if err != nil {
		return nil, err
	}
	return &rec.Definition, nil
}

func registryFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "registered definition name (instead of a file)")
	cmd.Flags().String("version", "", "registered version (default: latest)")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) compileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "compile [file]",
		Short:   "Compile a program and print its rendered state graph as JSON",
		GroupID: "build",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := a.resolveProgram(cmd, args)
			if err != nil {
				return err
			}
			out, err := a.loader.Build(cmd.Context(), def, a.buildOptions()...)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	registryFlags(cmd)
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "validate [file]",
		Short:   "Report every problem in a program without building it",
		GroupID: "build",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result *schema.ValidationResult
			if len(args) == 1 {
				data, format, err := readDocument(cmd, args[0])
				if err != nil {
					return err
				}
				result = a.loader.CheckDocument(data, format)
			} else {
				def, err := a.resolveProgram(cmd, args)
				if err != nil {
					return err
				}
				result = a.loader.Check(def)
			}

			w := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				if err := writeJSON(w, result); err != nil {
					return err
				}
			} else {
				printReport(w, result)
			}
			if !result.Valid() {
				return fmt.Errorf("%d error(s)", len(result.Errors))
			}
			return nil
		},
	}
	registryFlags(cmd)
	cmd.Flags().Bool("json", false, "print the report as JSON")
	return cmd
}

func printReport(w io.Writer, result *schema.ValidationResult) {
	for _, issue := range result.Errors {
		fmt.Fprintf(w, "error   %s [%s] %s\n", issue.Path, issue.Code, issue.Message)
	}
	for _, issue := range result.Warnings {
		fmt.Fprintf(w, "warning %s [%s] %s\n", issue.Path, issue.Code, issue.Message)
	}
	if result.Valid() {
		fmt.Fprintln(w, "ok")
	}
}

func (a *app) diagramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "diagram [file]",
		Short:   "Draw a program as Mermaid, ASCII, SVG or PNG",
		GroupID: "build",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("format")
			if name == "" {
				name = a.cfg.DiagramFormat
			}
			format, err := diagram.ParseFormat(name)
			if err != nil {
				return err
			}

			def, err := a.resolveProgram(cmd, args)
			if err != nil {
				return err
			}
			built, err := a.loader.Build(cmd.Context(), def, a.buildOptions()...)
			if err != nil {
				return err
			}
			model, err := diagram.Build(built, def.Name)
			if err != nil {
				return err
			}
			out, err := a.renderer().Render(cmd.Context(), model, format)
			if err != nil {
				return err
			}

			if path, _ := cmd.Flags().GetString("output"); path != "" {
				return os.WriteFile(path, out, 0o644)
			}
			if format.Binary() {
				return fmt.Errorf("%s output needs --output", format)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	registryFlags(cmd)
	cmd.Flags().StringP("format", "f", "", "mermaid, ascii, svg or png (default from config)")
	cmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
	return cmd
}
