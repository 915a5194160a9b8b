package main

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// installCmd writes settings.json from its flags and fetches mermaid-ascii
// for the ascii diagram format.
func (a *app) installCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write settings and install the mermaid-ascii renderer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if v, _ := cmd.Flags().GetString("db-path"); v != "" {
				cfg.DBPath = v
			}
			if v, _ := cmd.Flags().GetString("diagram-format"); v != "" {
				cfg.DiagramFormat = v
			}
			if cmd.Flags().Changed("concurrent-branches") {
				cfg.ConcurrentBranches, _ = cmd.Flags().GetInt("concurrent-branches")
			}

			if err := saveConfig(a.configPath, cfg); err != nil {
				return fmt.Errorf("cannot write %s: %w", a.configPath, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", a.configPath)

			if skip, _ := cmd.Flags().GetBool("skip-download"); !skip {
				client := &http.Client{Timeout: 60 * time.Second}
				installMermaidASCII(cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg.MermaidASCIIDir, client)
			}
			return nil
		},
	}
	cmd.Flags().String("db-path", "", "database path (default: ~/.stepflow/stepflow.db)")
	cmd.Flags().String("diagram-format", "", "default diagram format: mermaid, ascii, svg, png")
	cmd.Flags().Int("concurrent-branches", 0, "parallel branch build limit (0 builds sequentially)")
	cmd.Flags().Bool("skip-download", false, "do not download mermaid-ascii")
	return cmd
}

// installMermaidASCII downloads the mermaid-ascii binary to binDir.
// Non-fatal: warnings go to errw and the built-in renderer stays in use.
func installMermaidASCII(w, errw io.Writer, binDir string, client httpGetter) {
	installMermaidASCIIAsset(w, errw, binDir, client, hostMermaidASCIIAsset)
}

func installMermaidASCIIAsset(w, errw io.Writer, binDir string, client httpGetter, asset func() (releaseAsset, error)) {
	destPath := filepath.Join(binDir, "mermaid-ascii")
	if _, err := os.Stat(destPath); err == nil {
		fmt.Fprintf(w, "mermaid-ascii already installed at %s\n", destPath)
		return
	}

	warn := func(format string, args ...any) {
		fmt.Fprintf(errw, "Warning: "+format+": ascii diagrams will use the built-in renderer\n", args...)
	}

	a, err := asset()
	if err != nil {
		warn("%v", err)
		return
	}
	if !strings.HasSuffix(a.Name, ".tar.gz") {
		warn("unsupported archive format %s", a.Name)
		return
	}
	if a.SHA256 == "" {
		fmt.Fprintf(errw, "Warning: no pinned checksum for %s, installing unverified\n", a.Name)
	}

	if err := os.MkdirAll(binDir, 0o755); err != nil {
		warn("cannot create %s: %v", binDir, err)
		return
	}

	fmt.Fprintf(w, "Downloading mermaid-ascii %s...\n", mermaidASCIIVersion)
	archive, err := a.fetch(client, binDir)
	if err != nil {
		warn("%v", err)
		return
	}
	defer os.Remove(archive)

	f, err := os.Open(archive)
	if err != nil {
		warn("cannot open archive: %v", err)
		return
	}
	defer f.Close()

	if err := extractTarGz(f, binDir, "mermaid-ascii"); err != nil {
		_ = os.Remove(destPath)
		warn("extraction failed: %v", err)
		return
	}
	if err := os.Chmod(destPath, 0o755); err != nil {
		fmt.Fprintf(errw, "Warning: chmod failed: %v\n", err)
	}

	fmt.Fprintf(w, "mermaid-ascii installed to %s\n", destPath)
}

// extractTarGz extracts a specific file from a tar.gz archive into destDir.
func extractTarGz(r io.Reader, destDir, targetName string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return fmt.Errorf("file %q not found in archive", targetName)
		}
		if err != nil {
			return fmt.Errorf("tar: %w", err)
		}

		// Match by base name (archive may include directory prefix).
		if filepath.Base(hdr.Name) != targetName {
			continue
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		destPath := filepath.Join(destDir, targetName)
		f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			return fmt.Errorf("create %s: %w", destPath, err)
		}
		if _, err := io.Copy(f, tr); err != nil { //nolint:gosec // bounded by tar header size
			f.Close()
			return fmt.Errorf("write %s: %w", destPath, err)
		}
		return f.Close()
	}
}
