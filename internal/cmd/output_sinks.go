package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaybot/relaybot/internal/output"
)

// outputSink is a destination for command output. File sinks write to a
// temporary file in the target directory and rename it on commit, so a
// failed command never leaves a truncated report behind.
type outputSink struct {
	io.Writer
	path string
	tmp  *os.File
}

func (s *outputSink) commit() error {
	if s.tmp == nil {
		return nil
	}
	tmp := s.tmp
	s.tmp = nil
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

func (s *outputSink) discard() {
	if s.tmp == nil {
		return
	}
	_ = s.tmp.Close()
	_ = os.Remove(s.tmp.Name())
	s.tmp = nil
}

// addOutputFlags registers the shared --output-format, --out and --out-dir
// flags.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("output-format", string(output.FormatTable), "Output format: table|json|markdown")
	cmd.Flags().String("out", "", "Write output to a file (default stdout)")
	cmd.Flags().String("out-dir", "", "Write output to a timestamped file in this directory")
}

// resolveOutputFormat reads --output-format. When the flag is left at its
// default, a .json or .md --out path picks the format instead.
func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return "", err
	}
	if !cmd.Flags().Changed("output-format") {
		if out, _ := cmd.Flags().GetString("out"); out != "" {
			if format, ok := output.FormatForPath(out); ok {
				return format, nil
			}
		}
	}
	return output.ParseFormat(value)
}

// withSink runs render against the destination selected by --out or
// --out-dir and commits the file only if render succeeds. name is the file
// stem used with --out-dir.
func withSink(cmd *cobra.Command, name string, format output.Format, render func(w io.Writer) error) error {
	path, err := sinkPath(cmd, name, format, time.Now().UTC())
	if err != nil {
		return err
	}
	sink, err := openSink(cmd.OutOrStdout(), path)
	if err != nil {
		return err
	}
	if err := render(sink); err != nil {
		sink.discard()
		return err
	}
	return sink.commit()
}

func sinkPath(cmd *cobra.Command, name string, format output.Format, now time.Time) (string, error) {
	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return "", err
	}
	outDir, err := cmd.Flags().GetString("out-dir")
	if err != nil {
		return "", err
	}
	outPath, outDir = strings.TrimSpace(outPath), strings.TrimSpace(outDir)

	switch {
	case outPath != "" && outDir != "":
		return "", errors.New("--out and --out-dir are mutually exclusive")
	case outDir != "":
		file := fmt.Sprintf("%s.%s.%s", name, now.Format("20060102T150405Z"), format.Extension())
		return filepath.Join(outDir, file), nil
	default:
		return outPath, nil
	}
}

// openSink opens path for writing. An empty path or "-" selects stdout.
func openSink(stdout io.Writer, path string) (*outputSink, error) {
	if path == "" || path == "-" {
		return &outputSink{Writer: stdout, path: "-"}, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return &outputSink{Writer: tmp, path: path, tmp: tmp}, nil
}
