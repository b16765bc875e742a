package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/inference-sim/vmhost/host/pickle"
	"github.com/inference-sim/vmhost/host/script"
)

// imagePath derives the default output name: app.yaml → app.img.
func imagePath(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + ".img"
}

// compileImage compiles the YAML script at src and writes the packed
// program to dst. It returns the number of instructions.
func compileImage(src, dst string) (int, error) {
	source, err := os.ReadFile(src)
	if err != nil {
		return 0, fmt.Errorf("read script: %w", err)
	}
	prog, err := script.Compile(source)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", src, err)
	}
	data, err := pickle.Pack(prog)
	if err != nil {
		return 0, fmt.Errorf("pack %s: %w", src, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return 0, fmt.Errorf("write image: %w", err)
	}
	return len(prog), nil
}

// inspectImage prints the header and contents of a packed image.
func inspectImage(path string, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	ver, err := pickle.Version(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	v, err := pickle.Unpack(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	fmt.Fprintf(w, "Format Version : %s\n", ver)
	fmt.Fprintf(w, "Size           : %d bytes\n", len(data))
	prog, err := script.Validate(v)
	if err != nil {
		fmt.Fprintf(w, "Value          : %s\n", pickle.Format(v))
		return nil
	}
	fmt.Fprintf(w, "Instructions   : %d\n", len(prog))
	for pc, ins := range prog {
		fmt.Fprintf(w, "%4d  %s\n", pc, pickle.Format(ins))
	}
	return nil
}
