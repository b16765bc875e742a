package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/vmhost/host/pickle"
	"github.com/inference-sim/vmhost/host/script"
)

func TestImagePath(t *testing.T) {
	assert.Equal(t, "app.img", imagePath("app.yaml"))
	assert.Equal(t, "dir/app.v2.img", imagePath("dir/app.v2.yml"))
	assert.Equal(t, "noext.img", imagePath("noext"))
}

func TestCompileImage_ThenInspect(t *testing.T) {
	// GIVEN a YAML script
	dir := t.TempDir()
	src := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(src, []byte("- recv\n- print: last\n- exit: 2\n"), 0o644))
	dst := imagePath(src)

	// WHEN compiled
	n, err := compileImage(src, dst)

	// THEN the image boots back into the same program
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	v, err := pickle.Unpack(data)
	require.NoError(t, err)
	prog, err := script.Validate(v)
	require.NoError(t, err)
	assert.True(t, pickle.Equal(pickle.NewTuple("exit", pickle.Int(2)), prog[2]))

	// WHEN inspected
	var buf bytes.Buffer
	require.NoError(t, inspectImage(dst, &buf))

	// THEN the listing shows the version and every instruction
	out := buf.String()
	assert.Contains(t, out, "Format Version : "+pickle.FormatVersion)
	assert.Contains(t, out, "Instructions   : 3")
	assert.Contains(t, out, "   0  recv()")
	assert.Contains(t, out, "   1  print(last)")
	assert.Contains(t, out, "   2  exit(2)")
}

func TestCompileImage_BadScript(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(src, []byte("- teleport: 1\n"), 0o644))

	_, err := compileImage(src, filepath.Join(dir, "bad.img"))

	assert.ErrorIs(t, err, script.ErrInvalidProgram)
	_, statErr := os.Stat(filepath.Join(dir, "bad.img"))
	assert.True(t, os.IsNotExist(statErr), "no image must be written for a bad script")
}

func TestInspectImage_NonProgramValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "value.img")
	data, err := pickle.Pack(pickle.NewTuple("config", pickle.Int(1)))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	var buf bytes.Buffer
	require.NoError(t, inspectImage(path, &buf))

	assert.Contains(t, buf.String(), "Value          : config(1)")
}

func TestInspectImage_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.img")
	require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))

	err := inspectImage(path, &bytes.Buffer{})

	assert.ErrorIs(t, err, pickle.ErrCorrupt)
}
