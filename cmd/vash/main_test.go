package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vash"
	"github.com/hupe1980/vash/testutil"
)

func TestReadFileList(t *testing.T) {
	input := "a.mp4\n\n  # comment\n  b.mp4  \n#c.mp4\nd e.mp4\n"
	paths, err := readFileList(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp4", "b.mp4", "d e.mp4"}, paths)
}

func TestLoadFileList_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := loadFileList(filepath.Join(dir, "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n\n"), 0o600))
	_, err = loadFileList(empty)
	assert.Error(t, err)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// setupWorkspace writes three descriptor dumps and a file list naming them
// plus one missing video.
func setupWorkspace(t *testing.T) (list string, videos []string) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("VASH_STORE_PATH", filepath.Join(dir, "index"))
	t.Setenv("VASH_FEATURE_DIMENSION", "8")
	t.Setenv("VASH_VOCABULARY_SIZE", "3")
	t.Setenv("VASH_VOCABULARY_INIT", "kmeans++")
	t.Setenv("VASH_LOG_LEVEL", "error")

	rng := testutil.NewRNG(3)
	centers := rng.Centers(3, 8, 10)
	for i, c := range centers {
		p := filepath.Join(dir, []string{"one.vdf", "two.vdf", "three.vdf"}[i])
		require.NoError(t, testutil.WriteDump(p, 8, rng.FeaturesAround(c, 15, 2, 0.1)))
		videos = append(videos, p)
	}

	list = filepath.Join(dir, "videos.txt")
	content := "# training set\n" + videos[0] + "\n" + filepath.Join(dir, "gone.vdf") + "\n\n" + videos[1] + "\n" + videos[2] + "\n"
	require.NoError(t, os.WriteFile(list, []byte(content), 0o600))
	return list, videos
}

func TestCLI_TrainTestInfo(t *testing.T) {
	list, videos := setupWorkspace(t)

	out, err := run(t, "train", list, "-o", "json", "--compression", "lz4")
	require.NoError(t, err)
	var trained trainOutput
	require.NoError(t, json.Unmarshal([]byte(out), &trained))
	assert.Equal(t, 3, trained.Videos)
	assert.Equal(t, 3, trained.Words)
	require.Len(t, trained.Skipped, 1)
	assert.Equal(t, uint32(1), trained.Skipped[0].Identity.Seq)

	out, err = run(t, "test", videos[2], "-o", "yaml", "-n", "2")
	require.NoError(t, err)
	var answer queryOutput
	require.NoError(t, yaml.Unmarshal([]byte(out), &answer))
	assert.Equal(t, trained.Run, answer.Run)
	require.Len(t, answer.Results, 2)
	assert.Equal(t, videos[2], answer.Results[0].Identity.Name)
	assert.Equal(t, uint32(3), answer.Results[0].Identity.Seq)
	assert.Equal(t, 1.0, answer.Results[0].Score)

	out, err = run(t, "test", videos[0])
	require.NoError(t, err)
	assert.Contains(t, out, "RANK")
	assert.Contains(t, out, videos[0])

	out, err = run(t, "info", "-o", "json")
	require.NoError(t, err)
	var runs []runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Current)
	assert.Equal(t, "lz4", runs[0].Compression)
	assert.Equal(t, 1, runs[0].Skipped)
}

func TestCLI_Errors(t *testing.T) {
	list, videos := setupWorkspace(t)

	_, err := run(t, "test", videos[0])
	assert.ErrorIs(t, err, vash.ErrNoSnapshot)

	_, err = run(t, "train", filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = run(t, "train", list, "-k", "1000")
	assert.ErrorIs(t, err, vash.ErrInvalidConfiguration)

	_, err = run(t, "train", list, "-o", "csv")
	assert.ErrorIs(t, err, vash.ErrInvalidConfiguration)

	_, err = run(t, "train")
	assert.Error(t, err)

	out, err := run(t, "info")
	require.NoError(t, err)
	assert.Contains(t, out, "MANIFEST")
}

func TestCLI_Config(t *testing.T) {
	setupWorkspace(t)
	t.Setenv("VASH_MATCH_METRIC", "intersection")

	out, err := run(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "metric: intersection")
	assert.Contains(t, out, "dimension: 8")

	t.Setenv("VASH_STORE_TYPE", "tape")
	_, err = run(t, "config")
	assert.Error(t, err)
}

func TestCLI_Prune(t *testing.T) {
	list, _ := setupWorkspace(t)

	for range 2 {
		_, err := run(t, "train", list, "-o", "json")
		require.NoError(t, err)
	}

	_, err := run(t, "prune", "--keep", "0")
	assert.ErrorIs(t, err, vash.ErrInvalidConfiguration)

	out, err := run(t, "prune", "--keep", "1", "-o", "json")
	require.NoError(t, err)
	var pruned []runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &pruned))
	require.Len(t, pruned, 1)
	assert.Equal(t, uint64(1), pruned[0].Manifest)

	out, err = run(t, "info", "-o", "json")
	require.NoError(t, err)
	var runs []runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Current)
	assert.Equal(t, uint64(2), runs[0].Manifest)
}
