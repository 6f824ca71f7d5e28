package config

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelRuntime(t *testing.T) {
	rt, err := ParseModelRuntime("models/bestt_post.onnx")
	require.NoError(t, err)
	assert.Equal(t, RuntimeONNX, rt)

	rt, err = ParseModelRuntime("post.TFLITE")
	require.NoError(t, err)
	assert.Equal(t, RuntimeTFLite, rt)
	assert.Equal(t, "tflite", rt.String())

	_, err = ParseModelRuntime("post.pb")
	var cerr *ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "post_model", cerr.Field)
}

func TestBindDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := Bind(fs)
	require.NoError(t, fs.Parse(nil))
	require.NoError(t, c.Resolve())

	assert.Equal(t, []string{"/dev/video0"}, c.VideoPaths)
	assert.Equal(t, "bestt.dfp", c.DFP)
	assert.Equal(t, "bestt_post.onnx", c.PostModel)
	assert.Equal(t, RuntimeONNX, c.Runtime)
	assert.Equal(t, 5000, c.Port)
	assert.False(t, c.LogCaller)
}

func TestBindFlagsAndEnv(t *testing.T) {
	t.Setenv(EnvPrefix+"PORT", "8080")
	t.Setenv(EnvPrefix+"POST_MODEL", "post.tflite")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := Bind(fs)
	require.NoError(t, fs.Parse([]string{"-video_paths", "/dev/video1, a.mp4,,b.mp4", "-log_caller"}))
	require.NoError(t, c.Resolve())
	assert.True(t, c.LogCaller)

	assert.Equal(t, []string{"/dev/video1", "a.mp4", "b.mp4"}, c.VideoPaths)
	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, RuntimeTFLite, c.Runtime)
}

func TestResolveRejects(t *testing.T) {
	for _, args := range [][]string{
		{"-post_model", "model.pb"},
		{"-video_paths", " , "},
		{"-port", "0"},
		{"-log_level", "chatty"},
		{"-labels", "/does/not/exist"},
	} {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		c := Bind(fs)
		require.NoError(t, fs.Parse(args))
		var cerr *ConfigurationError
		assert.ErrorAs(t, c.Resolve(), &cerr, strings.Join(args, " "))
	}
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	p := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(p, []byte("SITEGUARD_DFP=other.dfp\n"), 0644))
	t.Setenv(EnvPrefix+"DFP", "")
	os.Unsetenv(EnvPrefix + "DFP")
	require.NoError(t, LoadDotEnv(p))
	assert.Equal(t, "other.dfp", os.Getenv(EnvPrefix+"DFP"))
}

func TestDecodeTuning(t *testing.T) {
	tu, err := decodeTuning(strings.NewReader(`{"jpeg_quality": 70, "max_client_fps": 12.5}`), false)
	require.NoError(t, err)
	assert.Equal(t, Tuning{JPEGQuality: 70, MaxClientFPS: 12.5}, *tu)

	tu, err = decodeTuning(strings.NewReader("min_confidence: 0.4\n"), true)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, tu.MinConfidence, 1e-6)

	_, err = decodeTuning(strings.NewReader(`{"jpeg_quality": 101}`), false)
	assert.Error(t, err)
}

func TestWatchTuningReloads(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(p, []byte("jpeg_quality: 50\n"), 0644))

	var mu sync.Mutex
	var got []int
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, WatchTuning(ctx, p, func(tu *Tuning) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, tu.JPEGQuality)
	}))

	mu.Lock()
	assert.Equal(t, []int{50}, got)
	mu.Unlock()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(p, []byte("jpeg_quality: 80\n"), 0644))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 1 && got[len(got)-1] == 80
	}, 3*time.Second, 20*time.Millisecond)
}
