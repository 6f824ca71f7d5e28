package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EnvPrefix namespaces the environment variables supplying flag defaults.
const EnvPrefix = "SITEGUARD_"

// ModelRuntime identifies the post-processing model format.
type ModelRuntime int

const (
	RuntimeONNX ModelRuntime = iota + 1
	RuntimeTFLite
)

func (r ModelRuntime) String() string {
	switch r {
	case RuntimeONNX:
		return "onnx"
	case RuntimeTFLite:
		return "tflite"
	}
	return "unknown"
}

// ParseModelRuntime resolves a model path by its extension.
func ParseModelRuntime(path string) (ModelRuntime, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".onnx":
		return RuntimeONNX, nil
	case ".tflite":
		return RuntimeTFLite, nil
	}
	return 0, &ConfigurationError{
		Field:  "post_model",
		Value:  path,
		Reason: "unsupported model format, expected .onnx or .tflite",
	}
}

// ConfigurationError reports an invalid startup setting.
type ConfigurationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Config holds the startup settings.
type Config struct {
	VideoPaths []string `validate:"min=1,dive,required"`
	DFP        string   `validate:"required"`
	PostModel  string   `validate:"required"`
	Runtime    ModelRuntime
	Port       int    `validate:"min=1,max=65535"`
	Labels     string `validate:"omitempty,file"`
	LogLevel   string `validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFile    string
	LogCaller  bool
	// TuningFile is watched for runtime settings, see Tuning.
	TuningFile string `validate:"omitempty,file"`
	RecordDir  string
	// RecordMaxMB caps the size of RecordDir, zero is unlimited.
	RecordMaxMB      int `validate:"min=0"`
	ReleaseExhausted bool

	videoPaths string
}

// LoadDotEnv exports the variables of an env file, if it exists. Variables
// already set take precedence.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// Bind registers the startup flags on fs. Defaults are read from the
// environment, so LoadDotEnv must run first.
func Bind(fs *flag.FlagSet) *Config {
	c := &Config{}
	fs.StringVar(&c.videoPaths, "video_paths", env("VIDEO_PATHS", "/dev/video0"), "Comma separated cameras (/dev/videoN or N) and video files.")
	fs.StringVar(&c.DFP, "dfp", env("DFP", "bestt.dfp"), "Compiled dataflow program for the accelerator.")
	fs.StringVar(&c.PostModel, "post_model", env("POST_MODEL", "bestt_post.onnx"), "Detection model (.onnx or .tflite).")
	fs.IntVar(&c.Port, "port", envInt("PORT", 5000), "Port to host the web frontend.")
	fs.StringVar(&c.Labels, "labels", env("LABELS", ""), "File with one class label per line. Defaults to COCO.")
	fs.StringVar(&c.LogLevel, "log_level", env("LOG_LEVEL", "info"), "Minimum log level.")
	fs.StringVar(&c.LogFile, "log_file", env("LOG_FILE", ""), "Also log to this file, rotated.")
	fs.BoolVar(&c.LogCaller, "log_caller", envBool("LOG_CALLER", false), "Include the calling file and function in log entries.")
	fs.StringVar(&c.TuningFile, "config", env("CONFIG", ""), "JSON or YAML file with runtime settings, reloaded on change.")
	fs.StringVar(&c.RecordDir, "record_dir", env("RECORD_DIR", ""), "Record annotated streams as MP4 into this directory.")
	fs.IntVar(&c.RecordMaxMB, "record_max_mb", envInt("RECORD_MAX_MB", 10<<10), "Delete the oldest recordings beyond this many MiB.")
	fs.BoolVar(&c.ReleaseExhausted, "release_exhausted", envBool("RELEASE_EXHAUSTED", false), "Close each source as soon as it runs out of frames.")
	return c
}

// Resolve finalizes a bound Config after flag parsing. Any problem is
// reported as a *ConfigurationError.
func (c *Config) Resolve() error {
	c.VideoPaths = nil
	for _, p := range strings.Split(c.videoPaths, ",") {
		if p = strings.TrimSpace(p); p != "" {
			c.VideoPaths = append(c.VideoPaths, p)
		}
	}
	if err := c.Validate(); err != nil {
		return err
	}
	rt, err := ParseModelRuntime(c.PostModel)
	if err != nil {
		return err
	}
	c.Runtime = rt
	return nil
}

func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ConfigurationError{
			Field:  fe.Field(),
			Value:  fmt.Sprint(fe.Value()),
			Reason: fmt.Sprintf("failed %q check", fe.Tag()),
		}
	}
	return err
}

func env(key, def string) string {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(env(key, "")); err == nil {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(env(key, "")); err == nil {
		return v
	}
	return def
}
