package inference

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"siteguard/config"
)

func TestNewNetAcceleratorRuntime(t *testing.T) {
	model := filepath.Join(t.TempDir(), "post.tflite")

	for _, rt := range []config.ModelRuntime{config.RuntimeTFLite, 0} {
		_, err := NewNetAccelerator(NetOptions{Model: model, Runtime: rt})
		var cerr *config.ConfigurationError
		if assert.ErrorAs(t, err, &cerr, rt.String()) {
			assert.Equal(t, "post_model", cerr.Field)
			assert.Equal(t, model, cerr.Value)
		}
	}

	_, err := NewNetAccelerator(NetOptions{Model: filepath.Join(t.TempDir(), "missing.onnx"), Runtime: config.RuntimeONNX})
	assert.ErrorIs(t, err, os.ErrNotExist)
	var cerr *config.ConfigurationError
	assert.False(t, errors.As(err, &cerr))
}
