package inference

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"siteguard/config"
)

type NetOptions struct {
	// Model is the network file.
	Model string
	// Runtime selects the importer for Model.
	Runtime config.ModelRuntime
	// DFP is the compiled accelerator program. The CPU backend only records it.
	DFP string
}

// NetAccelerator executes a network on the CPU through OpenCV's DNN module.
// One worker goroutine per stream pulls input and pushes output; forward
// passes share one network and are serialised.
type NetAccelerator struct {
	net   gocv.Net
	model string

	// l guards net and closed.
	l      sync.Mutex
	closed bool

	wg        sync.WaitGroup
	errl      sync.Mutex
	err       error
	connected bool
}

// NewNetAccelerator loads the network. A runtime the CPU backend cannot load
// is reported as a *config.ConfigurationError.
func NewNetAccelerator(opts NetOptions) (*NetAccelerator, error) {
	net, err := readNet(opts)
	if err != nil {
		return nil, err
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	if opts.DFP != "" {
		log.Warnf("No accelerator attached; ignoring dataflow program %v and running %v on the CPU", opts.DFP, opts.Model)
	}
	log.Infof("Loaded network %v", opts.Model)
	return &NetAccelerator{
		net:   net,
		model: opts.Model,
	}, nil
}

func readNet(opts NetOptions) (gocv.Net, error) {
	switch opts.Runtime {
	case config.RuntimeONNX:
	case config.RuntimeTFLite:
		return gocv.Net{}, &config.ConfigurationError{
			Field:  "post_model",
			Value:  opts.Model,
			Reason: "this OpenCV build has no TFLite importer, convert the model to ONNX",
		}
	default:
		return gocv.Net{}, &config.ConfigurationError{
			Field:  "post_model",
			Value:  opts.Model,
			Reason: fmt.Sprintf("unsupported model runtime %v", opts.Runtime),
		}
	}

	// OpenCV aborts on a missing file rather than returning an empty network.
	if _, err := os.Stat(opts.Model); err != nil {
		return gocv.Net{}, fmt.Errorf("model: %w", err)
	}
	net := gocv.ReadNetFromONNX(opts.Model)
	if net.Empty() {
		net.Close()
		return gocv.Net{}, fmt.Errorf("failed to read network from %v", opts.Model)
	}
	return net, nil
}

func (a *NetAccelerator) ConnectStreams(in InputFunc, out OutputFunc, n int) error {
	a.errl.Lock()
	defer a.errl.Unlock()
	if a.connected {
		return fmt.Errorf("streams already connected")
	}
	a.connected = true

	for i := 0; i < n; i++ {
		a.wg.Add(1)
		go a.run(i, in, out)
	}
	log.Infof("%v inference started on %d streams", a.model, n)
	return nil
}

func (a *NetAccelerator) run(stream int, in InputFunc, out OutputFunc) {
	defer a.wg.Done()
	clog := log.WithField("stream", stream)

	for !a.failed() {
		tensor, err := in(stream)
		if err == io.EOF {
			clog.Infof("Stream exhausted")
			return
		}
		if err != nil {
			a.fail(fmt.Errorf("stream %d input: %w", stream, err))
			return
		}

		output, err := a.forward(tensor)
		tensor.Close()
		if err != nil {
			a.fail(fmt.Errorf("stream %d forward: %w", stream, err))
			return
		}

		err = out(stream, []gocv.Mat{output})
		output.Close()
		if err != nil {
			a.fail(fmt.Errorf("stream %d output: %w", stream, err))
			return
		}
	}
}

func (a *NetAccelerator) forward(tensor gocv.Mat) (gocv.Mat, error) {
	a.l.Lock()
	defer a.l.Unlock()
	if a.closed {
		return gocv.Mat{}, ErrClosed
	}

	start := time.Now()
	a.net.SetInput(tensor, "")
	out := a.net.Forward("")
	log.Debugf("Forward pass ran in %v", time.Since(start))

	if out.Empty() {
		out.Close()
		return gocv.Mat{}, fmt.Errorf("empty network output")
	}
	return out, nil
}

func (a *NetAccelerator) fail(err error) {
	a.errl.Lock()
	defer a.errl.Unlock()
	if a.err == nil {
		log.Errorf("Inference failed: %v", err)
		a.err = err
	}
}

func (a *NetAccelerator) failed() bool {
	a.errl.Lock()
	defer a.errl.Unlock()
	return a.err != nil
}

func (a *NetAccelerator) Wait() error {
	a.wg.Wait()
	a.errl.Lock()
	defer a.errl.Unlock()
	return a.err
}

func (a *NetAccelerator) Close() error {
	a.l.Lock()
	defer a.l.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.net.Close()
}
