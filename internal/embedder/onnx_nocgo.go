//go:build !cgo

package embedder

import "errors"

// ONNXRuntime reports that inference is unavailable: the ONNX Runtime
// bindings need a cgo build
func ONNXRuntime(libPath string) RuntimeFactory {
	return func(string, int) (Runtime, error) {
		return nil, errors.New("onnxruntime requires a cgo build")
	}
}
