//go:build cgo

package embedder

import (
	"fmt"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// ONNXRuntime returns a factory that runs models with the ONNX Runtime
// shared library at libPath, or the platform default library when libPath
// is empty. The runtime environment is process-wide and initialized once.
func ONNXRuntime(libPath string) RuntimeFactory {
	return func(modelPath string, hidden int) (Runtime, error) {
		ortOnce.Do(func() {
			if libPath != "" {
				ort.SetSharedLibraryPath(libPath)
			}
			ortErr = ort.InitializeEnvironment()
		})
		if ortErr != nil {
			return nil, fmt.Errorf("failed to initialize onnxruntime: %w", ortErr)
		}

		session, err := ort.NewDynamicAdvancedSession(modelPath,
			[]string{"input_ids", "attention_mask", "token_type_ids"},
			[]string{"last_hidden_state"},
			nil)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", modelPath, err)
		}
		return &onnxRuntime{session: session, hidden: hidden}, nil
	}
}

type onnxRuntime struct {
	session *ort.DynamicAdvancedSession
	hidden  int
}

func (r *onnxRuntime) Run(inputIDs, attentionMask, tokenTypeIDs []int64, batch, seqLen int) ([]float32, error) {
	shape := ort.NewShape(int64(batch), int64(seqLen))

	ids, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ids.Destroy() }()

	mask, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		return nil, err
	}
	defer func() { _ = mask.Destroy() }()

	types, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		return nil, err
	}
	defer func() { _ = types.Destroy() }()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(batch), int64(seqLen), int64(r.hidden)))
	if err != nil {
		return nil, err
	}
	defer func() { _ = out.Destroy() }()

	if err := r.session.Run([]ort.Value{ids, mask, types}, []ort.Value{out}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	return slices.Clone(out.GetData()), nil
}

func (r *onnxRuntime) Close() error {
	return r.session.Destroy()
}
