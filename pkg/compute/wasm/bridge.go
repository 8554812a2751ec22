package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// bridge moves JSON in and out of one module instance's linear memory.
//
// A compute export has the signature fn(input_ptr u32, input_len u32) -> u64
// and returns (output_ptr << 32) | output_len.
type bridge struct {
	memory api.Memory
	malloc api.Function
	free   api.Function
}

func newBridge(mod api.Module) *bridge {
	return &bridge{
		memory: mod.Memory(),
		malloc: mod.ExportedFunction(exportMalloc),
		free:   mod.ExportedFunction(exportFree),
	}
}

func (b *bridge) call(ctx context.Context, fn api.Function, input []byte) ([]byte, error) {
	if fn == nil {
		return nil, fmt.Errorf("function not exported")
	}

	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := b.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, fmt.Errorf("failed to allocate WASM memory: %w", err)
		}
		defer b.deallocate(ctx, ptr)

		inputPtr = ptr
		inputLen = uint32(len(input))
		if !b.memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("failed to write input to WASM memory")
		}
	}

	results, err := fn.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("WASM function call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("WASM function returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)
	if outputLen == 0 {
		return []byte("{}"), nil
	}

	output, ok := b.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}
	// Read returns a view; copy before the instance goes away.
	out := make([]byte, len(output))
	copy(out, output)

	b.deallocate(ctx, outputPtr)
	return out, nil
}

func (b *bridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("malloc returned no results")
	}

	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}
	return ptr, nil
}

// deallocate frees ptr. Errors are ignored; the instance is discarded
// after each call.
func (b *bridge) deallocate(ctx context.Context, ptr uint32) {
	_, _ = b.free.Call(ctx, uint64(ptr))
}
