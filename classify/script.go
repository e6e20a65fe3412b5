package classify

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dop251/goja"
)

// ScriptHook runs a user-supplied JavaScript refinement over classification
// results. The script must define refine(result, text) and return an object
// with company and description fields; returning nothing keeps the input.
type ScriptHook struct {
	prog *goja.Program
}

// LoadScript compiles a hook from a file.
func LoadScript(path string) (*ScriptHook, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewScriptHook(string(src))
}

// NewScriptHook compiles a hook from source.
func NewScriptHook(src string) (*ScriptHook, error) {
	prog, err := goja.Compile("refine.js", src, true)
	if err != nil {
		return nil, fmt.Errorf("compile hook: %w", err)
	}
	return &ScriptHook{prog: prog}, nil
}

// Refine invokes the hook. Each call runs in a fresh interpreter; a canceled
// context interrupts long-running scripts.
func (h *ScriptHook) Refine(ctx context.Context, in Result, text string) (Result, error) {
	vm := goja.New()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	if _, err := vm.RunProgram(h.prog); err != nil {
		return in, err
	}
	fn, ok := goja.AssertFunction(vm.Get("refine"))
	if !ok {
		return in, errors.New("script does not define refine(result, text)")
	}
	arg := vm.NewObject()
	arg.Set("company", in.Company)
	arg.Set("description", in.Description)
	ret, err := fn(goja.Undefined(), arg, vm.ToValue(text))
	if err != nil {
		return in, err
	}
	if ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
		return in, nil
	}
	obj := ret.ToObject(vm)
	out := in
	if v := obj.Get("company"); v != nil && !goja.IsUndefined(v) {
		out.Company = v.String()
	}
	if v := obj.Get("description"); v != nil && !goja.IsUndefined(v) {
		out.Description = v.String()
	}
	return out, nil
}
