package scripting

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/MJE43/bart-task-go/internal/engine"
)

// LogEntry is one log() call made by a strategy.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// VM is the sandboxed goja runtime a participant strategy runs in.
type VM struct {
	runtime *goja.Runtime
	mu      sync.Mutex

	// Log buffer of script output.
	logs    []LogEntry
	logsMu  sync.Mutex
	maxLogs int

	stopRequested bool

	initTimeout time.Duration
	callTimeout time.Duration
}

const (
	scriptInitTimeout = 2 * time.Second
	scriptCallTimeout = 1 * time.Second
)

// VMOptions configures a participant VM
type VMOptions struct {
	// Seed for Math.random inside the script.
	Seed int64
	// Params is exposed to the script as the global `params` object.
	Params      map[string]any
	InitTimeout time.Duration
	CallTimeout time.Duration
}

// NewVM creates a VM with the strategy globals installed.
func NewVM(opts VMOptions) *VM {
	vm := &VM{
		runtime:     goja.New(),
		maxLogs:     500,
		initTimeout: opts.InitTimeout,
		callTimeout: opts.CallTimeout,
	}
	if vm.initTimeout <= 0 {
		vm.initTimeout = scriptInitTimeout
	}
	if vm.callTimeout <= 0 {
		vm.callTimeout = scriptCallTimeout
	}

	vm.runtime.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	vm.runtime.SetRandSource(engine.NewSource(opts.Seed).Next)

	vm.injectGlobalFunctions()
	injectConstants(vm.runtime)
	injectParams(vm.runtime, opts.Params)
	return vm
}

// injectGlobalFunctions registers log, console.log, sleep and stop.
func (vm *VM) injectGlobalFunctions() {
	// log(...args) appends to the log buffer
	vm.runtime.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		vm.logsMu.Lock()
		if len(vm.logs) >= vm.maxLogs {
			vm.logs = vm.logs[1:]
		}
		vm.logs = append(vm.logs, LogEntry{Time: time.Now(), Message: msg})
		vm.logsMu.Unlock()

		return goja.Undefined()
	})

	console := vm.runtime.NewObject()
	console.Set("log", vm.runtime.Get("log"))
	vm.runtime.Set("console", console)

	// stop() abandons the session after the current decision
	vm.runtime.Set("stop", func(call goja.FunctionCall) goja.Value {
		vm.stopRequested = true
		return goja.Undefined()
	})

	// sleep(ms) sets the think time before the next action
	vm.runtime.Set("sleep", func(call goja.FunctionCall) goja.Value {
		ms := 0
		if len(call.Arguments) > 0 {
			ms = int(call.Arguments[0].ToInteger())
		}
		vm.runtime.Set("sleeptime", ms)
		return goja.Undefined()
	})

	// No module loading, network or dynamic code.
	vm.runtime.Set("require", goja.Undefined())
	vm.runtime.Set("fetch", goja.Undefined())
	vm.runtime.Set("XMLHttpRequest", goja.Undefined())
	vm.runtime.Set("eval", goja.Undefined())
	vm.runtime.Set("Function", goja.Undefined())
}

// Execute runs the strategy source once to register decide().
func (vm *VM) Execute(source string) error {
	return vm.runWithTimeout(vm.initTimeout, func() error {
		vm.mu.Lock()
		defer vm.mu.Unlock()
		_, err := vm.runtime.RunString(source)
		if err != nil {
			return fmt.Errorf("script execution error: %w", err)
		}
		return nil
	})
}

// HasDecide returns true if the script defined a decide() function.
func (vm *VM) HasDecide() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	fn := vm.runtime.Get("decide")
	if fn == nil || goja.IsUndefined(fn) || goja.IsNull(fn) {
		return false
	}
	_, ok := goja.AssertFunction(fn)
	return ok
}

// CallDecide calls decide(trial) and parses the returned action.
func (vm *VM) CallDecide(view TrialView) (Action, error) {
	var out Action
	err := vm.runWithTimeout(vm.callTimeout, func() error {
		vm.mu.Lock()
		defer vm.mu.Unlock()

		fn := vm.runtime.Get("decide")
		if fn == nil || goja.IsUndefined(fn) || goja.IsNull(fn) {
			return ErrNoDecide
		}

		callable, ok := goja.AssertFunction(fn)
		if !ok {
			return fmt.Errorf("decide is not a function")
		}

		result, err := callable(goja.Undefined(), vm.runtime.ToValue(view))
		if err != nil {
			return fmt.Errorf("decide() error: %w", err)
		}

		action, err := ParseAction(result.String())
		if err != nil {
			return err
		}
		out = action
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// IsStopRequested reports whether the strategy called stop().
func (vm *VM) IsStopRequested() bool {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.stopRequested
}

// TakeSleepTime returns the think time set by sleep() and clears it.
func (vm *VM) TakeSleepTime() (time.Duration, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	val := vm.runtime.Get("sleeptime")
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return 0, false
	}
	ms := val.ToInteger()
	vm.runtime.Set("sleeptime", goja.Undefined())
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond, true
}

// GetLogs copies the retained log lines, oldest first.
func (vm *VM) GetLogs() []LogEntry {
	vm.logsMu.Lock()
	defer vm.logsMu.Unlock()
	out := make([]LogEntry, len(vm.logs))
	copy(out, vm.logs)
	return out
}

func (vm *VM) runWithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		vm.runtime.Interrupt("script execution timeout")
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("%w: %v", ErrTimeout, err)
			}
			return ErrTimeout
		case <-time.After(200 * time.Millisecond):
			return ErrTimeout
		}
	}
}
