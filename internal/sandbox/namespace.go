package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/hyprrice/hyprsandbox/internal/event"
	"github.com/hyprrice/hyprsandbox/internal/validate"
)

// Thread-local keys
const (
	localContext = "hyprsandbox.context"
	localSession = "hyprsandbox.session"
)

// MaxSleep bounds a single host.sleep call
const MaxSleep = 10 * time.Minute

// libraries are the modules load() can serve, subject to the allow-list
var libraries = map[string]*starlarkstruct.Module{
	"json": json.Module,
	"math": math.Module,
	"time": starlarktime.Module,
}

// reflectionBuiltins are hidden at levels without the reflection capability
var reflectionBuiltins = []string{"getattr", "hasattr", "dir"}

// namespace builds the predeclared names of a session. Nothing outside
// this dictionary and the Starlark universe is reachable.
func (e *Executor) namespace(s *Session) starlark.StringDict {
	members := starlark.StringDict{
		"config":            starlark.NewBuiltin("host.config", e.hostConfig),
		"request_ui_update": starlark.NewBuiltin("host.request_ui_update", e.hostRequestUIUpdate),
		"log":               starlark.NewBuiltin("host.log", e.hostLog),
		"sleep":             starlark.NewBuiltin("host.sleep", hostSleep),
		"validate_color":    starlark.NewBuiltin("host.validate_color", hostValidateColor),
		"run":               starlark.NewBuiltin("host.run", e.hostRun),
		"level":             starlark.String(s.level),
		"extension":         starlark.String(s.Name()),
	}
	host := &starlarkstruct.Module{Name: "host", Members: members}
	host.Freeze()

	predeclared := starlark.StringDict{"host": host}
	if !s.caps.AllowReflection {
		for _, name := range reflectionBuiltins {
			predeclared[name] = starlark.NewBuiltin(name, denied(s))
		}
	}
	return predeclared
}

func denied(s *Session) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	level := s.level
	return func(_ *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		return nil, fmt.Errorf("%s is not available at security level %s", b.Name(), level)
	}
}

// newThread creates the interpreter thread for one call
func (e *Executor) newThread(ctx context.Context, s *Session) *starlark.Thread {
	thread := &starlark.Thread{
		Name: s.Name(),
		Print: func(_ *starlark.Thread, msg string) {
			e.logger.Debug("extension output",
				slog.String("extension", s.Name()),
				slog.String("message", msg),
			)
		},
		Load: e.load,
	}
	thread.SetLocal(localContext, ctx)
	thread.SetLocal(localSession, s)
	return thread
}

// load serves allow-listed library modules. A module is bound under its
// own name and its members are bound individually, so both
// load("json", "json") and load("json", "encode") work.
func (e *Executor) load(_ *starlark.Thread, module string) (starlark.StringDict, error) {
	if e.denied[module] {
		return nil, fmt.Errorf("module %q is not permitted", module)
	}
	lib, ok := libraries[module]
	if !ok || !e.allowed[module] {
		return nil, fmt.Errorf("module %q not found", module)
	}

	out := make(starlark.StringDict, len(lib.Members)+1)
	for name, v := range lib.Members {
		out[name] = v
	}
	out[module] = lib
	return out, nil
}

func threadContext(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(localContext).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

func threadSession(thread *starlark.Thread) *Session {
	s, _ := thread.Local(localSession).(*Session)
	return s
}

func (e *Executor) hostConfig(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := e.hostValues[key]; ok {
		return starlark.String(v), nil
	}
	return def, nil
}

func (e *Executor) hostRequestUIUpdate(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var component string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "component", &component); err != nil {
		return nil, err
	}
	if _, err := validate.Identifier(component, validate.NamePattern); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	name := ""
	if s := threadSession(thread); s != nil {
		name = s.Name()
	}
	e.logger.Debug("ui update requested",
		slog.String("extension", name),
		slog.String("component", component),
	)
	if e.onUIUpdate != nil {
		e.onUIUpdate(name, component)
	}
	return starlark.None, nil
}

func (e *Executor) hostLog(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("host.log: unexpected keyword arguments")
	}
	parts := make([]string, len(args))
	for i, arg := range args {
		if str, ok := starlark.AsString(arg); ok {
			parts[i] = str
		} else {
			parts[i] = arg.String()
		}
	}
	msg, err := validate.SanitizeText(strings.Join(parts, " "), 4096)
	if err != nil {
		return nil, fmt.Errorf("host.log: %w", err)
	}

	name := ""
	if s := threadSession(thread); s != nil {
		name = s.Name()
	}
	e.logger.Info("extension log", slog.String("extension", name), slog.String("message", msg))
	return starlark.None, nil
}

func hostSleep(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var seconds starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &seconds); err != nil {
		return nil, err
	}
	f, ok := starlark.AsFloat(seconds)
	if !ok || f < 0 {
		return nil, fmt.Errorf("%s: seconds must be a non-negative number", b.Name())
	}
	d := time.Duration(f * float64(time.Second))
	if d > MaxSleep {
		d = MaxSleep
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return starlark.None, nil
	case <-threadContext(thread).Done():
		return nil, fmt.Errorf("%s: interrupted", b.Name())
	}
}

func hostValidateColor(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var value string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "value", &value); err != nil {
		return nil, err
	}
	c, err := validate.ParseColor(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(c.Hex()), nil
}

func (e *Executor) hostRun(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	s := threadSession(thread)
	if s == nil || !s.caps.AllowCommands {
		level := ""
		if s != nil {
			level = string(s.level)
		}
		return nil, fmt.Errorf("%s is not permitted at security level %s", b.Name(), level)
	}
	if e.runner == nil {
		return nil, fmt.Errorf("%s: no command runner configured", b.Name())
	}
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}

	tokens := make([]string, len(args))
	for i, arg := range args {
		str, ok := starlark.AsString(arg)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d is %s, want string", b.Name(), i+1, arg.Type())
		}
		tokens[i] = str
	}

	out, err := e.runner.Run(threadContext(thread), tokens)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(out), nil
}

// eventValue converts an event into the struct passed to handlers
func eventValue(env event.Envelope) starlark.Value {
	fields := starlark.StringDict{
		"kind":      starlark.String(env.Event.Kind()),
		"timestamp": starlark.Float(float64(env.Timestamp.UnixNano()) / float64(time.Second)),
	}
	for name, v := range env.Event.Fields() {
		fields[name] = toStarlark(v)
	}
	st := starlarkstruct.FromStringDict(starlarkstruct.Default, fields)
	st.Freeze()
	return st
}

func toStarlark(v any) starlark.Value {
	switch v := v.(type) {
	case string:
		return starlark.String(v)
	case map[string]string:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dict := starlark.NewDict(len(v))
		for _, k := range keys {
			_ = dict.SetKey(starlark.String(k), starlark.String(v[k])) // fresh dict, cannot fail
		}
		return dict
	case nil:
		return starlark.None
	}
	return starlark.String(fmt.Sprint(v))
}
