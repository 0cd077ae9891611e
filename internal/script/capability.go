package script

import (
	"fmt"
	"log/slog"
	"time"

	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// allowedModules is the import allow-list. A load() of any other name
// fails with ErrImportNotPermitted. All three are side-effect free
// Starlark library modules; review of this table is the capability
// boundary for imports.
var allowedModules = map[string]*starlarkstruct.Module{
	"math": starmath.Module,
	"time": startime.Module,
	"json": starjson.Module,
}

// moduleInits holds per-thread initialization for modules that need it.
// The time module resolves now() through thread-local state; without this
// the script would see an error on every call.
var moduleInits = map[string]func(*starlark.Thread) error{
	"time": func(thread *starlark.Thread) error {
		startime.SetNow(thread, func() (time.Time, error) {
			return time.Now().UTC(), nil
		})
		return nil
	},
}

// loadModule is the environment's Starlark load() handler.
func (e *Environment) loadModule(thread *starlark.Thread, name string) (starlark.StringDict, error) {
	mod, ok := allowedModules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotPermitted, name)
	}
	if init, ok := moduleInits[name]; ok {
		if err := init(thread); err != nil {
			// Best effort: the module is still handed out, the script
			// just sees runtime errors from the uninitialized parts.
			e.logger.Warn("module initialization failed",
				slog.String("module", name),
				slog.String("lesson_id", e.lessonID),
				slog.String("error", err.Error()),
			)
		}
	}
	return starlark.StringDict{mod.Name: mod}, nil
}

// capabilitySurface builds the predeclared namespace the script executes
// under. This is the complete set of host bridges: log, emit, the state
// module, and the four hook registrars. Starlark itself provides no
// filesystem, process, or network access, so nothing else needs denying.
func (e *Environment) capabilitySurface() starlark.StringDict {
	stateModule := &starlarkstruct.Module{
		Name: "state",
		Members: starlark.StringDict{
			"get":    starlark.NewBuiltin("state.get", e.stateGet),
			"set":    starlark.NewBuiltin("state.set", e.stateSet),
			"update": starlark.NewBuiltin("state.update", e.stateUpdate),
			"keys":   starlark.NewBuiltin("state.keys", e.stateKeys),
		},
	}

	return starlark.StringDict{
		"log":         starlark.NewBuiltin("log", e.builtinLog),
		"emit":        starlark.NewBuiltin("emit", e.builtinEmit),
		"state":       stateModule,
		"on_start":    e.registrar("on_start", HookStart),
		"on_gesture":  e.registrar("on_gesture", HookGesture),
		"on_tick":     e.registrar("on_tick", HookTick),
		"on_complete": e.registrar("on_complete", HookComplete),
	}
}

// registrar returns a builtin that binds a callable to one hook slot.
// Registration is only legal while the script body executes during load;
// afterwards the slots are sealed.
func (e *Environment) registrar(name string, hook Hook) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var fn starlark.Callable
		if err := starlark.UnpackPositionalArgs(name, args, kwargs, 1, &fn); err != nil {
			return nil, err
		}
		if e.sealed {
			return nil, fmt.Errorf("%s: %w", name, ErrRegistrationSealed)
		}
		if _, exists := e.hooks[hook]; exists {
			e.logger.Warn("hook registered twice, replacing",
				slog.String("hook", string(hook)),
				slog.String("lesson_id", e.lessonID),
			)
		}
		e.hooks[hook] = fn
		return fn, nil
	})
}

func (e *Environment) builtinLog(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var level, message string
	if err := starlark.UnpackPositionalArgs("log", args, kwargs, 2, &level, &message); err != nil {
		return nil, err
	}

	severity := normalizeSeverity(level)
	attrs := []any{
		slog.String("lesson_id", e.lessonID),
		slog.String("session_id", e.sessionID),
	}
	switch severity {
	case SeverityDebug:
		e.logger.Debug(message, attrs...)
	case SeverityWarning:
		e.logger.Warn(message, attrs...)
	case SeverityError:
		e.logger.Error(message, attrs...)
	default:
		e.logger.Info(message, attrs...)
	}

	e.appendEvent(EventLog, map[string]any{"level": severity, "message": message}, severity)
	return starlark.None, nil
}

func (e *Environment) builtinEmit(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var eventType string
	var data starlark.Value = starlark.None
	if err := starlark.UnpackArgs("emit", args, kwargs, "type", &eventType, "data?", &data); err != nil {
		return nil, err
	}

	var payload map[string]any
	if data != starlark.None {
		g, err := toGo(data)
		if err != nil {
			return nil, fmt.Errorf("emit: %w", err)
		}
		m, ok := g.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("emit: data must be a dict, got %s", data.Type())
		}
		payload = m
	}

	e.appendEvent(eventType, payload, SeverityInfo)
	return starlark.None, nil
}

func (e *Environment) stateGet(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key starlark.Value = starlark.None
	if err := starlark.UnpackArgs("state.get", args, kwargs, "key?", &key); err != nil {
		return nil, err
	}

	// No key: the whole state as a dict.
	if key == starlark.None {
		return toStarlark(e.state.Snapshot())
	}

	k, ok := starlark.AsString(key)
	if !ok {
		return nil, fmt.Errorf("state.get: key must be a string, got %s", key.Type())
	}
	v, ok := e.state.Get(k)
	if !ok {
		return starlark.None, nil
	}
	return toStarlark(v)
}

func (e *Environment) stateSet(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var value starlark.Value
	if err := starlark.UnpackPositionalArgs("state.set", args, kwargs, 2, &key, &value); err != nil {
		return nil, err
	}
	g, err := toGo(value)
	if err != nil {
		return nil, fmt.Errorf("state.set: %w", err)
	}
	e.state.Set(key, g)
	return starlark.None, nil
}

func (e *Environment) stateUpdate(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var d *starlark.Dict
	if err := starlark.UnpackPositionalArgs("state.update", args, kwargs, 1, &d); err != nil {
		return nil, err
	}
	g, err := toGo(d)
	if err != nil {
		return nil, fmt.Errorf("state.update: %w", err)
	}
	e.state.Update(g.(map[string]any))
	return starlark.None, nil
}

func (e *Environment) stateKeys(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs("state.keys", args, kwargs, 0); err != nil {
		return nil, err
	}
	keys := e.state.Keys()
	list := make([]starlark.Value, len(keys))
	for i, k := range keys {
		list[i] = starlark.String(k)
	}
	return starlark.NewList(list), nil
}

func normalizeSeverity(level string) string {
	switch level {
	case "debug", "DEBUG":
		return SeverityDebug
	case "warning", "WARNING", "warn", "WARN":
		return SeverityWarning
	case "error", "ERROR":
		return SeverityError
	default:
		return SeverityInfo
	}
}
