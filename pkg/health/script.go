package health

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/openfroyo/fabricupgrade/pkg/engine"
	"github.com/openfroyo/fabricupgrade/pkg/telemetry"
)

// maxScriptSteps bounds a single evaluation of a script check.
const maxScriptSteps = 10_000_000

// ScriptCheck is an operator-supplied health check written in Starlark.
//
// The script must define a function check() returning True (healthy),
// False (unhealthy) or None (not settled yet, retry). These builtins are
// available:
//
//	get_class(cls, filter=None)  list of records, attributes as fields
//	count(cls)                   number of objects of cls
//	warn(msg)                    log a warning
//	struct(**kwargs)             build a struct
type ScriptCheck struct {
	name    string
	program *starlark.Program
	Logger  *telemetry.Logger
}

// NewScriptCheck compiles src. The source must define check().
func NewScriptCheck(name, src string) (*ScriptCheck, error) {
	if name == "" {
		return nil, fmt.Errorf("script check requires a name")
	}
	f, prog, err := starlark.SourceProgram(name+".star", src, isScriptBuiltin)
	if err != nil {
		return nil, fmt.Errorf("failed to compile script check %q: %w", name, err)
	}
	if !definesCheck(f) {
		return nil, fmt.Errorf("script check %q does not define check()", name)
	}
	return &ScriptCheck{name: name, program: prog}, nil
}

// Name returns the check name.
func (c *ScriptCheck) Name() string {
	return c.name
}

func (c *ScriptCheck) logger(ctx context.Context) *telemetry.Logger {
	if c.Logger != nil {
		return c.Logger.WithField("check", c.name)
	}
	return telemetry.FromContext(ctx).WithField("check", c.name)
}

// Run evaluates the script against s.
func (c *ScriptCheck) Run(ctx context.Context, s engine.Session) (engine.Outcome, error) {
	logger := c.logger(ctx)

	// Query errors are kept so the retry loop can classify them.
	var queryErr error

	thread := &starlark.Thread{
		Name: c.name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug(msg)
		},
	}
	thread.SetMaxExecutionSteps(maxScriptSteps)
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"get_class": starlark.NewBuiltin("get_class", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var class string
			var filter starlark.Value = starlark.None
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "cls", &class, "filter?", &filter); err != nil {
				return nil, err
			}
			var q *engine.Query
			if f, ok := filter.(starlark.String); ok {
				q = &engine.Query{Filter: string(f)}
			} else if filter != starlark.None {
				return nil, fmt.Errorf("%s: filter must be a string or None", b.Name())
			}
			records, err := s.GetClass(ctx, class, q)
			if err != nil {
				queryErr = err
				return nil, err
			}
			return recordList(records), nil
		}),
		"count": starlark.NewBuiltin("count", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var class string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "cls", &class); err != nil {
				return nil, err
			}
			n, err := s.Count(ctx, class)
			if err != nil {
				queryErr = err
				return nil, err
			}
			return starlark.MakeInt(n), nil
		}),
		"warn": starlark.NewBuiltin("warn", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var msg string
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "msg", &msg); err != nil {
				return nil, err
			}
			logger.Warn(msg)
			return starlark.None, nil
		}),
	}

	globals, err := c.program.Init(thread, predeclared)
	if err != nil {
		return c.failed(ctx, logger, queryErr, err)
	}
	result, err := starlark.Call(thread, globals["check"], nil, nil)
	if err != nil {
		return c.failed(ctx, logger, queryErr, err)
	}

	switch result {
	case starlark.True:
		return engine.Success, nil
	case starlark.False:
		return engine.Failure, nil
	case starlark.None:
		return engine.Pending, nil
	}
	logger.Errorf("check() returned %s, want bool or None", result.Type())
	return engine.Failure, nil
}

// failed maps an evaluation error. Query errors and cancellation are returned
// for the retry loop; errors in the script itself fail the check.
func (c *ScriptCheck) failed(ctx context.Context, logger *telemetry.Logger, queryErr, err error) (engine.Outcome, error) {
	if queryErr != nil {
		return engine.Pending, queryErr
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return engine.Pending, ctxErr
	}
	logger.WithError(err).Error("Script check error")
	return engine.Failure, nil
}

func isScriptBuiltin(name string) bool {
	switch name {
	case "struct", "get_class", "count", "warn":
		return true
	}
	return false
}

func definesCheck(f *syntax.File) bool {
	for _, stmt := range f.Stmts {
		if def, ok := stmt.(*syntax.DefStmt); ok && def.Name.Name == "check" {
			return true
		}
	}
	return false
}

// recordList converts records to a list of structs.
func recordList(records []engine.Attributes) *starlark.List {
	list := make([]starlark.Value, 0, len(records))
	for _, r := range records {
		fields := make(starlark.StringDict, len(r))
		for k, v := range r {
			fields[k] = starlark.String(v)
		}
		list = append(list, starlarkstruct.FromStringDict(starlarkstruct.Default, fields))
	}
	return starlark.NewList(list)
}
