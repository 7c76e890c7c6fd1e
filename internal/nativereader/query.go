package nativereader

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/rmacdonaldsmith/winlog-go/pkg/winlog"
)

// Filter is a compiled record query. The zero Filter matches everything.
//
// Queries are CEL boolean expressions over the record fields, for example:
//
//	eventId == 4625 && level <= 3
//	providerName.startsWith("Microsoft-Windows-Security") && processId != -1
//	timeCreated > timestamp("2024-01-01T00:00:00Z")
//
// processId and threadId are -1 when the record does not carry them.
type Filter struct {
	prog    cel.Program
	enabled bool
}

var queryEnv = mustQueryEnv()

func mustQueryEnv() *cel.Env {
	env, err := cel.NewEnv(
		cel.Variable("eventId", cel.IntType),
		cel.Variable("providerName", cel.StringType),
		cel.Variable("providerGuid", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("computer", cel.StringType),
		cel.Variable("eventName", cel.StringType),
		cel.Variable("level", cel.IntType),
		cel.Variable("task", cel.IntType),
		cel.Variable("opcode", cel.IntType),
		cel.Variable("keywords", cel.UintType),
		cel.Variable("eventRecordId", cel.UintType),
		cel.Variable("processId", cel.IntType),
		cel.Variable("threadId", cel.IntType),
		cel.Variable("timeCreated", cel.TimestampType),
	)
	if err != nil {
		panic(err)
	}
	return env
}

// CompileQuery compiles expr. An empty or blank expression yields a Filter
// that matches every record.
func CompileQuery(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{enabled: false}, nil
	}

	ast, iss := queryEnv.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, fmt.Errorf("%w: %v", ErrInvalidQuery, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return Filter{}, fmt.Errorf("%w: expression must evaluate to bool, got %s", ErrInvalidQuery, ast.OutputType())
	}

	prog, err := queryEnv.Program(ast)
	if err != nil {
		return Filter{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Match evaluates the filter against rec.
func (f Filter) Match(rec *winlog.EventRecord) (bool, error) {
	if !f.enabled {
		return true, nil
	}

	out, _, err := f.prog.Eval(map[string]any{
		"eventId":       rec.EventID,
		"providerName":  rec.ProviderName,
		"providerGuid":  rec.ProviderGUID,
		"channel":       rec.Channel,
		"computer":      rec.Computer,
		"eventName":     rec.EventName,
		"level":         rec.Level,
		"task":          rec.Task,
		"opcode":        rec.Opcode,
		"keywords":      rec.Keywords,
		"eventRecordId": rec.EventRecordID,
		"processId":     optionalID(rec.ProcessID),
		"threadId":      optionalID(rec.ThreadID),
		"timeCreated":   rec.TimeCreated,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate query: %w", err)
	}
	b, ok := out.Value().(bool)
	return ok && b, nil
}

func optionalID(v *uint32) int64 {
	if v == nil {
		return -1
	}
	return int64(*v)
}
