package cel

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/kestrel-social/kestrel/internal/domain/policy"
)

// variables are the request fields a condition can read.
var variables = []struct {
	name string
	typ  *cel.Type
}{
	{"tool_name", cel.StringType},
	{"category", cel.StringType},
	{"actor", cel.StringType},
	{"actor_type", cel.StringType},
	{"mode", cel.StringType},
	{"args", cel.MapType(cel.StringType, cel.DynType)},
	{"content", cel.StringType},
	{"score", cel.DoubleType},
	{"approved", cel.BoolType},

	{"language", cel.StringType},
	{"author", cel.StringType},
	{"keyword", cel.StringType},
	{"engagement", cel.StringType},

	{"request_time", cel.TimestampType},
	{"hour", cel.IntType},
	{"weekday", cel.IntType},
}

// Variables lists the request variable names in declaration order.
var Variables = func() []string {
	names := make([]string, len(variables))
	for i, v := range variables {
		names[i] = v.name
	}
	return names
}()

// NewPolicyEnvironment creates the CEL environment rule conditions compile against.
//   - Request variables: tool_name, category, actor, actor_type, mode, args, content, score, approved
//   - Targeting variables: language, author, keyword, engagement
//   - Time variables: request_time, hour, weekday (UTC, Sunday = 0)
//   - Functions: glob, arg, arg_contains
func NewPolicyEnvironment() (*cel.Env, error) {
	opts := []cel.EnvOption{ext.Strings(), ext.Sets()}
	for _, v := range variables {
		opts = append(opts, cel.Variable(v.name, v.typ))
	}
	return cel.NewEnv(append(opts,
		// glob("reply_*", tool_name)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// arg(args, "text") returns null for a missing key.
		cel.Function("arg",
			cel.Overload("arg_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					key := keyVal.Value().(string)
					switch m := mapVal.Value().(type) {
					case map[string]any:
						if v, found := m[key]; found {
							return types.DefaultTypeAdapter.NativeToValue(v)
						}
					case map[ref.Val]ref.Val:
						if v, found := m[types.String(key)]; found {
							return v
						}
					}
					return types.NullValue
				}),
			),
		),

		// arg_contains(args, "giveaway") is a case-insensitive substring
		// search over every string argument.
		cel.Function("arg_contains",
			cel.Overload("arg_contains_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(mapVal, substrVal ref.Val) ref.Val {
					substr := strings.ToLower(substrVal.Value().(string))
					switch m := mapVal.Value().(type) {
					case map[string]any:
						for _, v := range m {
							if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), substr) {
								return types.Bool(true)
							}
						}
					case map[ref.Val]ref.Val:
						for _, v := range m {
							if s, ok := v.Value().(string); ok && strings.Contains(strings.ToLower(s), substr) {
								return types.Bool(true)
							}
						}
					}
					return types.Bool(false)
				}),
			),
		),
	)...)
}

// BuildActivation creates the CEL activation for a request evaluated in mode.
func BuildActivation(req policy.Request, mode policy.Mode) map[string]any {
	args := req.Args
	if args == nil {
		args = map[string]any{}
	}
	now := req.Time
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	return map[string]any{
		"tool_name":  req.Tool,
		"category":   string(req.Category),
		"actor":      req.Actor,
		"actor_type": policy.ActorType(req.Actor),
		"mode":       string(mode),
		"args":       args,
		"content":    req.Content,
		"score":      req.Score,
		"approved":   req.Approved(),

		"language":   req.Language,
		"author":     req.Author,
		"keyword":    req.Keyword,
		"engagement": req.Engagement,

		"request_time": now,
		"hour":         int64(now.Hour()),
		"weekday":      int64(now.Weekday()),
	}
}
