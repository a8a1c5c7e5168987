package builder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"regexp"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/pelletier/go-toml/v2"
)

// ConfigFilename is looked up in the build root. A root without one
// builds with defaults: every source in the root itself, output named
// after the directory.
const ConfigFilename = "Mason.toml"

var defaultProfiles = map[string]ProfileSection{
	"release": {
		OptLevel: intOrString{Value: 3},
	},
	"debug": {
		OptLevel: intOrString{Value: ""}, // no -O
	},
}

type Config struct {
	Package      PackageSection            `toml:"package"`
	Target       TargetSection             `toml:"target"`
	Dependencies map[string]string         `toml:"dependencies"`
	Profile      map[string]ProfileSection `toml:"profile"`
}

func (c Config) Profiles() []string {
	profiles := make([]string, 0, len(c.Profile))
	for k := range c.Profile {
		profiles = append(profiles, k)
	}
	slices.Sort(profiles)
	return profiles
}

// PackageSection defines the [package] section.
type PackageSection struct {
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	Authors     []string `toml:"authors"`
}

// TargetSection defines the [target] section. Flags are passed through
// to the toolchain unmodified, never interpreted here.
type TargetSection struct {
	Sources     []string          `toml:"sources"`
	IncludeDirs []string          `toml:"include-dirs"`
	Defines     map[string]string `toml:"defines"`
	Cflags      []string          `toml:"cflags"`
	Ldflags     []string          `toml:"ldflags"`
	Recursive   bool              `toml:"recursive"`
}

// merge folds a conditional target subsection into the base section.
func (t *TargetSection) merge(o TargetSection) {
	t.Sources = append(t.Sources, o.Sources...)
	t.IncludeDirs = append(t.IncludeDirs, o.IncludeDirs...)
	t.Cflags = append(t.Cflags, o.Cflags...)
	t.Ldflags = append(t.Ldflags, o.Ldflags...)
	if o.Defines != nil {
		if t.Defines == nil {
			t.Defines = make(map[string]string, len(o.Defines))
		}
		for k, v := range o.Defines {
			t.Defines[k] = v
		}
	}
	t.Recursive = t.Recursive || o.Recursive
}

// ProfileSection defines the [profile.*] section.
type ProfileSection struct {
	OptLevel intOrString `toml:"opt-level"`
}

type intOrString struct {
	Value any
}

func (o intOrString) String() string {
	switch v := o.Value.(type) {
	case int:
		return strconv.Itoa(v)
	case string:
		return v
	default:
		return ""
	}
}

// ConfigEnv is the environment conditional config expressions evaluate
// against. Global build state is never ambient; everything a config can
// observe is in here.
type ConfigEnv struct {
	TargetOS   string            `expr:"target_os"`
	TargetArch string            `expr:"target_arch"`
	Environ    map[string]string `expr:"environ"`
}

func NewConfigEnv() ConfigEnv {
	environ := make(map[string]string)
	for _, e := range os.Environ() {
		if i := strings.Index(e, "="); i >= 0 {
			environ[e[:i]] = e[i+1:]
		}
	}

	return ConfigEnv{
		TargetOS:   runtime.GOOS,
		TargetArch: runtime.GOARCH,
		Environ:    environ,
	}
}

func evalCondition(condition string, env ConfigEnv) (bool, error) {
	program, err := expr.Compile(condition, expr.Env(env))
	if err != nil {
		return false, err
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	matched, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q is not boolean", condition)
	}
	return matched, nil
}

var exprRegex = regexp.MustCompile(`\{\{(.+?)\}\}`)

// evaluateString finds and evaluates all {{...}} expressions in a string.
func evaluateString(s string, env ConfigEnv) (string, error) {
	matches := exprRegex.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var builder strings.Builder
	lastIndex := 0

	for _, matchIndexes := range matches {
		builder.WriteString(s[lastIndex:matchIndexes[0]])

		expression := strings.TrimSpace(s[matchIndexes[2]:matchIndexes[3]])
		program, err := expr.Compile(expression, expr.Env(env))
		if err != nil {
			return "", fmt.Errorf("failed to compile expression %q: %w", expression, err)
		}

		result, err := expr.Run(program, env)
		if err != nil {
			return "", fmt.Errorf("failed to run expression %q: %w", expression, err)
		}

		builder.WriteString(fmt.Sprintf("%v", result))
		lastIndex = matchIndexes[1]
	}

	builder.WriteString(s[lastIndex:])

	return builder.String(), nil
}

// processExpressions recursively walks the parsed TOML data and
// evaluates {{...}} expressions in string values.
func processExpressions(data any, env ConfigEnv) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			processed, err := processExpressions(val, env)
			if err != nil {
				return nil, err
			}
			v[key] = processed
		}
		return v, nil
	case []any:
		for i, item := range v {
			processed, err := processExpressions(item, env)
			if err != nil {
				return nil, err
			}
			v[i] = processed
		}
		return v, nil
	case string:
		return evaluateString(v, env)
	default:
		return data, nil
	}
}

func reencode(v any, dst any) error {
	data, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	return toml.Unmarshal(data, dst)
}

// unmarshalTarget parses the [target] section. Subsections whose key
// compiles as an expr condition are conditional: merged into the base
// section when the condition holds for the current environment, e.g.
//
//	[target.'target_os == "darwin"']
//	ldflags = ["-framework", "Foundation"]
func unmarshalTarget(rawCfg map[string]any, dst *TargetSection, env ConfigEnv) error {
	sectionData, ok := rawCfg["target"]
	if !ok {
		return nil
	}

	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return errors.New("invalid [target] section format: expected a table")
	}

	baseFields := make(map[string]any)
	conditionalFields := make(map[string]map[string]any)

	for key, val := range sectionMap {
		if subMap, ok := val.(map[string]any); ok {
			if _, err := expr.Compile(key, expr.Env(env)); err == nil {
				conditionalFields[key] = subMap
				continue
			}
		}
		baseFields[key] = val
	}

	if len(baseFields) > 0 {
		if err := reencode(baseFields, dst); err != nil {
			return fmt.Errorf("failed to parse [target] section: %w", err)
		}
	}

	// deterministic merge order
	conditions := make([]string, 0, len(conditionalFields))
	for condition := range conditionalFields {
		conditions = append(conditions, condition)
	}
	slices.Sort(conditions)

	for _, condition := range conditions {
		matched, err := evalCondition(condition, env)
		if err != nil {
			return fmt.Errorf("failed to evaluate condition [target.%q]: %w", condition, err)
		}
		if !matched {
			continue
		}

		var cond TargetSection
		if err := reencode(conditionalFields[condition], &cond); err != nil {
			return fmt.Errorf("failed to parse conditional section [target.%q]: %w", condition, err)
		}
		dst.merge(cond)
	}

	return nil
}

// unmarshalProfiles parses the [profile.*] sections from the raw map.
// opt-level may be an integer or a string ("s", "fast"), which the
// struct decoder cannot represent, so the coercion is explicit here.
func unmarshalProfiles(rawCfg map[string]any, dst map[string]ProfileSection) error {
	sectionData, ok := rawCfg["profile"]
	if !ok {
		return nil
	}

	sectionMap, ok := sectionData.(map[string]any)
	if !ok {
		return errors.New("invalid [profile] section format: expected a table")
	}

	for name, raw := range sectionMap {
		fields, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("invalid [profile.%s] section format: expected a table", name)
		}

		prof := dst[name] // overriding a built-in profile keeps its other fields
		if val, ok := fields["opt-level"]; ok {
			switch v := val.(type) {
			case int64:
				prof.OptLevel = intOrString{Value: int(v)}
			case string:
				prof.OptLevel = intOrString{Value: v}
			default:
				return fmt.Errorf("invalid opt-level in [profile.%s]: unexpected type %T", name, val)
			}
		}
		dst[name] = prof
	}

	return nil
}

func unmarshalSection(rawCfg map[string]any, name string, dst any) error {
	if data, ok := rawCfg[name]; ok {
		if err := reencode(data, dst); err != nil {
			return fmt.Errorf("failed to parse [%s] section: %w", name, err)
		}
	}
	return nil
}

func ParseConfig(rdr io.Reader, env ConfigEnv) (*Config, error) {
	var rawConfig map[string]any
	dec := toml.NewDecoder(rdr)
	if err := dec.Decode(&rawConfig); err != nil {
		if derr, ok := err.(*toml.DecodeError); ok {
			return nil, errors.New(derr.String())
		}
		return nil, err
	}

	processed, err := processExpressions(rawConfig, env)
	if err != nil {
		return nil, fmt.Errorf("error processing expressions in config: %w", err)
	}
	rawConfig = processed.(map[string]any)

	cfg := new(Config)
	cfg.Profile = maps.Clone(defaultProfiles)

	if err := unmarshalSection(rawConfig, "package", &cfg.Package); err != nil {
		return nil, err
	}
	if err := unmarshalSection(rawConfig, "dependencies", &cfg.Dependencies); err != nil {
		return nil, err
	}
	if err := unmarshalProfiles(rawConfig, cfg.Profile); err != nil {
		return nil, err
	}
	if err := unmarshalTarget(rawConfig, &cfg.Target, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseConfigFromFile parses a config file from a filepath.
func ParseConfigFromFile(path string, env ConfigEnv) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseConfig(bufio.NewReader(f), env)
}
