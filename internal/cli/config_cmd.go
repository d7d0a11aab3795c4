package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"imagetool/internal/config"
	"imagetool/internal/domain"
)

// ConfigOptions holds options for the config command.
type ConfigOptions struct {
	ConfigPath string
	Action     string // "init", "show", "get", "set" or "unset"
	Path       string // dot notation, e.g. "imagemage.processTimeoutSec"
	Value      string // for set
}

// RunConfig runs the config subcommand. Edits go through the typed Config so
// a set that would produce an invalid config is refused.
// Returns exit code (0 for success, 1 for error).
func RunConfig(opts ConfigOptions, stdout, stderr io.Writer) int {
	if opts.Action == "init" {
		if _, err := os.Stat(opts.ConfigPath); err == nil {
			fmt.Fprintf(stderr, "Error: %s already exists\n", opts.ConfigPath)
			return 1
		}
		if err := configWriteDefault(opts.ConfigPath); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "wrote %s\n", opts.ConfigPath)
		return 0
	}

	cfg, err := configLoad(opts.ConfigPath)
	if errors.Is(err, os.ErrNotExist) {
		if opts.Action == "get" || opts.Action == "show" {
			cfg, err = config.Defaults(), nil
		} else {
			fmt.Fprintf(stderr, "Error: no configuration found at %s\n", opts.ConfigPath)
			fmt.Fprintf(stderr, "Run 'imagetool config init' first.\n")
			return 1
		}
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	tree, err := toTree(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	switch opts.Action {
	case "show":
		out, _ := json.MarshalIndent(tree, "", "  ")
		fmt.Fprintln(stdout, string(out))
		return 0
	case "get":
		return runConfigGet(tree, opts.Path, stdout, stderr)
	case "set":
		if err := setValueAtPathFn(tree, strings.Split(opts.Path, "."), parseValue(opts.Value)); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	case "unset":
		if err := unsetValueAtPath(tree, strings.Split(opts.Path, ".")); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	default:
		fmt.Fprintf(stderr, "Error: unknown action %q (use init, show, get, set or unset)\n", opts.Action)
		return 1
	}

	updated, err := fromTree(tree)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s: %v\n", opts.Path, err)
		return 1
	}
	if err := config.Validate(updated); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := configSave(opts.ConfigPath, updated); err != nil {
		fmt.Fprintf(stderr, "Error: failed to save config: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "ok")
	return 0
}

func toTree(cfg *domain.Config) (map[string]interface{}, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]interface{}
	err = json.Unmarshal(data, &tree)
	return tree, err
}

func fromTree(tree map[string]interface{}) (*domain.Config, error) {
	data, err := json.Marshal(tree)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	var cfg domain.Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	config.CleanPaths(&cfg)
	return &cfg, nil
}

// parseValue reads numbers and booleans as such; everything else stays a string.
func parseValue(value string) interface{} {
	if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
		return float64(intVal)
	}
	if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
		return floatVal
	}
	if boolVal, err := strconv.ParseBool(value); err == nil {
		return boolVal
	}
	return value
}

// runConfigGet prints the value at a dot notation path.
func runConfigGet(cfg map[string]interface{}, path string, stdout, stderr io.Writer) int {
	value := getValueAtPath(cfg, strings.Split(path, "."))
	if value == nil {
		fmt.Fprintf(stderr, "Error: path %q not found in config\n", path)
		return 1
	}

	switch v := value.(type) {
	case string:
		fmt.Fprintln(stdout, v)
	case float64:
		if v == float64(int64(v)) {
			fmt.Fprintf(stdout, "%d\n", int64(v))
		} else {
			fmt.Fprintf(stdout, "%g\n", v)
		}
	case bool:
		fmt.Fprintf(stdout, "%t\n", v)
	default:
		jsonBytes, _ := json.Marshal(v)
		fmt.Fprintln(stdout, string(jsonBytes))
	}
	return 0
}

// getValueAtPath retrieves a value from a nested map using a path.
func getValueAtPath(data map[string]interface{}, path []string) interface{} {
	if len(path) == 0 {
		return nil
	}
	value, exists := data[path[0]]
	if !exists {
		return nil
	}
	if len(path) == 1 {
		return value
	}
	nextMap, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	return getValueAtPath(nextMap, path[1:])
}

// setValueAtPath sets a value in a nested map, creating intermediate objects.
func setValueAtPath(data map[string]interface{}, path []string, value interface{}) error {
	if len(path) == 0 || path[0] == "" {
		return fmt.Errorf("empty path")
	}
	if len(path) == 1 {
		data[path[0]] = value
		return nil
	}
	nextMap, ok := data[path[0]].(map[string]interface{})
	if !ok {
		nextMap = make(map[string]interface{})
		data[path[0]] = nextMap
	}
	return setValueAtPath(nextMap, path[1:], value)
}

// unsetValueAtPath removes a value from a nested map using a path.
func unsetValueAtPath(data map[string]interface{}, path []string) error {
	if len(path) == 0 || path[0] == "" {
		return fmt.Errorf("empty path")
	}
	if len(path) == 1 {
		delete(data, path[0])
		return nil
	}
	nextValue, exists := data[path[0]]
	if !exists {
		return fmt.Errorf("path %q not found", strings.Join(path, "."))
	}
	nextMap, ok := nextValue.(map[string]interface{})
	if !ok {
		return fmt.Errorf("path %q is not an object", strings.Join(path[:len(path)-1], "."))
	}
	return unsetValueAtPath(nextMap, path[1:])
}
