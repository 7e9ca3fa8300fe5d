package taskwarrior

import (
	"fmt"
	"maps"
	"slices"

	"github.com/joho/godotenv"
)

// LoadEnv reads a dotenv file (TASKRC, TASKDATA, ...) into KEY=VALUE pairs
// for the task process. An empty path yields no variables.
func LoadEnv(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("read task env file %s: %w", path, err)
	}
	env := make([]string, 0, len(vars))
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		env = append(env, k+"="+vars[k])
	}
	return env, nil
}
