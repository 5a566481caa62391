package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// EnvFileVariable names an env file that takes precedence over --env.
const EnvFileVariable = "CURATOR_ENV_FILE"

// EnvLoader loads .env files with a predictable override order:
// CURATOR_ENV_FILE, the --env path, its basename in the working directory,
// the default path, and finally curator/curator.env under the user config dir.
type EnvLoader struct {
	value       *string
	defaultPath string
}

type envCandidate struct {
	source string
	path   string
}

// AddEnvFlag registers an --env flag and returns an EnvLoader.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

// Load applies the first env file that exists and reports its path.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	log.SetOutput(os.Stderr)

	requested := l.requested()
	for _, candidate := range l.candidates() {
		if err := godotenv.Overload(candidate.path); err != nil {
			if candidate.source == EnvFileVariable {
				log.Printf("Warning: failed to load %s=%s", EnvFileVariable, candidate.path)
			}
			continue
		}
		log.Printf("Loaded curator environment from %s: %s", candidate.source, candidate.path)
		return candidate.path, nil
	}

	return "", fmt.Errorf("failed to load env file from %s", requested)
}

func (l *EnvLoader) requested() string {
	requested := ""
	if l.value != nil {
		requested = strings.TrimSpace(*l.value)
	}
	if requested == "" {
		return l.defaultPath
	}
	return requested
}

func (l *EnvLoader) candidates() []envCandidate {
	var out []envCandidate
	seen := map[string]struct{}{}
	add := func(source, path string) {
		if path == "" {
			return
		}
		if _, ok := seen[path]; ok {
			return
		}
		seen[path] = struct{}{}
		out = append(out, envCandidate{source: source, path: path})
	}

	add(EnvFileVariable, strings.TrimSpace(os.Getenv(EnvFileVariable)))
	requested := l.requested()
	add("--env", requested)
	add("basename fallback", filepath.Base(requested))
	add("fallback", l.defaultPath)
	if dir, err := os.UserConfigDir(); err == nil {
		add("user config", filepath.Join(dir, "curator", "curator.env"))
	}
	return out
}
