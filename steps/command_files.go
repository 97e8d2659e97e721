package steps

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// commandFiles are the files a script writes to hand values back:
// GITHUB_OUTPUT, GITHUB_ENV and GITHUB_PATH.
type commandFiles struct {
	dir    string
	output string
	env    string
	path   string
}

func newCommandFiles() (*commandFiles, error) {
	dir, err := os.MkdirTemp("", "nightly-step-")
	if err != nil {
		return nil, fmt.Errorf("failed to create command files: %w", err)
	}
	cf := &commandFiles{
		dir:    dir,
		output: filepath.Join(dir, "output"),
		env:    filepath.Join(dir, "env"),
		path:   filepath.Join(dir, "path"),
	}
	for _, f := range []string{cf.output, cf.env, cf.path} {
		if err := os.WriteFile(f, nil, 0o600); err != nil {
			cf.cleanup()
			return nil, fmt.Errorf("failed to create command files: %w", err)
		}
	}
	return cf, nil
}

// Env returns the variables pointing the script at the files
func (cf *commandFiles) Env() map[string]string {
	return map[string]string{
		"GITHUB_OUTPUT": cf.output,
		"GITHUB_ENV":    cf.env,
		"GITHUB_PATH":   cf.path,
	}
}

func (cf *commandFiles) cleanup() {
	_ = os.RemoveAll(cf.dir)
}

// collect reads back what the script wrote
func (cf *commandFiles) collect() (outputs, env map[string]string, path []string, err error) {
	if outputs, err = readKeyValueFile(cf.output); err != nil {
		return nil, nil, nil, err
	}
	if env, err = readKeyValueFile(cf.env); err != nil {
		return nil, nil, nil, err
	}
	data, err := os.ReadFile(cf.path)
	if err != nil {
		return nil, nil, nil, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			path = append(path, line)
		}
	}
	return outputs, env, path, nil
}

func readKeyValueFile(name string) (map[string]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseKeyValue(f)
}

// parseKeyValue parses `key=value` lines and `key<<DELIM` heredoc blocks
func parseKeyValue(r io.Reader) (map[string]string, error) {
	out := map[string]string{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		eq := strings.Index(line, "=")
		heredoc := strings.Index(line, "<<")
		if heredoc > 0 && (eq == -1 || heredoc < eq) {
			key, delim := line[:heredoc], line[heredoc+2:]
			if delim == "" {
				return nil, fmt.Errorf("empty delimiter for '%s'", key)
			}
			var lines []string
			closed := false
			for scanner.Scan() {
				l := strings.TrimRight(scanner.Text(), "\r")
				if l == delim {
					closed = true
					break
				}
				lines = append(lines, l)
			}
			if !closed {
				return nil, fmt.Errorf("missing delimiter '%s' for '%s'", delim, key)
			}
			out[key] = strings.Join(lines, "\n")
			continue
		}

		if eq <= 0 {
			return nil, fmt.Errorf("invalid line %q", line)
		}
		out[line[:eq]] = line[eq+1:]
	}
	return out, scanner.Err()
}
