package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RegisterCoreTools registers the built-in tool set: filesystem access,
// shell execution, and HTTP fetch. Hosts that want a narrower surface
// register individual specs instead.
func RegisterCoreTools(registry *ToolRegistry, cfg Config) error {
	specs := []ToolSpec{
		readFileSpec(),
		writeFileSpec(),
		listDirectorySpec(),
		runCommandSpec(cfg),
		httpGetSpec(),
	}
	for _, spec := range specs {
		if err := registry.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func readFileSpec() ToolSpec {
	return ToolSpec{
		Name:        "read_file",
		Description: "Read a file from the workspace. Output is line-numbered. Use offset and limit to read a slice of a large file.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path":   map[string]interface{}{"type": "string", "description": "File path, absolute or relative to the workspace"},
				"offset": map[string]interface{}{"type": "integer", "description": "1-based first line to read"},
				"limit":  map[string]interface{}{"type": "integer", "description": "Maximum number of lines to read"},
			},
			"required": []string{"path"},
		},
		Execute: func(ctx context.Context, args json.RawMessage, env ExecutionEnvironment) (string, error) {
			parsed, err := ParseToolArguments(args)
			if err != nil {
				return "", err
			}
			path, err := GetStringArg(parsed, "path", true)
			if err != nil {
				return "", err
			}
			offset, err := GetIntArg(parsed, "offset", 0)
			if err != nil {
				return "", err
			}
			limit, err := GetIntArg(parsed, "limit", 0)
			if err != nil {
				return "", err
			}
			return env.ReadFile(path, offset, limit)
		},
	}
}

func writeFileSpec() ToolSpec {
	return ToolSpec{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories as needed. Overwrites existing content.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path":    map[string]interface{}{"type": "string", "description": "File path, absolute or relative to the workspace"},
				"content": map[string]interface{}{"type": "string", "description": "Full file content to write"},
			},
			"required": []string{"path", "content"},
		},
		Execute: func(ctx context.Context, args json.RawMessage, env ExecutionEnvironment) (string, error) {
			parsed, err := ParseToolArguments(args)
			if err != nil {
				return "", err
			}
			path, err := GetStringArg(parsed, "path", true)
			if err != nil {
				return "", err
			}
			content, err := GetStringArg(parsed, "content", true)
			if err != nil {
				return "", err
			}
			if err := env.WriteFile(path, content); err != nil {
				return "", err
			}
			return fmt.Sprintf("Wrote %d bytes to %s", len(content), path), nil
		},
	}
}

func listDirectorySpec() ToolSpec {
	return ToolSpec{
		Name:        "list_directory",
		Description: "List the entries of a directory in the workspace.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"path": map[string]interface{}{"type": "string", "description": "Directory path, absolute or relative to the workspace"},
			},
			"required": []string{"path"},
		},
		Execute: func(ctx context.Context, args json.RawMessage, env ExecutionEnvironment) (string, error) {
			parsed, err := ParseToolArguments(args)
			if err != nil {
				return "", err
			}
			path, err := GetStringArg(parsed, "path", true)
			if err != nil {
				return "", err
			}
			entries, err := env.ListDirectory(path)
			if err != nil {
				return "", err
			}
			if len(entries) == 0 {
				return "(empty directory)", nil
			}
			var sb strings.Builder
			for _, entry := range entries {
				if entry.IsDir {
					fmt.Fprintf(&sb, "%s/\n", entry.Name)
				} else {
					fmt.Fprintf(&sb, "%s (%d bytes)\n", entry.Name, entry.Size)
				}
			}
			return sb.String(), nil
		},
	}
}

func runCommandSpec(cfg Config) ToolSpec {
	return ToolSpec{
		Name:        "run_command",
		Description: "Run a shell command in the workspace and return its output and exit code.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"command":    map[string]interface{}{"type": "string", "description": "Shell command to run"},
				"timeout_ms": map[string]interface{}{"type": "integer", "description": "Timeout in milliseconds"},
			},
			"required": []string{"command"},
		},
		Execute: func(ctx context.Context, args json.RawMessage, env ExecutionEnvironment) (string, error) {
			parsed, err := ParseToolArguments(args)
			if err != nil {
				return "", err
			}
			command, err := GetStringArg(parsed, "command", true)
			if err != nil {
				return "", err
			}
			timeoutMs, err := GetIntArg(parsed, "timeout_ms", cfg.DefaultCommandTimeoutMs)
			if err != nil {
				return "", err
			}
			if cfg.MaxCommandTimeoutMs > 0 && timeoutMs > cfg.MaxCommandTimeoutMs {
				timeoutMs = cfg.MaxCommandTimeoutMs
			}

			result, err := env.ExecCommand(ctx, command, timeoutMs)
			if err != nil {
				return "", err
			}
			if result.TimedOut {
				return "", fmt.Errorf("command timed out after %dms", timeoutMs)
			}
			output := result.Output()
			if result.ExitCode != 0 {
				return fmt.Sprintf("%s\n(exit code %d)", output, result.ExitCode), nil
			}
			return output, nil
		},
	}
}

const httpGetMaxBody = 256 * 1024

func httpGetSpec() ToolSpec {
	client := &http.Client{Timeout: 30 * time.Second}
	return ToolSpec{
		Name:        "http_get",
		Description: "Fetch a URL with an HTTP GET request and return the response body.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url": map[string]interface{}{"type": "string", "description": "URL to fetch, http or https"},
			},
			"required": []string{"url"},
		},
		Execute: func(ctx context.Context, args json.RawMessage, env ExecutionEnvironment) (string, error) {
			parsed, err := ParseToolArguments(args)
			if err != nil {
				return "", err
			}
			url, err := GetStringArg(parsed, "url", true)
			if err != nil {
				return "", err
			}
			if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
				return "", fmt.Errorf("url must start with http:// or https://")
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return "", err
			}
			resp, err := client.Do(req)
			if err != nil {
				return "", err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, httpGetMaxBody))
			if err != nil {
				return "", err
			}
			if resp.StatusCode >= 400 {
				return "", fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
			}
			return string(body), nil
		},
	}
}
