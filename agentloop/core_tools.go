package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/martinemde/codeloop/patch"
)

// ToolOptions tunes the core tools.
type ToolOptions struct {
	DefaultCommandTimeoutMs int
	MaxCommandTimeoutMs     int
}

// DefaultToolOptions returns the default core tool options.
func DefaultToolOptions() ToolOptions {
	return ToolOptions{
		DefaultCommandTimeoutMs: 120000,
		MaxCommandTimeoutMs:     600000,
	}
}

// RegisterCoreTools registers the file and shell tools on reg. Every tool
// operates through env.
func RegisterCoreTools(reg *ToolRegistry, env ExecutionEnvironment, opts ToolOptions) {
	reg.Register(newListDirectoryTool(env))
	reg.Register(newReadFileTool(env))
	reg.Register(newModifyFileTool(env))
	reg.Register(newEditFileTool(env))
	reg.Register(newSearchTextTool(env))
	reg.Register(newApplyPatchTool(env))
	reg.Register(newSystemShellTool(env, opts))
}

type listDirectoryArgs struct {
	Path string `json:"path,omitempty" jsonschema_description:"The directory path to list. Defaults to current directory '.'"`
}

func newListDirectoryTool(env ExecutionEnvironment) *RegisteredTool {
	return NewTypedTool("list_directory",
		"List files and directories in a given path. Use this to explore the file system or find specific files. Directories end with '/'.",
		func(_ context.Context, args listDirectoryArgs) (string, error) {
			path := args.Path
			if path == "" {
				path = "."
			}
			entries, err := env.ListDirectory(path)
			if err != nil {
				return "", fmt.Errorf("listing directory: %w", err)
			}
			if len(entries) == 0 {
				return "(empty directory)", nil
			}
			names := make([]string, len(entries))
			for i, e := range entries {
				names[i] = e.Name
				if e.IsDir {
					names[i] += "/"
				}
			}
			return strings.Join(names, "\n"), nil
		})
}

type readFileArgs struct {
	Path            string `json:"path" validate:"required" jsonschema_description:"The path of the file to read."`
	StartLine       int    `json:"start_line,omitempty" validate:"gte=0" jsonschema_description:"1-based line to start reading from (default: 1)."`
	MaxLines        int    `json:"max_lines,omitempty" validate:"gte=0" jsonschema_description:"Maximum number of lines to return (default: all)."`
	WithLineNumbers bool   `json:"with_line_numbers,omitempty" jsonschema_description:"Prefix each line with its line number (default: false)."`
}

func newReadFileTool(env ExecutionEnvironment) *RegisteredTool {
	return NewTypedTool("read_file",
		"Read the content of a file. Use start_line and max_lines to read part of a large file.",
		func(_ context.Context, args readFileArgs) (string, error) {
			data, err := env.ReadFile(args.Path)
			if err != nil {
				return "", fmt.Errorf("reading file: %w", err)
			}
			content := string(data)
			if args.StartLine <= 1 && args.MaxLines == 0 && !args.WithLineNumbers {
				return content, nil
			}
			return selectLines(content, args.StartLine, args.MaxLines, args.WithLineNumbers), nil
		})
}

// selectLines returns maxLines lines of content starting at the 1-based
// startLine. maxLines 0 means all remaining lines.
func selectLines(content string, startLine, maxLines int, numbered bool) string {
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}
	start := max(startLine-1, 0)
	if start >= len(lines) {
		return fmt.Sprintf("(start_line %d is past the end of the file, which has %d lines)", startLine, len(lines))
	}
	end := len(lines)
	if maxLines > 0 && start+maxLines < end {
		end = start + maxLines
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		if numbered {
			fmt.Fprintf(&sb, "%d | ", i+1)
		}
		sb.WriteString(strings.TrimSuffix(lines[i], "\r"))
		if i < end-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

type modifyFileArgs struct {
	Path    string  `json:"path" validate:"required" jsonschema_description:"The path of the file to write to."`
	Content *string `json:"content" validate:"required" jsonschema_description:"The content to write."`
}

func newModifyFileTool(env ExecutionEnvironment) *RegisteredTool {
	return NewTypedTool("modify_file",
		"Write or overwrite content to a file. Parent directories are created as needed.",
		func(_ context.Context, args modifyFileArgs) (string, error) {
			if err := env.WriteFile(args.Path, []byte(*args.Content)); err != nil {
				return "", fmt.Errorf("writing file: %w", err)
			}
			return fmt.Sprintf("Successfully wrote to %s", args.Path), nil
		})
}

type editFileArgs struct {
	Path            string  `json:"path" validate:"required" jsonschema_description:"The path of the file to edit."`
	TargetText      string  `json:"target_text" validate:"required" jsonschema_description:"The exact block of text to replace. Must be unique in the file."`
	ReplacementText *string `json:"replacement_text" validate:"required" jsonschema_description:"The new text to insert in place of target_text."`
	Regex           bool    `json:"regex,omitempty" jsonschema_description:"Treat target_text as a regular expression and allow $1-style groups in replacement_text (default: false)."`
}

func newEditFileTool(env ExecutionEnvironment) *RegisteredTool {
	return NewTypedTool("edit_file",
		"Smartly edit a file by replacing a unique block of text with new content. Use this for large files to avoid rewriting the whole file.",
		func(_ context.Context, args editFileArgs) (string, error) {
			data, err := env.ReadFile(args.Path)
			if errors.Is(err, fs.ErrNotExist) {
				return "", fmt.Errorf("file '%s' does not exist", args.Path)
			}
			if err != nil {
				return "", fmt.Errorf("reading file: %w", err)
			}
			content := string(data)

			updated, count, err := replaceUnique(content, args.TargetText, *args.ReplacementText, args.Regex)
			if err != nil {
				return "", err
			}
			switch {
			case count == 0:
				return "", fmt.Errorf("'target_text' not found in %s. Ensure you are using the EXACT text from the file, including whitespace. Use read_file to verify the content first", args.Path)
			case count > 1:
				return "", fmt.Errorf("'target_text' found %d times in %s. Please provide a more unique block of text (more context) to identify the section to replace", count, args.Path)
			}

			if err := env.WriteFile(args.Path, []byte(updated)); err != nil {
				return "", fmt.Errorf("writing file: %w", err)
			}
			return fmt.Sprintf("Successfully edited %s.", args.Path), nil
		})
}

// replaceUnique counts matches of target in content and, when there is
// exactly one, returns content with it replaced.
func replaceUnique(content, target, replacement string, regex bool) (string, int, error) {
	if !regex {
		count := strings.Count(content, target)
		if count != 1 {
			return content, count, nil
		}
		return strings.Replace(content, target, replacement, 1), 1, nil
	}

	re, err := compilePattern(target, regexp2.Multiline)
	if err != nil {
		return "", 0, err
	}
	count, err := countMatches(re, content)
	if err != nil {
		return "", 0, fmt.Errorf("matching target_text: %w", err)
	}
	if count != 1 {
		return content, count, nil
	}
	updated, err := re.Replace(content, replacement, -1, 1)
	if err != nil {
		return "", 0, fmt.Errorf("replacing target_text: %w", err)
	}
	return updated, 1, nil
}

type applyPatchArgs struct {
	Path   string `json:"path" validate:"required" jsonschema_description:"File path to patch."`
	Patch  string `json:"patch" jsonschema_description:"Unified diff patch text (hunks with @@ headers)."`
	DryRun bool   `json:"dry_run,omitempty" jsonschema_description:"Validate patch without writing (default: false)."`
}

func newApplyPatchTool(env ExecutionEnvironment) *RegisteredTool {
	return NewTypedTool("apply_patch",
		"Apply a unified-diff style patch to a file (diff engine).",
		func(_ context.Context, args applyPatchArgs) (string, error) {
			result, err := patch.ApplyFile(env.ResolvePath(args.Path), args.Patch, args.DryRun)
			if err != nil {
				return "", fmt.Errorf("applying patch: %w", err)
			}
			result.Path = args.Path
			return result.Message(), nil
		})
}

type systemShellArgs struct {
	Command   string `json:"command" validate:"required" jsonschema_description:"The shell command to execute."`
	TimeoutMs int    `json:"timeout_ms,omitempty" validate:"gte=0" jsonschema_description:"Timeout in milliseconds (default: 120000)."`
}

func newSystemShellTool(env ExecutionEnvironment, opts ToolOptions) *RegisteredTool {
	return NewTypedTool("system_shell",
		"Execute system shell commands. Use this for advanced tasks or when other tools fail. On Windows uses PowerShell, on Linux uses /bin/sh.",
		func(ctx context.Context, args systemShellArgs) (string, error) {
			timeoutMs := args.TimeoutMs
			if timeoutMs <= 0 {
				timeoutMs = opts.DefaultCommandTimeoutMs
			}
			if opts.MaxCommandTimeoutMs > 0 && timeoutMs > opts.MaxCommandTimeoutMs {
				timeoutMs = opts.MaxCommandTimeoutMs
			}

			result, err := env.ExecCommand(ctx, args.Command, timeoutMs, nil)
			if err != nil {
				return "", err
			}

			var sb strings.Builder
			sb.WriteString(result.Output())
			if result.TimedOut {
				fmt.Fprintf(&sb, "\n[Command timed out after %dms. Retry with a larger timeout_ms if needed.]", timeoutMs)
			} else if result.ExitCode != 0 {
				fmt.Fprintf(&sb, "\n[Exit code: %d]", result.ExitCode)
			}
			return strings.TrimSpace(sb.String()), nil
		})
}
