package agentloop

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const maxProjectDocBytes = 32 * 1024

// DefaultInstructions opens the system prompt when no instructions are
// configured.
const DefaultInstructions = "You are a helpful coding assistant working in the user's project directory. " +
	"You can inspect and change files and run commands through the tools below."

const toolUsageInstructions = "To use a tool, you MUST respond with a JSON block inside markdown code fences, like this:\n" +
	"```json\n" +
	"{\n" +
	"  \"tool\": \"tool_name\",\n" +
	"  \"args\": { \"arg_name\": \"value\" }\n" +
	"}\n" +
	"```\n" +
	"IMPORTANT:\n" +
	"1. After receiving a Tool Output, you must use that information to FULFILL the user's original request.\n" +
	"2. Do not just describe the tool output unless asked.\n" +
	"3. If the user asked you to do something (e.g., create a file), and the tool output says it was successful, YOUR JOB IS DONE. Report the success to the user.\n" +
	"4. If you need to find files or code but don't know where they are, ALWAYS start by using 'list_directory' with path='.' to see what is available.\n" +
	"5. Use 'system_shell' ONLY for tasks not covered by other tools, or if explicitly requested. It is a powerful fallback.\n" +
	"6. ACTION BIAS: If the user asks you to do something (e.g., 'create a landing page') and you have the info, DO NOT ask for permission to create the file. JUST CREATE IT using 'modify_file'.\n" +
	"7. ACTION BIAS: If the user says 'go ahead', 'yes', or 'do it', EXECUTE the planned action immediately.\n" +
	"8. For large files: use 'search_text' to locate relevant areas, then 'read_file' with start_line/max_lines (optionally with_line_numbers). Do NOT try to read entire huge files at once.\n" +
	"9. For edits: prefer 'apply_patch' (unified diff) for targeted changes. Use 'modify_file' only when you intend to overwrite the whole file."

// BuildSystemPrompt assembles the system prompt: instructions, the schema of
// every tool as indented JSON, the fenced-JSON calling convention, the
// environment block and any project documents.
func BuildSystemPrompt(instructions string, tools []Tool, env ExecutionEnvironment, model, projectDocs string) string {
	if instructions == "" {
		instructions = DefaultInstructions
	}

	schemas := make([]string, 0, len(tools))
	for _, t := range tools {
		schema := map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"parameters":  t.Schema(),
		}
		data, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			continue
		}
		schemas = append(schemas, string(data))
	}

	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n\nYou have access to the following tools:\n")
	sb.WriteString(strings.Join(schemas, "\n"))
	sb.WriteString("\n\n")
	sb.WriteString(toolUsageInstructions)
	if env != nil {
		sb.WriteString("\n\n")
		sb.WriteString(BuildEnvironmentContext(env, model))
	}
	if projectDocs != "" {
		sb.WriteString("\n\n# Project Instructions\n\n")
		sb.WriteString(projectDocs)
	}
	return sb.String()
}

// BuildEnvironmentContext generates the <environment> block.
func BuildEnvironmentContext(env ExecutionEnvironment, model string) string {
	workingDir := env.WorkingDirectory()
	gitBranch := ""
	isGitRepo := isGitRepository(workingDir)
	if isGitRepo {
		gitBranch = getGitBranch(workingDir)
	}

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", workingDir)
	fmt.Fprintf(&sb, "Is git repository: %v\n", isGitRepo)
	if gitBranch != "" {
		fmt.Fprintf(&sb, "Git branch: %s\n", gitBranch)
	}
	fmt.Fprintf(&sb, "Platform: %s\n", env.Platform())
	fmt.Fprintf(&sb, "OS version: %s\n", env.OSVersion())
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// projectDocNames are the instruction files DiscoverProjectDocs loads.
var projectDocNames = []string{"AGENTS.md", "CODELOOP.md"}

// DiscoverProjectDocs loads project instruction files from every directory
// between the git root (or workingDir) and workingDir, capped at 32KB.
func DiscoverProjectDocs(workingDir string) string {
	root := gitRoot(workingDir)
	if root == "" {
		root = workingDir
	}

	var docs []string
	totalBytes := 0

	for _, dir := range collectPathHierarchy(root, workingDir) {
		for _, fileName := range projectDocNames {
			path := filepath.Join(dir, fileName)
			content, err := os.ReadFile(path)
			if err != nil {
				continue
			}

			remaining := maxProjectDocBytes - totalBytes
			if remaining <= 0 {
				docs = append(docs, "[Project instructions truncated at 32KB]")
				return strings.Join(docs, "\n\n---\n\n")
			}

			text := string(content)
			if len(text) > remaining {
				text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
			}

			docs = append(docs, fmt.Sprintf("## %s (from %s)\n\n%s", fileName, dir, text))
			totalBytes += len(text)
		}
	}

	return strings.Join(docs, "\n\n---\n\n")
}

// collectPathHierarchy returns directories from root to target, inclusive.
func collectPathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)

	dirs := []string{root}
	if root == target {
		return dirs
	}

	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return dirs
	}

	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." {
			continue
		}
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func isGitRepository(dir string) bool {
	out, err := runGit(dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

func gitRoot(dir string) string {
	out, _ := runGit(dir, "rev-parse", "--show-toplevel")
	return out
}

func getGitBranch(dir string) string {
	out, _ := runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
	return out
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
