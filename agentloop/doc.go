// Package agentloop pairs a language model with file and shell tools.
//
// The model asks for tools by writing fenced JSON in its replies (see package
// toolcall). The loop extracts those calls, runs them, appends each result
// as a "Tool Output:" user message and asks again, until a reply contains no
// calls. Tool failures of any kind become tool output the model can react
// to; only a failed model request ends a run with an error.
//
// # Architecture
//
//   - Session: the loop itself, with a per-input tool round limit, loop
//     detection and an event stream.
//   - ContextWindow: owns the conversation and enforces a Budget before
//     every request and after every tool result. Oversized tool outputs are
//     truncated, the oldest tool outputs beyond a count are dropped, and the
//     oldest messages go while the total is over budget. The system message
//     is never touched.
//   - ToolRegistry: tools by name. NewTypedTool reflects a tool's schema from
//     an argument struct and validates decoded arguments against it.
//   - ExecutionEnvironment: where tools touch the filesystem and run
//     commands.
//   - Profile: model, instructions and registry; builds the system prompt.
//
// # Quick Start
//
//	env := agentloop.NewLocalExecutionEnvironment("/path/to/project")
//	profile := agentloop.NewProfile("gpt-4o-mini", env, agentloop.DefaultToolOptions())
//	session := agentloop.NewSession(client, profile, env, nil)
//	defer session.Close()
//
//	reply, err := session.Run(ctx, "Create a hello.py file")
package agentloop
