package agentloop

// DefaultContextWindowTokens is assumed when a profile does not state its
// model's context window.
const DefaultContextWindowTokens = 128000

// Profile bundles the model a session talks to, the instructions that open
// its system prompt and the tools it may call.
type Profile struct {
	Model               string
	Instructions        string
	ContextWindowTokens int
	Registry            *ToolRegistry
}

// NewProfile creates a profile for model with the core tools registered
// against env.
func NewProfile(model string, env ExecutionEnvironment, opts ToolOptions) *Profile {
	reg := NewToolRegistry()
	RegisterCoreTools(reg, env, opts)
	return &Profile{
		Model:               model,
		ContextWindowTokens: DefaultContextWindowTokens,
		Registry:            reg,
	}
}

// SystemPrompt builds the system prompt for a session running in env.
func (p *Profile) SystemPrompt(env ExecutionEnvironment) string {
	docs := ""
	if env != nil {
		docs = DiscoverProjectDocs(env.WorkingDirectory())
	}
	return BuildSystemPrompt(p.Instructions, p.tools(), env, p.Model, docs)
}

func (p *Profile) tools() []Tool {
	if p.Registry == nil {
		return nil
	}
	return p.Registry.Tools()
}
