// Package prompts contains all LLM prompt templates and fixed
// user-facing texts used by the storefront agent.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation, benefit from compile-time embedding,
// and can be validated by tests. Operator-facing configuration (store name,
// support contact) lives in config.yaml and is passed in by callers.
//
// Convention: each prompt category gets its own file (system.go,
// rewriter.go, final.go) with an exported function that accepts the
// dynamic parts and returns the fully interpolated prompt string.
package prompts
