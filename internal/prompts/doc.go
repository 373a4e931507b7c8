// Package prompts contains the LLM prompt text used by the supervisor
// classifier and the built-in support handlers.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates are interpolated with the live handler catalogue and
// can be validated by tests. Operators override a handler's prompt in
// config.yaml; this package holds the defaults.
//
// Convention: each prompt category gets its own file with an exported
// function that accepts the dynamic parts and returns the fully
// interpolated prompt string.
package prompts
