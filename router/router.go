// Package router implements the classifier that decides, per turn, which
// expert(s) should handle a user message. Classification is delegated to a
// completion provider behind the provider.Provider seam, so the strategy can
// be swapped (prompted LLM, trained classifier) without touching the flow.
package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/switchboard/core"
	"github.com/hupe1980/switchboard/expert"
	"github.com/hupe1980/switchboard/logging"
	"github.com/hupe1980/switchboard/provider"
)

// maxContextLines bounds how much recent history is embedded in the
// classification prompt.
const maxContextLines = 5

// Options configures a Router instance.
type Options struct {
	// EnableHybrid lets the classifier select multiple experts for one turn.
	// Disabled, the prompt demands a single name.
	EnableHybrid bool
	// Logger receives routing decisions and fallback warnings.
	Logger logging.Logger
}

// Router turns (user message, current expert, recent context) into an ordered
// set of expert names. It never fails: any classification trouble degrades to
// keeping the current expert.
type Router struct {
	registry     *expert.Registry
	provider     provider.Provider
	enableHybrid bool
	logger       logging.Logger
}

// Decision is the result of one classification: expert names in classifier
// output order (first is primary) plus the token usage of the classification
// call.
type Decision struct {
	Experts []string
	Usage   core.TokenUsage
}

// Primary returns the first expert of the decision.
func (d Decision) Primary() string { return d.Experts[0] }

// New constructs a Router over a registry and a classification provider.
// Hybrid routing is enabled by default.
func New(registry *expert.Registry, p provider.Provider, optFns ...func(o *Options)) *Router {
	opts := Options{EnableHybrid: true, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{
		registry:     registry,
		provider:     p,
		enableHybrid: opts.EnableHybrid,
		logger:       opts.Logger,
	}
}

// Classify determines the expert(s) to handle userMessage. recentHistory is
// a flattened "role: text" rendering of the newest history entries; only the
// last five lines are embedded in the prompt.
//
// The returned decision is never empty: unparseable output, unknown names and
// provider errors all fall back to [currentExpert].
func (r *Router) Classify(ctx context.Context, userMessage, currentExpert string, recentHistory []string) Decision {
	prompt := r.buildPrompt(userMessage, currentExpert, recentHistory)

	respCh, errCh := r.provider.Generate(ctx, provider.Request{
		Messages: []core.Message{core.NewUserMessage(prompt)},
	})
	resp, err := provider.Collect(ctx, respCh, errCh, nil)
	if err != nil {
		r.logger.Warn("router.classify.failed",
			"current_expert", currentExpert,
			"error", err.Error(),
		)
		return Decision{Experts: []string{currentExpert}}
	}

	var usage core.TokenUsage
	if resp.Usage != nil {
		usage = *resp.Usage
	}

	experts := r.parse(resp.Text)
	if len(experts) == 0 {
		r.logger.Warn("router.classify.unparseable",
			"current_expert", currentExpert,
			"raw", resp.Text,
		)
		return Decision{Experts: []string{currentExpert}, Usage: usage}
	}

	if !r.enableHybrid && len(experts) > 1 {
		experts = experts[:1]
	}

	r.logger.Debug("router.classify.decision", "experts", experts)

	return Decision{Experts: experts, Usage: usage}
}

// parse splits the raw classifier output on commas and matches each token
// case-insensitively against registered names, preserving output order and
// silently dropping unknowns and duplicates.
func (r *Router) parse(raw string) []string {
	var experts []string
	seen := map[string]bool{}
	for _, token := range strings.Split(raw, ",") {
		clean := strings.ToLower(strings.TrimSpace(token))
		if clean == "" {
			continue
		}
		for _, e := range r.registry.All() {
			if strings.ToLower(e.Name) == clean && !seen[e.Name] {
				experts = append(experts, e.Name)
				seen[e.Name] = true
				break
			}
		}
	}
	return experts
}

func (r *Router) buildPrompt(userMessage, currentExpert string, recentHistory []string) string {
	var descs strings.Builder
	for _, e := range r.registry.All() {
		fmt.Fprintf(&descs, "- '%s': %s\n", e.Name, e.Description)
	}

	var historyBlock string
	if len(recentHistory) > 0 {
		lines := recentHistory
		if len(lines) > maxContextLines {
			lines = lines[len(lines)-maxContextLines:]
		}
		historyBlock = "\nRecent Context:\n- " + strings.Join(lines, "\n- ") + "\n"
	}

	task := "Task: Determine the SINGLE best expert to handle the user message."
	ruleThree := "3. Select the one expert that best matches the user's intent."
	output := "Output ONLY the single expert name."
	if r.enableHybrid {
		task = "Task: Determine if the user's intent requires switching to a different expert, or multiple experts."
		ruleThree = "3. If the user's request involves topics from multiple experts (e.g. history AND math, or coding AND math), YOU MUST list them all (comma-separated)."
		output = "Output ONLY the expert name(s), separated by commas if multiple.\nExample: \"history, math\" or \"coding, math\""
	}

	return fmt.Sprintf(`You are an Intent Router.

Current Expert: %s
%s
User Message: "%s"

Available Experts:
%s
%s

Rules:
1. If the user's request matches the Current Expert's domain, keep it.
2. If the user explicitly asks for a topic covered by another expert, switch.
%s
4. If unsure, or for general chit-chat, default to '%s'.

%s`,
		currentExpert,
		historyBlock,
		userMessage,
		strings.TrimRight(descs.String(), "\n"),
		task,
		ruleThree,
		r.registry.Default().Name,
		output,
	)
}
