package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/switchboard/core"
	"github.com/hupe1980/switchboard/internal/testutil"
)

func TestPruneKeepsLastWindow(t *testing.T) {
	history := testutil.NewHistory().Exchanges(25).Build() // 50 entries

	pruned := Prune(history, 20)

	assert.Len(t, pruned, 40)
	assert.Equal(t, history[10:], pruned)
}

func TestPruneShortHistoryUnchanged(t *testing.T) {
	history := testutil.NewHistory().Exchanges(5).Build() // 10 entries

	pruned := Prune(history, 20)

	assert.Equal(t, history, pruned)
}

func TestPruneExactBoundaryUnchanged(t *testing.T) {
	history := testutil.NewHistory().Exchanges(20).Build() // 40 entries

	assert.Equal(t, history, Prune(history, 20))
}

func TestSanitizeForSwitchStripsSystemAndHints(t *testing.T) {
	history := testutil.NewHistory().
		System("You are the sales expert.").
		User("hi").
		Assistant(ContextHintPrefix + " user prefers short answers").
		Assistant("Hello!").
		Build()

	clean := SanitizeForSwitch(history)

	assert.Equal(t, []core.Message{
		core.NewUserMessage("hi"),
		core.NewAssistantMessage("Hello!"),
	}, clean)
}

func TestSanitizeForSwitchKeepsPlainHistory(t *testing.T) {
	history := testutil.NewHistory().User("hi").Assistant("hello").Build()

	assert.Equal(t, history, SanitizeForSwitch(history))
}

func TestSanitizeForSwitchDoesNotMutateInput(t *testing.T) {
	history := testutil.NewHistory().
		System("persona").
		User("hi").
		Build()

	_ = SanitizeForSwitch(history)

	assert.Len(t, history, 2)
	assert.Equal(t, core.RoleSystem, history[0].Role)
}
