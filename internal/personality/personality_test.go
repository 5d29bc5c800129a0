package personality

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"psycho/internal/config"
	"psycho/internal/knowledge"
	"psycho/internal/vector"
)

func TestDefaultTraitsAndAliases(t *testing.T) {
	traits := DefaultTraits()
	require.InDelta(t, 0.75, traits.Humor, 1e-9)
	require.InDelta(t, 0.88, traits.Directness, 1e-9)
	require.InDelta(t, 0.12, traits.Formality, 1e-9)

	v, ok := traits.Get("sarcasm")
	require.True(t, ok)
	require.InDelta(t, 0.38, v, 1e-9)

	require.True(t, traits.Set("blunt", 1.4))
	v, _ = traits.Get("directness")
	require.InDelta(t, 1.0, v, 1e-9, "values clamp to [0,1]")

	require.False(t, traits.Set("velocity", 0.5))
}

func TestTraitsSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personality.json")
	traits := DefaultTraits()
	traits.Set("humor", 0.9)
	require.NoError(t, traits.Save(path))

	loaded := LoadTraits(path)
	require.InDelta(t, 0.9, loaded.Humor, 1e-9)
	require.InDelta(t, 0.82, loaded.Wit, 1e-9)
}

func TestLoadTraitsMissingFileYieldsDefaults(t *testing.T) {
	loaded := LoadTraits(filepath.Join(t.TempDir(), "nope.json"))
	require.InDelta(t, 0.75, loaded.Humor, 1e-9)
}

func TestDetectTraitCommands(t *testing.T) {
	commands := DetectTraitCommands("set humor to 90%")
	require.Len(t, commands, 1)
	require.Equal(t, TraitHumor, commands[0].Trait)
	require.True(t, commands[0].Absolute)
	require.InDelta(t, 0.9, commands[0].Value, 1e-9)

	commands = DetectTraitCommands("be more direct please")
	require.Len(t, commands, 1)
	require.Equal(t, TraitDirectness, commands[0].Trait)
	require.InDelta(t, 0.2, commands[0].Delta, 1e-9)

	commands = DetectTraitCommands("dial down the sass")
	require.Len(t, commands, 1)
	require.Equal(t, TraitSass, commands[0].Trait)
	require.InDelta(t, -0.2, commands[0].Delta, 1e-9)

	require.Empty(t, DetectTraitCommands("how do I set up postgres"))
}

func TestIsTraitCommand(t *testing.T) {
	require.True(t, IsTraitCommand("set your humor to 75%"))
	require.True(t, IsTraitCommand("be less formal"))
	require.False(t, IsTraitCommand("set a reminder for tomorrow"))
	require.False(t, IsTraitCommand("my humor is dry"))
}

func TestPromptSegmentReflectsCalibration(t *testing.T) {
	traits := DefaultTraits()
	segment := traits.PromptSegment()
	require.Contains(t, segment, "PERSONALITY CALIBRATION")
	require.Contains(t, segment, fmt.Sprintf("Humor       %3d%%", 75))
	require.Contains(t, segment, "Lead with the answer")
	require.Contains(t, segment, "Use contractions")

	traits.Set("formality", 0.9)
	traits.Set("directness", 0.2)
	segment = traits.PromptSegment()
	require.Contains(t, segment, "Measured, proper language")
	require.Contains(t, segment, "Walk them through your reasoning")
}

func TestDetectMood(t *testing.T) {
	require.Equal(t, "stressed/frustrated", DetectMood("ugh, I'm so stuck on this bug"))
	require.Equal(t, "excited/energized", DetectMood("finally got it working!!"))
	require.Equal(t, "tired/low energy", DetectMood("barely slept last night"))
	require.Empty(t, DetectMood("what's the weather like"))
}

func newTestGraph(t *testing.T) *knowledge.Graph {
	t.Helper()
	store, err := knowledge.NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	index, err := vector.Open("", vector.NewLocalEmbedder(), nil)
	require.NoError(t, err)
	return knowledge.NewGraph(store, index, config.DefaultTuning(), nil)
}

func TestProfileFromGraph(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	for _, label := range []string{
		"humor_style:dry", "interest:cycling", "interest:synthesizers",
		"current_project:home automation", "comm_style:technical",
	} {
		g.UpsertNode(ctx, knowledge.NewNode(knowledge.NodePreference, label, "general", nil, 0.8, "s1"))
	}

	profile := ProfileFromGraph(g)
	require.Equal(t, "dry", profile.HumorStyle)
	require.Equal(t, "technical", profile.CommStyle)
	require.ElementsMatch(t, []string{"cycling", "synthesizers"}, profile.Interests)
	require.Equal(t, []string{"home automation"}, profile.CurrentProjects)

	segment := profile.PromptSegment()
	require.Contains(t, segment, "ADAPTING TO THIS USER")
	require.Contains(t, segment, "never explain the joke")
	require.Contains(t, segment, "precise terminology")
}

func TestProfilePromptSegmentEmptyWhenThin(t *testing.T) {
	profile := NewUserProfile()
	require.Empty(t, profile.PromptSegment())
}

func TestRelationshipDepthArc(t *testing.T) {
	profile := NewUserProfile()
	for count, want := range map[int]string{
		3: DepthAcquaintance, 20: DepthRegular, 60: DepthFriend, 250: DepthCompanion,
	} {
		profile.InteractionCount = count
		profile.UpdateRelationshipDepth()
		require.Equal(t, want, profile.RelationshipDepth, "count=%d", count)
	}
}

func TestAdapterAppliesAndPersistsCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personality.json")
	adapter := NewAdapter(path, nil, nil)

	changes := adapter.ApplyTraitCommands("set humor to 20% and be more formal")
	require.Len(t, changes, 2)
	require.Contains(t, changes[0], "Humor adjusted: 75% → 20%")

	reloaded := LoadTraits(path)
	require.InDelta(t, 0.2, reloaded.Humor, 1e-9)
	require.InDelta(t, 0.32, reloaded.Formality, 1e-9)
}

func TestAdapterPromptSectionsIncludeMood(t *testing.T) {
	g := newTestGraph(t)
	ctx := context.Background()
	g.UpsertNode(ctx, knowledge.NewNode(knowledge.NodePreference, "humor_style:sarcastic", "general", nil, 0.8, "s1"))

	adapter := NewAdapter(filepath.Join(t.TempDir(), "p.json"), g, nil)
	personalityBlock, userBlock := adapter.PromptSections("ugh, everything is broken again")
	require.Contains(t, personalityBlock, "PERSONALITY CALIBRATION")
	require.Contains(t, userBlock, "stressed/frustrated")
	require.Contains(t, userBlock, "match the energy")
}
