package model

import "fmt"

// Provider identifies one external text-generation backend
type Provider string

const (
	ProviderGrok     Provider = "grok"
	ProviderQwen     Provider = "qwen"
	ProviderDeepSeek Provider = "deepseek"
	ProviderGemini   Provider = "gemini"
	ProviderDoubao   Provider = "doubao"

	// ProviderDraft is the result slot of the single fused draft. It is not a backend.
	ProviderDraft Provider = "draft"
)

// Roster is the fixed set of brainstorm providers, in display order
var Roster = []Provider{
	ProviderGrok, ProviderQwen, ProviderDeepSeek, ProviderGemini, ProviderDoubao,
}

// ParseProvider validates a provider id coming from a request or the database
func ParseProvider(s string) (Provider, error) {
	for _, p := range Roster {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// IsBackend reports whether p is a real generation backend
func (p Provider) IsBackend() bool {
	_, err := ParseProvider(string(p))
	return err == nil
}

// Stage is one phase of the writing pipeline
type Stage string

const (
	StageBrainstorm Stage = "brainstorm"
	StageDraft      Stage = "draft"
	StageFusion     Stage = "fusion"
)

// ResultStatus is the lifecycle state of one (stage, provider) result
type ResultStatus string

const (
	ResultStatusUnset     ResultStatus = "unset"
	ResultStatusPending   ResultStatus = "pending"
	ResultStatusStreaming ResultStatus = "streaming"
	ResultStatusComplete  ResultStatus = "complete"
	ResultStatusError     ResultStatus = "error"
)

// IsTerminal reports whether no further events are expected for the result
func (s ResultStatus) IsTerminal() bool {
	return s == ResultStatusComplete || s == ResultStatusError
}

// WritingStyle selects the composition instruction used for drafts
type WritingStyle string

const (
	WritingStyleOriginal   WritingStyle = "original"
	WritingStyleLiterary   WritingStyle = "literary"
	WritingStyleColloquial WritingStyle = "colloquial"
	WritingStyleArgument   WritingStyle = "argument"
	WritingStyleStory      WritingStyle = "story"
)

var ValidWritingStyles = []WritingStyle{
	WritingStyleOriginal, WritingStyleLiterary, WritingStyleColloquial,
	WritingStyleArgument, WritingStyleStory,
}

// ThinkingFramework optionally steers the brainstorm prompt
type ThinkingFramework string

const (
	ThinkingFrameworkOriginal         ThinkingFramework = "original"
	ThinkingFrameworkFirstPrinciples  ThinkingFramework = "first_principles"
	ThinkingFrameworkSixHats          ThinkingFramework = "six_hats"
	ThinkingFrameworkCounterargument  ThinkingFramework = "counterargument"
	ThinkingFrameworkStructuredReview ThinkingFramework = "structured_review"
)

var ValidThinkingFrameworks = []ThinkingFramework{
	ThinkingFrameworkOriginal, ThinkingFrameworkFirstPrinciples, ThinkingFrameworkSixHats,
	ThinkingFrameworkCounterargument, ThinkingFrameworkStructuredReview,
}
