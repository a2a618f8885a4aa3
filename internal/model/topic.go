package model

import "fmt"

// BaseTopic is the subject-level feed of an article
func BaseTopic(streamBase string) string {
	return streamBase
}

// ProviderTopic derives the feed of one (stage, provider) result.
//
//	brainstorm: {base}_{provider}
//	draft:      {base}_draft_{provider}
//	fusion:     {base}_draft
func ProviderTopic(streamBase string, stage Stage, provider Provider) string {
	switch stage {
	case StageDraft:
		return fmt.Sprintf("%s_draft_%s", streamBase, provider)
	case StageFusion:
		return fmt.Sprintf("%s_%s", streamBase, ProviderDraft)
	default:
		return fmt.Sprintf("%s_%s", streamBase, provider)
	}
}

// TopicsFor lists every topic a client needs for the given providers
func TopicsFor(streamBase string, providers []Provider) map[string]string {
	topics := map[string]string{"subject": BaseTopic(streamBase)}
	for _, p := range providers {
		topics[string(StageBrainstorm)+":"+string(p)] = ProviderTopic(streamBase, StageBrainstorm, p)
		topics[string(StageDraft)+":"+string(p)] = ProviderTopic(streamBase, StageDraft, p)
	}
	topics[string(StageFusion)] = ProviderTopic(streamBase, StageFusion, ProviderDraft)
	return topics
}
