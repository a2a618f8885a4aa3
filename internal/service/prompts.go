package service

import (
	"fmt"
	"strings"

	"github.com/lazywriting/api/internal/model"
)

var frameworkGuides = map[model.ThinkingFramework]string{
	model.ThinkingFrameworkFirstPrinciples:  "请用第一性原理拆解这个想法：它最基本的事实和假设是什么？从这些基础重新推导结论。",
	model.ThinkingFrameworkSixHats:          "请用六顶思考帽依次审视这个想法：事实、情感、风险、收益、创意和总结。",
	model.ThinkingFrameworkCounterargument:  "请先给出对这个想法最有力的反驳，再回应这些反驳。",
	model.ThinkingFrameworkStructuredReview: "请按背景、核心观点、论据、局限、下一步的结构梳理这个想法。",
}

var styleGuides = map[model.WritingStyle]string{
	model.WritingStyleOriginal:   "保留作者原本的语气和表达习惯，只做必要的整理。",
	model.WritingStyleLiterary:   "使用富有文学性的语言，注重意象和节奏。",
	model.WritingStyleColloquial: "使用轻松口语化的表达，像和朋友聊天一样。",
	model.WritingStyleArgument:   "写成一篇观点鲜明、论证严密的议论文。",
	model.WritingStyleStory:      "以讲故事的方式展开，用具体场景带出观点。",
}

// BrainstormPrompt is the stage-1 input. The transcript goes out raw, with
// no system instruction, so each model reacts freely.
func BrainstormPrompt(transcript string, framework model.ThinkingFramework) string {
	guide, ok := frameworkGuides[framework]
	if !ok {
		return transcript
	}
	return transcript + "\n\n" + guide
}

// DraftPrompt fuses the transcript with one provider's brainstorm. It returns
// the system instruction and the user prompt.
func DraftPrompt(transcript, brainstorm string, style model.WritingStyle) (string, string) {
	guide, ok := styleGuides[style]
	if !ok {
		guide = styleGuides[model.WritingStyleOriginal]
	}

	system := strings.Join([]string{
		"你是一位写作助手，负责把作者的口述想法和一段头脑风暴整合成一篇完整的文章。",
		"以作者的想法为主线，吸收头脑风暴中有价值的观点，不要编造作者没有表达过的经历。",
		guide,
		"使用 Markdown 输出，第一行是标题。",
	}, "\n")

	user := fmt.Sprintf("## 作者的原始想法\n\n%s\n\n## 头脑风暴\n\n%s", transcript, brainstorm)
	return system, user
}

// FusionPrompt builds the single fused draft from the selected brainstorm
// using a fixed template.
func FusionPrompt(transcript, brainstorm string) (string, string) {
	return DraftPrompt(transcript, brainstorm, model.WritingStyleOriginal)
}
