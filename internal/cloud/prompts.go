package cloud

import (
	"encoding/json"
	"fmt"

	"github.com/clipforge/clipforge-agent/internal/project"
)

const (
	analyzeBatchSystem = `You are a video analysis AI. Respond ONLY with a JSON array of scene analyses. Each element: {"timestamp": number, "description": string, "products": string[], "actions": string[], "emotional_tone": string, "clip_worthy": boolean, "clip_worthy_reason": string (optional)}`

	detectClipsSystem = `You are a TikTok content strategist AI. Identify the best short-form clip opportunities. Respond ONLY with a JSON array: [{"startTime", "endTime", "description", "confidenceScore" (0-1), "type", "suggestedCaption"}]`

	generateCaptionSystem = `You are a social media expert specializing in Shopee affiliate marketing on TikTok. Respond ONLY with valid JSON.`

	matchProductSystem = `You are a product matching AI. Respond ONLY with valid JSON array.`
)

func analyzeBatchPrompt(frameCount, intervalSeconds int, batchStartOffset float64) string {
	return fmt.Sprintf(
		"Analyze these %d sequential video frames (%ds apart, starting at %.0fs). "+
			"For each frame, identify: products visible, actions happening, emotional tone, "+
			"and whether this moment is \"clip-worthy\" for TikTok/short-form content. "+
			"Respond as JSON array.",
		frameCount, intervalSeconds, batchStartOffset)
}

func detectClipsPrompt(timeline []project.SceneAnalysis, videoDuration float64) (string, error) {
	raw, err := json.MarshalIndent(timeline, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal timeline: %w", err)
	}
	return fmt.Sprintf(
		"Given this scene timeline from a product review/unboxing video (%.0fs long), "+
			"identify the best clip-worthy moments for TikTok. Each clip should be 15-60 seconds. "+
			"Group related scenes into clips.\n\nTimeline:\n%s\n\nRespond as JSON array of clip suggestions.",
		videoDuration, raw), nil
}

func generateCaptionPrompt(clipDescription, productInfo, tone string) string {
	prompt := fmt.Sprintf("Generate a TikTok caption, hashtags, and CTA for this clip:\n\nClip: %s\n", clipDescription)
	if productInfo != "" {
		prompt += fmt.Sprintf("Product: %s\n", productInfo)
	}
	prompt += fmt.Sprintf("Tone: %s\n\n", tone)
	prompt += `Respond as JSON: {"caption": string, "hashtags": string[], "cta": string}. ` +
		"Include {{LINK}} placeholder in caption for affiliate link. Generate 15-20 hashtags."
	return prompt
}

func matchProductPrompt(title, category string, timeline []project.SceneAnalysis) (string, error) {
	raw, err := json.MarshalIndent(timeline, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal timeline: %w", err)
	}
	product := title
	if category != "" {
		product = fmt.Sprintf("%s (%s)", title, category)
	}
	return fmt.Sprintf(
		"Match this product to scenes where it appears in the video:\n\nProduct: %s\n\nScenes:\n%s\n\n"+
			`Respond as JSON array of timestamp ranges where this product appears: [{"start_time", "end_time", "confidence"}]`,
		product, raw), nil
}
