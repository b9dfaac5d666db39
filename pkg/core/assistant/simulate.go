package assistant

import (
	"encoding/base64"
	"strings"
)

// Canned behaviour used when no AI vendor is configured.

const simulatedDiseaseImageURL = "https://images.unsplash.com/photo-1624638760852-0e4490a51b12?auto=format&fit=crop&w=1024&q=80"

var simulatedAudio = base64.StdEncoding.EncodeToString([]byte("Simulated audio data"))

// simulateTranscript derives a plausible utterance from the clip size, or
// from the dialogue stage when a profile session is in progress. stage is
// empty when there is no session.
func simulateTranscript(audioLen int, stage Stage) string {
	switch stage {
	case StageName:
		return "My name is Rajesh Kumar"
	case StageUserType:
		return "I am a farmer"
	case StageLocation:
		return "I am from Hyderabad village"
	case StageUsername:
		return "My username is rajesh_farmer"
	}
	switch {
	case audioLen < 10000:
		return "Hello, I need some quick advice"
	case audioLen > 50000:
		return "I want to know detailed information about crop diseases and their prevention methods"
	default:
		return "Hello, I need help with farming"
	}
}

// simulateAdvice answers common farming topics by keyword.
func simulateAdvice(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "crop") && strings.Contains(lower, "disease"):
		return "Common crop diseases include leaf spot, powdery mildew, and rust. To prevent diseases, practice crop rotation, use resistant varieties, and maintain good field hygiene. " + imageMarker
	case strings.Contains(lower, "weather"):
		return "For accurate weather forecasts, I recommend checking local weather services. Generally, prepare for monsoon season by ensuring proper drainage in your fields, and have irrigation plans ready for dry spells."
	case strings.Contains(lower, "price") || strings.Contains(lower, "market"):
		return "Current market trends show stable prices for rice and wheat. Consider diversifying your crops to include in-demand vegetables like tomatoes and onions, which are fetching good prices this season."
	case strings.Contains(lower, "fertilizer") || strings.Contains(lower, "soil"):
		return "For healthy soil, use a balanced approach: rotate crops, add organic matter, and test soil before applying fertilizers. Overuse of chemical fertilizers can damage soil health long-term."
	case strings.Contains(lower, "equipment") || strings.Contains(lower, "machinery"):
		return "Small tractors and power tillers are good investments for medium-sized farms. Consider forming a cooperative with neighboring farmers to share costs of expensive equipment like harvesters."
	default:
		return "Thank you for your question about farming. I can provide information on crop management, weather patterns, market prices, soil health, and farming equipment. What specific agricultural topic would you like to learn more about?"
	}
}
