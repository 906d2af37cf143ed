package conversation

import "strings"

// Messages holds every fixed text the controller sends and the phrase lists
// that trigger commands. Fields map to keys of the optional YAML policy file.
type Messages struct {
	Welcome string `yaml:"welcome"`
	Help    string `yaml:"help"`

	// HelpPhrases match the whole utterance or its first words.
	HelpPhrases []string `yaml:"help_phrases"`
	// ResetPhrases match anywhere in the utterance.
	ResetPhrases []string `yaml:"reset_phrases"`

	Moderated     string `yaml:"moderated"`
	RateLimited   string `yaml:"rate_limited"`
	NetworkError  string `yaml:"network_error"`
	UpstreamError string `yaml:"upstream_error"`
	GenericError  string `yaml:"generic_error"`

	MediaImage string `yaml:"media_image"`
	MediaAudio string `yaml:"media_audio"`
	MediaOther string `yaml:"media_other"`
}

const errorHeading = "⚠️ *Something went wrong*\n\n"

const mediaFooter = " However, I currently focus on text-based product recommendations. " +
	"Could you describe what you're looking for in text?"

func DefaultMessages() Messages {
	return Messages{
		Welcome: strings.Join([]string{
			"👋 *Welcome to our AI Product Recommendation Bot!*",
			"",
			"I'm here to help you find the perfect products!",
			"",
			"You can ask me things like:",
			"• \"Something cozy to sleep in\"",
			"• \"Show me cotton pajamas under $50\"",
			"• \"What would make a good gift?\"",
			"",
			"Just tell me what you're looking for and I'll find the best options for you! 🛍️",
		}, "\n"),
		Help: strings.Join([]string{
			"🤖 *How to use this bot:*",
			"",
			"*Search:*",
			"• \"cotton nightgown\" - find specific products",
			"• \"pajamas under $40\" - price-based search",
			"• \"loungewear\" - category search",
			"",
			"*Commands:*",
			"• \"help\" - show this message",
			"• \"start over\" - reset the conversation",
			"",
			"Just tell me what you're looking for! 🔍",
		}, "\n"),
		HelpPhrases:   []string{"help", "?", "commands", "what can you do", "info", "menu"},
		ResetPhrases:  []string{"start over", "restart", "reset", "begin again", "new conversation"},
		Moderated:     "🙏 Sorry, I can't help with that. Let's keep it to product recommendations. What are you looking for?",
		RateLimited:   errorHeading + "I'm getting too many requests right now. Please wait a moment and try again.",
		NetworkError:  errorHeading + "Network connection issue. Please check your connection and try again.",
		UpstreamError: errorHeading + "The AI service is temporarily unavailable. Please try again in a few minutes.",
		GenericError:  errorHeading + "Please try again or type 'help' for assistance.",
		MediaImage:    "📷 Thanks for sending that! I can see the image you sent." + mediaFooter,
		MediaAudio:    "📷 Thanks for sending that! I received your voice message." + mediaFooter,
		MediaOther:    "📷 Thanks for sending that! I received your file." + mediaFooter,
	}
}

// Merge returns m with every non-empty field of o applied on top.
func (m Messages) Merge(o Messages) Messages {
	pick := func(dst *string, src string) {
		if strings.TrimSpace(src) != "" {
			*dst = src
		}
	}
	pick(&m.Welcome, o.Welcome)
	pick(&m.Help, o.Help)
	pick(&m.Moderated, o.Moderated)
	pick(&m.RateLimited, o.RateLimited)
	pick(&m.NetworkError, o.NetworkError)
	pick(&m.UpstreamError, o.UpstreamError)
	pick(&m.GenericError, o.GenericError)
	pick(&m.MediaImage, o.MediaImage)
	pick(&m.MediaAudio, o.MediaAudio)
	pick(&m.MediaOther, o.MediaOther)
	if len(o.HelpPhrases) > 0 {
		m.HelpPhrases = append([]string(nil), o.HelpPhrases...)
	}
	if len(o.ResetPhrases) > 0 {
		m.ResetPhrases = append([]string(nil), o.ResetPhrases...)
	}
	return m
}

// IsHelp reports whether text equals a help phrase or starts with one
// followed by a space.
func (m Messages) IsHelp(text string) bool {
	text = normalizeCommand(text)
	if text == "" {
		return false
	}
	for _, p := range m.HelpPhrases {
		p = normalizeCommand(p)
		if p == "" {
			continue
		}
		if text == p || strings.HasPrefix(text, p+" ") {
			return true
		}
	}
	return false
}

// IsReset reports whether text contains any reset phrase.
func (m Messages) IsReset(text string) bool {
	text = normalizeCommand(text)
	if text == "" {
		return false
	}
	for _, p := range m.ResetPhrases {
		p = normalizeCommand(p)
		if p != "" && strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// ErrorText picks the reply for a failed turn.
func (m Messages) ErrorText(err error) string {
	switch CodeOf(err) {
	case ErrorRateLimited:
		return m.RateLimited
	case ErrorNetwork:
		return m.NetworkError
	case ErrorUpstreamUnavailable:
		return m.UpstreamError
	default:
		return m.GenericError
	}
}

// MediaAck picks the acknowledgement for a media message without a caption.
func (m Messages) MediaAck(contentType string) string {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return m.MediaImage
	case strings.HasPrefix(contentType, "audio/"):
		return m.MediaAudio
	default:
		return m.MediaOther
	}
}

func normalizeCommand(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
