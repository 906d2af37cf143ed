package recommend

import (
	"fmt"
	"strings"

	"shop-assistant/internal/domain"
)

const descriptionLimit = 200

func buildPromptMessages(storeName string, catalog []domain.Product, catalogLimit int, utterance string, history []domain.Turn) []domain.ChatMessage {
	messages := []domain.ChatMessage{
		{Role: "system", Content: buildSystemPrompt(storeName, catalog, catalogLimit)},
	}

	// History usually ends with the utterance itself; send it once.
	if n := len(history); n > 0 && history[n-1].Role == domain.RoleUser && strings.TrimSpace(history[n-1].Text) == strings.TrimSpace(utterance) {
		history = history[:n-1]
	}
	for _, t := range history {
		if m, ok := turnToPromptMessage(t); ok {
			messages = append(messages, m)
		}
	}

	messages = append(messages, domain.ChatMessage{
		Role:    "user",
		Content: utterance,
	})
	return messages
}

func buildSystemPrompt(storeName string, catalog []domain.Product, catalogLimit int) string {
	return strings.Join([]string{
		fmt.Sprintf("You are a helpful product recommendation assistant for %s. You have access to the following product catalog:", storeName),
		"",
		catalogContext(catalog, catalogLimit),
		"",
		"Task:",
		"1) Understand the user's requirements from their message.",
		"2) Recommend the top 3 most suitable products from the catalog.",
		"3) Give a clear reason for each recommendation.",
		"4) Include product images when available.",
		"5) Be conversational and friendly.",
		"",
		"Formatting Rules:",
		formattingRules(),
		"",
		"Product Block Format:",
		productBlockExample(),
	}, "\n")
}

func formattingRules() string {
	return strings.Join([]string{
		"- Replies are delivered over WhatsApp and a web chat; keep them mobile-friendly.",
		"- Use *bold* and _italic_ sparingly and emojis where they help.",
		"- Keep each reply under 4000 characters.",
		"- Always use the exact product names from the catalog.",
		"- When a product has an image, copy its exact URL on its own line as \"Image: <url>\".",
		"- Only recommend products that appear in the catalog.",
		"- End with a helpful next step or question.",
	}, "\n")
}

func productBlockExample() string {
	return strings.Join([]string{
		"**[PRODUCT_START]**",
		"Product Name: <exact name>",
		"Price: $<price>",
		"Image: <image url>",
		"Description: <why it suits the request>",
		"**[PRODUCT_END]**",
	}, "\n")
}

// catalogContext renders up to limit products, one per line.
func catalogContext(catalog []domain.Product, limit int) string {
	if limit > 0 && len(catalog) > limit {
		catalog = catalog[:limit]
	}
	if len(catalog) == 0 {
		return "(the catalog is currently empty)"
	}
	lines := make([]string, 0, len(catalog))
	for _, p := range catalog {
		lines = append(lines, productLine(p))
	}
	return strings.Join(lines, "\n")
}

func productLine(p domain.Product) string {
	parts := []string{
		"ID: " + p.ID,
		"Name: " + p.Name,
		"Category: " + p.Category,
		priceInfo(p),
		"Description: " + truncate(normalizePromptInput(p.Description), descriptionLimit),
		"Brand: " + p.Brand,
	}
	if p.Rating > 0 {
		parts = append(parts, fmt.Sprintf("Rating: %.1f/5", p.Rating))
	}
	if p.Size != "" {
		parts = append(parts, "Size: "+p.Size)
	}
	if p.Color != "" {
		parts = append(parts, "Color: "+p.Color)
	}
	if p.ImageURL != "" {
		parts = append(parts, "Image: "+p.ImageURL)
	}
	return strings.Join(parts, ", ")
}

func priceInfo(p domain.Product) string {
	if p.OriginalPrice != nil && *p.OriginalPrice > p.Price {
		return fmt.Sprintf("Price: $%.2f (was $%.2f)", p.Price, *p.OriginalPrice)
	}
	return fmt.Sprintf("Price: $%.2f", p.Price)
}

func turnToPromptMessage(t domain.Turn) (domain.ChatMessage, bool) {
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return domain.ChatMessage{}, false
	}
	switch t.Role {
	case domain.RoleUser, domain.RoleAssistant:
		return domain.ChatMessage{Role: string(t.Role), Content: text}, true
	default:
		return domain.ChatMessage{}, false
	}
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
