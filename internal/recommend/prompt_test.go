package recommend

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"shop-assistant/internal/domain"
)

func TestProductLine(t *testing.T) {
	was := 59.0
	p := domain.Product{
		ID:            "P1",
		Name:          "Satin Pajama Set",
		Category:      "Pajamas",
		Price:         45,
		OriginalPrice: &was,
		Description:   "  Smooth   satin\nwith piping ",
		Brand:         "EVOLOVE",
		Rating:        4.6,
		Size:          "M",
		Color:         "Navy",
		ImageURL:      "https://cdn.example/p1.jpg",
	}
	require.Equal(t,
		"ID: P1, Name: Satin Pajama Set, Category: Pajamas, Price: $45.00 (was $59.00), Description: Smooth satin with piping, Brand: EVOLOVE, Rating: 4.6/5, Size: M, Color: Navy, Image: https://cdn.example/p1.jpg",
		productLine(p))
}

func TestProductLine_TruncatesDescription(t *testing.T) {
	p := domain.Product{ID: "P2", Name: "Robe", Price: 30, Description: strings.Repeat("é", 250)}
	line := productLine(p)
	require.Contains(t, line, "Description: "+strings.Repeat("é", 200)+"...,")
	require.Contains(t, line, "Price: $30.00,")
	require.NotContains(t, line, "Image:")
}

func TestCatalogContext_Limit(t *testing.T) {
	var products []domain.Product
	for i := 0; i < 60; i++ {
		products = append(products, domain.Product{ID: fmt.Sprintf("P%d", i), Name: "x", Price: 1})
	}
	lines := strings.Split(catalogContext(products, 50), "\n")
	require.Len(t, lines, 50)
	require.True(t, strings.HasPrefix(lines[49], "ID: P49,"))

	require.Equal(t, "(the catalog is currently empty)", catalogContext(nil, 50))
}

func TestBuildPromptMessages_HistoryOrdering(t *testing.T) {
	history := []domain.Turn{
		domain.AssistantTurn("Welcome!"),
		domain.UserTurn("robes?", ""),
		domain.AssistantTurn("Here are robes."),
		{Role: domain.RoleUser, Text: "   "},
		domain.UserTurn("in blue", ""),
	}
	msgs := buildPromptMessages("EVOLOVE", nil, 50, "in blue", history)
	require.Len(t, msgs, 5)
	require.Contains(t, msgs[0].Content, "assistant for EVOLOVE")
	require.Equal(t, []string{"assistant", "user", "assistant", "user"}, []string{msgs[1].Role, msgs[2].Role, msgs[3].Role, msgs[4].Role})
	require.Equal(t, "in blue", msgs[4].Content)
}

func TestBuildPromptMessages_KeepsDifferentTrailingTurn(t *testing.T) {
	history := []domain.Turn{domain.UserTurn("robes?", "")}
	msgs := buildPromptMessages("shop", nil, 50, "in blue", history)
	require.Len(t, msgs, 3)
	require.Equal(t, "robes?", msgs[1].Content)
	require.Equal(t, "in blue", msgs[2].Content)
}
