package venues

import (
	"fmt"
	"math"
	"strings"

	"kanpai/internal/types"
)

// Format renders a ranked venue list as a plain-text group message.
// Returns "" for an empty list so callers can fall back to generated text.
func Format(venues []types.Venue, genre, budget, area string) string {
	if len(venues) == 0 {
		return ""
	}

	areaText := "近く"
	if area != "" {
		areaText = area + "周辺"
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("🔍 %sの%s（%s）",
		areaText, types.GenreLabel(genre), types.BudgetLabel(budget)))
	lines = append(lines, "")

	for i, v := range venues {
		lines = append(lines, fmt.Sprintf("%d️⃣ %s", i+1, v.Name))
		if v.Rating > 0 {
			stars := strings.Repeat("⭐", int(math.Round(v.Rating)))
			price := strings.Repeat("¥", v.PriceLevel)
			lines = append(lines, strings.TrimRight(
				fmt.Sprintf("   %s %.1f (%d件) %s", stars, v.Rating, v.RatingCount, price), " "))
		} else if v.Catch != "" {
			lines = append(lines, "   "+v.Catch)
		}
		if v.Budget != "" {
			lines = append(lines, "   💰 "+v.Budget)
		}
		switch {
		case v.Access != "":
			lines = append(lines, "   📍 "+v.Access)
		case v.Address != "":
			lines = append(lines, "   📍 "+shortAddress(v.Address))
		}
		lines = append(lines, "")
	}

	lines = append(lines, "どれにする？🍻")
	return strings.Join(lines, "\n")
}

// shortAddress keeps the trailing locality parts of a long formatted
// address.
func shortAddress(addr string) string {
	parts := strings.Split(addr, "、")
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	return strings.Join(parts, "、")
}
