package indexextractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stoskr/skinarb/internal/pagedriver/fake"
)

func sel() Selectors { return DefaultSelectors }

func TestExtract_HappyPath_OrderPreserved(t *testing.T) {
	page := fake.NewPage()
	rowSel := sel().RowSelector
	page.All[rowSel] = []string{"r1", "r2", "r3"}
	page.All[rowSel+" a"] = []string{
		"AK-47 | Redline (Field-Tested)",
		"AWP | Dragon Lore (Factory New)",
		"StatTrak™ M4A4 | Howl (Minimal Wear)",
	}
	page.All[rowSel+" a[href]"] = []string{
		"https://steamdt.com/csgo/1",
		"https://steamdt.com/csgo/2",
		"https://steamdt.com/csgo/3",
	}
	page.All[rowSel+` a[href*="buff.163.com"]`] = []string{
		"https://buff.163.com/1", "https://buff.163.com/2", "https://buff.163.com/3",
	}
	page.All[rowSel+` a[href*="steamcommunity.com/market/listings"]`] = []string{
		"https://steamcommunity.com/market/listings/1",
		"https://steamcommunity.com/market/listings/2",
		"https://steamcommunity.com/market/listings/3",
	}

	ext := New(sel(), nil)
	candidates := ext.Extract(context.Background(), page, 0)

	require.Len(t, candidates, 3)
	assert.Equal(t, "AK-47 | Redline", candidates[0].ItemName)
	assert.Equal(t, "Field-Tested", candidates[0].Quality)
	assert.False(t, candidates[0].StatTrak)

	assert.Equal(t, "AWP | Dragon Lore", candidates[1].ItemName)
	assert.Equal(t, "Factory New", candidates[1].Quality)

	assert.Equal(t, "StatTrak™ M4A4 | Howl", candidates[2].ItemName)
	assert.Equal(t, "Minimal Wear", candidates[2].Quality)
	assert.True(t, candidates[2].StatTrak)
}

func TestExtract_HardExclusionSet(t *testing.T) {
	page := fake.NewPage()
	rowSel := sel().RowSelector
	page.All[rowSel] = []string{"r1", "r2", "r3", "r4"}
	page.All[rowSel+" a"] = []string{
		"Sticker | Katowice 2014 (Holo)",
		"Music Kit | Daniel Sadowski, Triumph",
		"Case 7", // no pipe
		"AK-47 | Redline (Field-Tested)",
	}
	page.All[rowSel+" a[href]"] = []string{"u1", "u2", "u3", "u4"}
	page.All[rowSel+` a[href*="buff.163.com"]`] = []string{"b1", "b2", "b3", "b4"}
	page.All[rowSel+` a[href*="steamcommunity.com/market/listings"]`] = []string{"s1", "s2", "s3", "s4"}

	ext := New(sel(), nil)
	candidates := ext.Extract(context.Background(), page, 0)

	require.Len(t, candidates, 1)
	assert.Equal(t, "AK-47 | Redline", candidates[0].ItemName)
}

func TestExtract_RowsMissingBothLinksSkipped(t *testing.T) {
	page := fake.NewPage()
	rowSel := sel().RowSelector
	page.All[rowSel] = []string{"r1", "r2"}
	page.All[rowSel+" a"] = []string{"AK-47 | Redline", "AWP | Asiimov"}
	page.All[rowSel+" a[href]"] = []string{"u1", "u2"}
	// Only the first row has any platform link.
	page.All[rowSel+` a[href*="buff.163.com"]`] = []string{"b1"}

	ext := New(sel(), nil)
	candidates := ext.Extract(context.Background(), page, 0)

	require.Len(t, candidates, 1)
	assert.Equal(t, "AK-47 | Redline", candidates[0].ItemName)
}

func TestExtract_LimitTruncates(t *testing.T) {
	page := fake.NewPage()
	rowSel := sel().RowSelector
	page.All[rowSel] = []string{"r1", "r2", "r3"}
	page.All[rowSel+" a"] = []string{"A | 1", "B | 2", "C | 3"}
	page.All[rowSel+" a[href]"] = []string{"u1", "u2", "u3"}
	page.All[rowSel+` a[href*="buff.163.com"]`] = []string{"b1", "b2", "b3"}

	ext := New(sel(), nil)
	candidates := ext.Extract(context.Background(), page, 2)

	assert.Len(t, candidates, 2)
}

func TestExtract_FallbackSelectorUsedWhenPrimaryEmpty(t *testing.T) {
	page := fake.NewPage()
	page.All["table tbody tr"] = []string{"r1"}
	// Only the fallback selector matches a row, and no name link sits
	// under it, so the row yields no candidate.
	ext := New(sel(), nil)
	candidates := ext.Extract(context.Background(), page, 0)
	assert.Empty(t, candidates)
}

func TestExtract_NoRowsAtAllReturnsNil(t *testing.T) {
	page := fake.NewPage()
	ext := New(sel(), nil)
	candidates := ext.Extract(context.Background(), page, 0)
	assert.Nil(t, candidates)
}

func TestIsExcluded(t *testing.T) {
	assert.True(t, isExcluded("Sticker | Katowice 2014"))
	assert.True(t, isExcluded("Music Kit | Daniel Sadowski"))
	assert.True(t, isExcluded("Case 7"))
	assert.False(t, isExcluded("AK-47 | Redline"))
}
