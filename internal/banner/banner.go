package banner

import (
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
)

func Print() {
	ptermLogo, _ := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithRGB("Cache", pterm.NewRGB(0, 168, 232)),
		putils.LettersFromStringWithRGB("Gate", pterm.NewRGB(255, 107, 53))).
		Srender()

	pterm.DefaultCenter.Print(ptermLogo)

	pterm.DefaultCenter.Print(
		pterm.DefaultHeader.
			WithFullWidth().
			WithBackgroundStyle(pterm.NewStyle(pterm.BgLightBlue)).
			WithMargin(5).
			Sprint(pterm.White("🚦 CacheGate - Edge Cache Metrics & Release Gating")),
	)

	pterm.Info.Println(
		"Tails your edge proxy's cache access log, scores hit ratios and latency" +
			"\npercentiles per route, and gates releases on cache health." +
			"\nVersion 0.0.1.",
	)
}
