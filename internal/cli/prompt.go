package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// Options is what the interactive form selects. Empty slices mean all.
type Options struct {
	Backends  []string
	Workloads []string
	Warmup    bool
}

var bannerLines = []string{
	"███████╗████████╗ ██████╗ ██████╗ ███████╗",
	"██╔════╝╚══██╔══╝██╔═══██╗██╔══██╗██╔════╝",
	"███████╗   ██║   ██║   ██║██████╔╝█████╗  ",
	"╚════██║   ██║   ██║   ██║██╔══██╗██╔══╝  ",
	"███████║   ██║   ╚██████╔╝██║  ██║███████╗",
	"╚══════╝   ╚═╝    ╚═════╝ ╚═╝  ╚═╝╚══════╝",
}

var gradientStops = [][3]float64{
	{16, 185, 129}, // emerald #10B981
	{6, 182, 212},  // cyan #06B6D4
	{59, 130, 246}, // blue #3B82F6
	{99, 102, 241}, // indigo #6366F1
	{139, 92, 246}, // violet #8B5CF6
}

func lerpColor(c1, c2 [3]float64, t float64) [3]float64 {
	return [3]float64{
		c1[0] + (c2[0]-c1[0])*t,
		c1[1] + (c2[1]-c1[1])*t,
		c1[2] + (c2[2]-c1[2])*t,
	}
}

func gradientColor(t float64) [3]float64 {
	if t <= 0 {
		return gradientStops[0]
	}
	if t >= 1 {
		return gradientStops[len(gradientStops)-1]
	}

	segments := float64(len(gradientStops) - 1)
	scaled := t * segments
	idx := int(scaled)
	if idx >= len(gradientStops)-1 {
		idx = len(gradientStops) - 2
	}
	localT := scaled - float64(idx)

	return lerpColor(gradientStops[idx], gradientStops[idx+1], localT)
}

func PrintBanner() {
	printf("\n")

	height := len(bannerLines)
	width := 0
	for _, line := range bannerLines {
		if w := len([]rune(line)); w > width {
			width = w
		}
	}

	for y, line := range bannerLines {
		var result strings.Builder
		for x, r := range []rune(line) {
			diagonal := (float64(x)/float64(width))*0.5 + (float64(y)/float64(height))*0.5
			color := gradientColor(diagonal)

			style := lipgloss.NewStyle().Foreground(lipgloss.Color(
				fmt.Sprintf("#%02X%02X%02X", int(color[0]), int(color[1]), int(color[2])),
			))
			result.WriteString(style.Render(string(r)))
		}
		printf("%s\n", result.String())
	}
	printf("\n")
}

func PromptOptions(backends, workloads []string) (*Options, error) {
	opts := &Options{Warmup: true}

	var backendMode, workloadMode string
	var selectedBackends, selectedWorkloads []string
	var warmup = true

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select backends to benchmark").
				Options(
					huh.NewOption("Enabled backends (recommended)", "all"),
					huh.NewOption("Select specific backends", "select"),
				).Value(&backendMode),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Select backends").
				Options(huh.NewOptions(backends...)...).
				Value(&selectedBackends),
		).WithHideFunc(func() bool { return backendMode != "select" }),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select workloads").
				Options(
					huh.NewOption("All workloads", "all"),
					huh.NewOption("Select specific workloads", "select"),
				).Value(&workloadMode),
		),
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Select workloads").
				Options(huh.NewOptions(workloads...)...).
				Value(&selectedWorkloads),
		).WithHideFunc(func() bool { return workloadMode != "select" }),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Run warm-up trials?").
				Description("Warm-up trials are executed but excluded from statistics").
				Value(&warmup),
		),
	).WithTheme(huh.ThemeCatppuccin()).WithKeyMap(huh.NewDefaultKeyMap())

	if err := form.Run(); err != nil {
		return nil, err
	}

	if backendMode == "select" {
		if len(selectedBackends) == 0 {
			return nil, errors.New("no backends selected - please select at least one backend")
		}
		opts.Backends = selectedBackends
	}
	if workloadMode == "select" {
		if len(selectedWorkloads) == 0 {
			return nil, errors.New("no workloads selected - please select at least one workload")
		}
		opts.Workloads = selectedWorkloads
	}
	opts.Warmup = warmup

	return opts, nil
}

func PrintSummary(opts *Options) {
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	labelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	enabledStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	disabledStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	formatStatus := func(enabled bool) string {
		if enabled {
			return enabledStyle.Render("enabled")
		}
		return disabledStyle.Render("disabled")
	}
	formatList := func(items []string) string {
		if len(items) == 0 {
			return valueStyle.Render("all")
		}
		return valueStyle.Render(strings.Join(items, ", "))
	}

	printf("%s\n", headerStyle.Render("Selection"))
	printf("%s\n", strings.Repeat("─", 40))
	printf("%s %s\n", labelStyle.Render("Warm-up:"), formatStatus(opts.Warmup))
	printf("%s %s\n", labelStyle.Render("Backends:"), formatList(opts.Backends))
	printf("%s %s\n", labelStyle.Render("Workloads:"), formatList(opts.Workloads))
	printf("%s\n\n", strings.Repeat("─", 40))
}

var statusStyles = map[string]lipgloss.Style{
	"ONLINE":   lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	"DEGRADED": lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	"DOWN":     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
}

// StatusStyle colours a monitor status label; unknown labels pass through.
func StatusStyle(status, text string) string {
	if style, ok := statusStyles[status]; ok {
		return style.Render(text)
	}
	return text
}
