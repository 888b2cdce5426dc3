package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var fleetviewCmd = &cobra.Command{
	Use:   "fleetview",
	Short: "Fleet health dashboard for a gateway",
	Long: `Start a terminal dashboard against a running gateway's HTTP API.

Keyboard shortcuts:
  S - trigger a split-brain-then-heal scenario
  B - trigger a bootstrap-converge scenario
  Q - quit

Examples:
  edgemesh fleetview --gateway-addr=http://127.0.0.1:8000`,
	Run: runFleetview,
}

func init() {
	rootCmd.AddCommand(fleetviewCmd)
	fleetviewCmd.Flags().String("gateway-addr", "http://127.0.0.1:8000", "base URL of the gateway HTTP API")
}

type fleetNode struct {
	NodeID   string `json:"node_id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Status   string `json:"status"`
	Managed  bool   `json:"managed"`
	Isolated bool   `json:"isolated"`
}

type divergenceView struct {
	DurationSeconds float64 `json:"divergence_duration_seconds"`
	Log             []struct {
		IsDivergent bool `json:"is_divergent"`
	} `json:"log"`
}

type fleetviewModel struct {
	gatewayAddr string
	client      *http.Client

	nodes      []fleetNode
	divergence divergenceView
	logLines   []string
	lastAction string
	err        error

	width  int
	height int
}

func newFleetviewModel(gatewayAddr string) fleetviewModel {
	return fleetviewModel{
		gatewayAddr: strings.TrimRight(gatewayAddr, "/"),
		client:      &http.Client{Timeout: 2 * time.Second},
	}
}

func (m fleetviewModel) Init() tea.Cmd {
	return tea.Batch(fleetviewTick(), m.refreshCmd())
}

type fleetviewTickMsg struct{}

func fleetviewTick() tea.Cmd {
	return tea.Tick(2*time.Second, func(time.Time) tea.Msg { return fleetviewTickMsg{} })
}

type fleetviewRefreshMsg struct {
	nodes      []fleetNode
	divergence divergenceView
	logLines   []string
	err        error
}

type fleetviewActionMsg struct {
	label string
	err   error
}

func (m fleetviewModel) refreshCmd() tea.Cmd {
	client := m.client
	base := m.gatewayAddr
	return func() tea.Msg {
		var msg fleetviewRefreshMsg

		nodesResp, err := client.Get(base + "/nodes")
		if err != nil {
			msg.err = err
			return msg
		}
		defer nodesResp.Body.Close()
		_ = json.NewDecoder(nodesResp.Body).Decode(&msg.nodes)

		divResp, err := client.Get(base + "/gateway/divergence")
		if err == nil {
			defer divResp.Body.Close()
			_ = json.NewDecoder(divResp.Body).Decode(&msg.divergence)
		}

		runtimeResp, err := client.Get(base + "/gateway/runtime-metrics")
		if err == nil {
			defer runtimeResp.Body.Close()
			var runtime map[string]any
			if json.NewDecoder(runtimeResp.Body).Decode(&runtime) == nil {
				if counters, ok := runtime["counters"].(map[string]any); ok {
					keys := make([]string, 0, len(counters))
					for k := range counters {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						msg.logLines = append(msg.logLines, fmt.Sprintf("%s = %v", k, counters[k]))
					}
				}
			}
		}
		return msg
	}
}

func (m fleetviewModel) triggerScenarioCmd(path, label string) tea.Cmd {
	client := m.client
	url := m.gatewayAddr + path
	return func() tea.Msg {
		resp, err := client.Post(url, "application/json", nil)
		if err != nil {
			return fleetviewActionMsg{label: label, err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fleetviewActionMsg{label: label, err: fmt.Errorf("gateway returned %s", resp.Status)}
		}
		return fleetviewActionMsg{label: label}
	}
}

func (m fleetviewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "Q", "ctrl+c":
			return m, tea.Quit
		case "s", "S":
			return m, m.triggerScenarioCmd("/scenarios/split-brain-heal?isolate_seconds=5&verify_polls=3", "split-brain-then-heal")
		case "b", "B":
			return m, m.triggerScenarioCmd("/scenarios/bootstrap-converge?create_nodes=2&events_per_node=3&verify_polls=3", "bootstrap-converge")
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case fleetviewTickMsg:
		return m, tea.Batch(fleetviewTick(), m.refreshCmd())

	case fleetviewRefreshMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.nodes = msg.nodes
		m.divergence = msg.divergence
		m.logLines = msg.logLines

	case fleetviewActionMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.lastAction = msg.label
			m.err = nil
		}
	}
	return m, nil
}

func (m fleetviewModel) View() string {
	var s strings.Builder

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Padding(1, 2)
	s.WriteString(titleStyle.Render("Edge Mesh Fleet View"))
	s.WriteString("\n\n")

	if m.err != nil {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
		s.WriteString(errStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		s.WriteString("\n\n")
	}

	divStyle := lipgloss.NewStyle().Bold(true)
	if m.divergence.DurationSeconds > 0 {
		divStyle = divStyle.Foreground(lipgloss.Color("196"))
		s.WriteString(divStyle.Render(fmt.Sprintf("DIVERGENT for %.1fs", m.divergence.DurationSeconds)))
	} else {
		divStyle = divStyle.Foreground(lipgloss.Color("42"))
		s.WriteString(divStyle.Render("CONVERGED"))
	}
	s.WriteString("\n\n")

	if len(m.nodes) == 0 {
		s.WriteString("No nodes in roster.\n\n")
	} else {
		s.WriteString("Nodes:\n\n")
		for _, n := range m.nodes {
			marker := " "
			if n.Isolated {
				marker = "X"
			}
			s.WriteString(fmt.Sprintf("  [%s] %-16s %-10s managed=%-5v %s\n", marker, n.NodeID, n.Status, n.Managed, n.URL))
		}
		s.WriteString("\n")
	}

	boxWidth := 100
	if m.width > 0 {
		boxWidth = m.width - 4
	}
	logContent := "Runtime metrics:\n" + strings.Join(m.logLines, "\n")
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Height(13).
		Width(boxWidth)
	s.WriteString(logStyle.Render(logContent))
	s.WriteString("\n\n")

	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	help := "S: split-brain-then-heal | B: bootstrap-converge | Q: quit"
	if m.lastAction != "" {
		help = fmt.Sprintf("last: %s | %s", m.lastAction, help)
	}
	s.WriteString(helpStyle.Render(help))

	return s.String()
}

func runFleetview(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("gateway-addr")
	p := tea.NewProgram(newFleetviewModel(addr))
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error running fleetview: %v\n", err)
	}
}
