package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

type model struct {
	opts     *options
	selected int
	status   string
	history  []string
	busy     bool
}

func initialModel(opts *options) model {
	return model{opts: opts, status: "Ready"}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(scenarios)-1 {
				m.selected++
			}
		case "enter":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.status = "Running " + scenarios[m.selected].Name + "..."
			return m, runScenarioCmd(m.opts, scenarios[m.selected])
		}
	case scenarioResult:
		m.busy = false
		m.status = msg.status
		line := msg.status
		if msg.detail != "" {
			line += ": " + msg.detail
		}
		m.history = append(m.history, line)
		if len(m.history) > 8 {
			m.history = m.history[len(m.history)-8:]
		}
	}
	return m, nil
}

func (m model) View() string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "market-cli  %s\n\n", m.opts.baseURL)
	fmt.Fprintln(b, "Scenarios:")
	for i, scn := range scenarios {
		marker := " "
		if i == m.selected {
			marker = ">"
		}
		fmt.Fprintf(b, " %s %-9s %s\n", marker, scn.Name, scn.Description)
	}
	fmt.Fprintf(b, "\nStatus: %s\n", m.status)
	if len(m.history) > 0 {
		fmt.Fprintln(b, "\nHistory:")
		for _, h := range m.history {
			fmt.Fprintf(b, "  %s\n", h)
		}
	}
	fmt.Fprintln(b, "\nControls: up/down select, enter to run, q to quit")
	return b.String()
}

func runScenarioCmd(opts *options, scn scenario) tea.Cmd {
	return func() tea.Msg {
		return runScenario(context.Background(), opts, scn)
	}
}
