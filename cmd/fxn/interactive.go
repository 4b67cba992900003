package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/fxn/predictor"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	tagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type modelState int

const (
	stateEdit modelState = iota
	stateRunning
	stateShowResult
)

type interactiveModel struct {
	ctx        context.Context
	app        *app
	err        error
	prediction *predictor.Prediction
	inputs     []textinput.Model
	focusIdx   int
	state      modelState
}

type predictionMsg struct {
	err        error
	prediction *predictor.Prediction
}

func newInteractiveModel(ctx context.Context, a *app, tag string) *interactiveModel {
	tagInput := textinput.New()
	tagInput.Prompt = "tag: "
	tagInput.Placeholder = "@owner/name"
	tagInput.Width = 40
	tagInput.SetValue(tag)
	tagInput.Focus()

	argsInput := textinput.New()
	argsInput.Prompt = "inputs: "
	argsInput.Placeholder = "x=3 name=hello"
	argsInput.Width = 60

	return &interactiveModel{
		ctx:    ctx,
		app:    a,
		inputs: []textinput.Model{tagInput, argsInput},
		state:  stateEdit,
	}
}

func (m *interactiveModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateEdit {
				return m, tea.Quit
			}

		case "tab", "shift+tab":
			if m.state == stateEdit {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
				return m, nil
			}

		case "enter":
			switch m.state {
			case stateEdit:
				m.state = stateRunning
				return m, m.predict
			case stateShowResult:
				m.state = stateEdit
				m.prediction = nil
				m.err = nil
				return m, nil
			}

		case "esc":
			if m.state == stateShowResult {
				m.state = stateEdit
				m.prediction = nil
				m.err = nil
				return m, nil
			}
		}

	case predictionMsg:
		m.prediction = msg.prediction
		m.err = msg.err
		m.state = stateShowResult
		return m, nil
	}

	if m.state == stateEdit {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) predict() tea.Msg {
	tag := strings.TrimSpace(m.inputs[0].Value())
	if tag == "" {
		return predictionMsg{err: fmt.Errorf("tag is required")}
	}
	inputs, err := parseInputs(strings.Fields(m.inputs[1].Value()))
	if err != nil {
		return predictionMsg{err: err}
	}
	p, err := m.app.service.Create(m.ctx, tag, inputs, m.app.createOptions()...)
	return predictionMsg{prediction: p, err: err}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("fxn"))
	b.WriteString(" ")
	b.WriteString(helpStyle.Render(strings.Join(m.app.cache.Tags(), ", ")))
	b.WriteString("\n\n")

	switch m.state {
	case stateEdit:
		for _, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter predict • ctrl+c quit"))

	case stateRunning:
		b.WriteString(fmt.Sprintf("Predicting %s...", tagStyle.Render(m.inputs[0].Value())))

	case stateShowResult:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(m.formatPrediction(m.prediction))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatPrediction(p *predictor.Prediction) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s %s %s\n\n",
		tagStyle.Render(p.Tag),
		kindStyle.Render(string(p.Type)),
		helpStyle.Render(fmt.Sprintf("%.2fms", p.Latency))))
	for i, r := range p.Results {
		text, err := json.Marshal(describe(r))
		if err != nil {
			text = []byte(fmt.Sprintf("%v", r))
		}
		b.WriteString(fmt.Sprintf("[%d] %s\n", i, resultStyle.Render(string(text))))
	}
	if p.Error != "" {
		b.WriteString(errorStyle.Render("error: " + p.Error))
		b.WriteString("\n")
	}
	if p.Logs != "" {
		b.WriteString("\n--- logs ---\n")
		b.WriteString(p.Logs)
	}
	return b.String()
}

func runInteractive(ctx context.Context, a *app, tag string) error {
	p := tea.NewProgram(newInteractiveModel(ctx, a, tag), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
