// Copyright 2026 The Conact Authors
// SPDX-License-Identifier: Apache-2.0

package chatui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/conact/conact/lib/clock"
	"github.com/conact/conact/lib/conversation"
	"github.com/conact/conact/lib/ref"
	"github.com/conact/conact/lib/timeline"
	"github.com/conact/conact/lib/voice"
)

// Conversation is the open chat the viewer shows.
// *conversation.Session implements it.
type Conversation interface {
	Messages() *timeline.Reconciler
	State() (conversation.State, ref.RoomID)
	OnState(fn func(conversation.StateChange)) (unsubscribe func())
	OnScroll(fn func(conversation.ScrollRequest)) (unsubscribe func())
	Draft() string
	SetDraft(text string)
	Send(ctx context.Context, body string) (string, error)
	SendImage(ctx context.Context, url, title string, width, height int) (string, error)
}

// Voice is the voice session the panel shows and the voice commands
// drive. *voice.Controller implements it.
type Voice interface {
	State() voice.State
	OnState(fn func(voice.State)) (unsubscribe func())
	Registry() *voice.Registry
	ToggleMute(ctx context.Context) error
	ToggleDeafen(ctx context.Context) error
	ToggleVideo(ctx context.Context) error
	ToggleScreenShare(ctx context.Context) error
	Disconnect(ctx context.Context) error
	SendPing(ctx context.Context, identity string) error
	SetParticipantVolume(ctx context.Context, identity string, volume int) error
	ToggleParticipantMute(ctx context.Context, identity string) (bool, error)
	ParticipantVolume(identity string) int
	IsParticipantMuted(identity string) bool
}

// ErrVoiceUnavailable is reported by voice commands when the viewer
// runs without a voice controller.
var ErrVoiceUnavailable = errors.New("voice is not available")

// Config holds the dependencies of a Model.
type Config struct {
	Conversation Conversation

	// Voice is optional. Without it the voice panel is hidden.
	Voice Voice

	// Title is shown in the header, typically the room name.
	Title string

	// Theme and Keys default to DefaultTheme and DefaultKeyMap.
	Theme *Theme
	Keys  *KeyMap

	Clock  clock.Clock
	Logger *slog.Logger

	// CommandTimeout bounds each send and voice command. Zero means
	// 15 seconds.
	CommandTimeout time.Duration
}

const (
	defaultCommandTimeout = 15 * time.Second
	statusFadeDelay       = 4 * time.Second

	// voicePanelWidth includes the separator column.
	voicePanelWidth = 30

	// minPanelLayoutWidth is the narrowest window that still shows the
	// voice panel beside the messages.
	minPanelLayoutWidth = 70

	// chromeHeight counts the header, status, input and help lines.
	chromeHeight = 4
)

type refreshMsg struct {
	ignite []string
	scroll bool
}

type commandResultMsg struct {
	notice string
	err    error
}

type statusFadeMsg struct {
	sequence int
}

type heatTickMsg struct{}

// inbox carries change notifications from observer goroutines into the
// bubbletea loop. Notifications coalesce: one pending signal covers
// any number of changes, and the model re-reads every snapshot when it
// takes the signal.
type inbox struct {
	mu     sync.Mutex
	ignite []string
	scroll bool
	signal chan struct{}
	done   chan struct{}
}

func newInbox() *inbox {
	return &inbox{signal: make(chan struct{}, 1), done: make(chan struct{})}
}

func (box *inbox) post(ignite []string, scroll bool) {
	box.mu.Lock()
	box.ignite = append(box.ignite, ignite...)
	box.scroll = box.scroll || scroll
	box.mu.Unlock()
	select {
	case box.signal <- struct{}{}:
	default:
	}
}

func (box *inbox) take() refreshMsg {
	box.mu.Lock()
	defer box.mu.Unlock()
	message := refreshMsg{ignite: box.ignite, scroll: box.scroll}
	box.ignite = nil
	box.scroll = false
	return message
}

// subscriptions is shared by every copy of a Model so Close works on
// any of them.
type subscriptions struct {
	once        sync.Once
	unsubscribe []func()
}

// Model is the bubbletea model of the chat viewer.
type Model struct {
	conversation Conversation
	voice        Voice
	title        string
	theme        Theme
	keys         KeyMap
	clock        clock.Clock
	logger       *slog.Logger
	timeout      time.Duration
	lipRenderer  *lipgloss.Renderer

	inbox         *inbox
	subscriptions *subscriptions

	heat        *HeatTracker
	tickRunning bool

	viewport viewport.Model
	input    textinput.Model
	width    int
	height   int
	ready    bool

	messages          []timeline.Message
	conversationState conversation.State
	roomID            ref.RoomID
	voiceState        voice.State
	participants      []voice.Participant

	status         string
	statusIsError  bool
	statusSequence int
}

// NewModel creates a Model and subscribes it to the conversation and
// voice session. Call Close when the program exits.
func NewModel(config Config) (Model, error) {
	if config.Conversation == nil {
		return Model{}, errors.New("chatui: Conversation is required")
	}
	theme := DefaultTheme
	if config.Theme != nil {
		theme = *config.Theme
	}
	keys := DefaultKeyMap
	if config.Keys != nil {
		keys = *config.Keys
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := config.CommandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	// The viewer always renders for a terminal, so the profile is
	// forced rather than detected from the output.
	lipRenderer := lipgloss.NewRenderer(os.Stdout, termenv.WithProfile(termenv.ANSI256))
	lipRenderer.SetColorProfile(termenv.ANSI256)

	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Message, or /help"
	input.CharLimit = 4000
	input.Focus()

	model := Model{
		conversation:  config.Conversation,
		voice:         config.Voice,
		title:         config.Title,
		theme:         theme,
		keys:          keys,
		clock:         clk,
		logger:        logger,
		timeout:       timeout,
		lipRenderer:   lipRenderer,
		inbox:         newInbox(),
		subscriptions: &subscriptions{},
		heat:          NewHeatTracker(),
		viewport:      viewport.New(0, 0),
		input:         input,
	}
	model.subscribe()
	model.reload()
	model.input.SetValue(model.conversation.Draft())
	return model, nil
}

func (model *Model) subscribe() {
	box := model.inbox
	refresh := func() { box.post(nil, false) }
	subs := model.subscriptions

	subs.unsubscribe = append(subs.unsubscribe,
		model.conversation.Messages().Subscribe(func(change timeline.Change) {
			var ignite []string
			if change.Kind == timeline.Appended && change.Index >= 0 && change.Index < len(change.Messages) {
				ignite = []string{messageKey(change.Messages[change.Index])}
			}
			box.post(ignite, false)
		}),
		model.conversation.OnState(func(conversation.StateChange) { refresh() }),
		model.conversation.OnScroll(func(conversation.ScrollRequest) { box.post(nil, true) }),
	)
	if model.voice != nil {
		subs.unsubscribe = append(subs.unsubscribe,
			model.voice.OnState(func(voice.State) { refresh() }),
			model.voice.Registry().Subscribe(func([]voice.Participant) { refresh() }),
		)
	}
}

// Close unsubscribes the model from its sources and stops the change
// listener.
func (model Model) Close() {
	model.subscriptions.once.Do(func() {
		for _, unsubscribe := range model.subscriptions.unsubscribe {
			unsubscribe()
		}
		close(model.inbox.done)
	})
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, model.listen())
}

// listen blocks until a source changes, then delivers a refreshMsg.
func (model Model) listen() tea.Cmd {
	box := model.inbox
	return func() tea.Msg {
		select {
		case <-box.signal:
			return box.take()
		case <-box.done:
			return nil
		}
	}
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		model.ready = true
		model.layout()
		model.renderContent()
		model.viewport.GotoBottom()
		return model, nil

	case refreshMsg:
		return model.handleRefresh(message)

	case heatTickMsg:
		model.renderContent()
		if model.heat.HasHot(model.clock.Now()) {
			return model, scheduleHeatTick()
		}
		model.tickRunning = false
		return model, nil

	case commandResultMsg:
		switch {
		case message.err != nil:
			cmd := model.setStatus(message.err.Error(), true)
			return model, cmd
		case message.notice != "":
			cmd := model.setStatus(message.notice, false)
			return model, cmd
		}
		return model, nil

	case logRecordMsg:
		cmd := model.setStatus(message.summary, message.level >= slog.LevelError)
		return model, cmd

	case statusFadeMsg:
		if message.sequence == model.statusSequence {
			model.status = ""
		}
		return model, nil

	case tea.KeyMsg:
		return model.handleKey(message)
	}
	return model, nil
}

func (model Model) handleRefresh(message refreshMsg) (tea.Model, tea.Cmd) {
	atBottom := model.viewport.AtBottom()
	model.reload()

	now := model.clock.Now()
	for _, key := range message.ignite {
		model.heat.Ignite(key, now)
	}
	model.renderContent()
	if message.scroll || atBottom {
		model.viewport.GotoBottom()
	}

	commands := []tea.Cmd{model.listen()}
	if len(message.ignite) > 0 && !model.tickRunning {
		model.tickRunning = true
		commands = append(commands, scheduleHeatTick())
	}
	return model, tea.Batch(commands...)
}

// reload re-reads every source snapshot.
func (model *Model) reload() {
	model.messages = model.conversation.Messages().Messages()
	state, roomID := model.conversation.State()
	model.conversationState = state
	if roomID != model.roomID {
		model.roomID = roomID
		model.input.SetValue(model.conversation.Draft())
	}
	if model.voice != nil {
		model.voiceState = model.voice.State()
		model.participants = model.voice.Registry().Participants()
	}
}

func scheduleHeatTick() tea.Cmd {
	return tea.Tick(HeatTickInterval, func(time.Time) tea.Msg {
		return heatTickMsg{}
	})
}

func (model *Model) setStatus(text string, isError bool) tea.Cmd {
	model.status = text
	model.statusIsError = isError
	model.statusSequence++
	sequence := model.statusSequence
	return tea.Tick(statusFadeDelay, func(time.Time) tea.Msg {
		return statusFadeMsg{sequence: sequence}
	})
}

func (model Model) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		return model, tea.Quit
	case key.Matches(message, model.keys.Send):
		return model.submit()
	case key.Matches(message, model.keys.ScrollUp):
		model.viewport.LineUp(1)
	case key.Matches(message, model.keys.ScrollDown):
		model.viewport.LineDown(1)
	case key.Matches(message, model.keys.PageUp):
		model.viewport.LineUp(max(model.viewport.Height-1, 1))
	case key.Matches(message, model.keys.PageDown):
		model.viewport.LineDown(max(model.viewport.Height-1, 1))
	case key.Matches(message, model.keys.Newest):
		model.viewport.GotoBottom()
	case key.Matches(message, model.keys.ToggleMute):
		cmd := model.voiceCommand("", func(ctx context.Context, v Voice) (string, error) {
			return "", v.ToggleMute(ctx)
		})
		return model, cmd
	case key.Matches(message, model.keys.ToggleDeafen):
		cmd := model.voiceCommand("", func(ctx context.Context, v Voice) (string, error) {
			return "", v.ToggleDeafen(ctx)
		})
		return model, cmd
	case key.Matches(message, model.keys.ClearInput):
		model.input.Reset()
		model.conversation.SetDraft("")
	default:
		var cmd tea.Cmd
		model.input, cmd = model.input.Update(message)
		model.conversation.SetDraft(model.input.Value())
		return model, cmd
	}
	return model, nil
}

// submit sends the composer's content as a message or runs it as a
// slash command.
func (model Model) submit() (tea.Model, tea.Cmd) {
	value := model.input.Value()
	parsed, text, isCommand := parseCommand(value)
	if !isCommand {
		if strings.TrimSpace(text) == "" {
			return model, nil
		}
		model.input.Reset()
		conv := model.conversation
		return model, model.run(func(ctx context.Context) (string, error) {
			_, err := conv.Send(ctx, text)
			return "", err
		})
	}

	model.input.Reset()
	model.conversation.SetDraft("")
	if parsed.name == "quit" {
		return model, tea.Quit
	}
	cmd := model.execute(parsed)
	return model, cmd
}

func (model *Model) execute(parsed command) tea.Cmd {
	switch parsed.name {
	case "help":
		return model.setStatus(commandUsage, false)

	case "image":
		if len(parsed.args) == 0 {
			return model.setStatus("usage: /image <url> [title]", true)
		}
		url := parsed.args[0]
		title := strings.Join(parsed.args[1:], " ")
		conv := model.conversation
		return model.run(func(ctx context.Context) (string, error) {
			_, err := conv.SendImage(ctx, url, title, 0, 0)
			return "", err
		})

	case "mute":
		return model.voiceCommand("", func(ctx context.Context, v Voice) (string, error) {
			return "", v.ToggleMute(ctx)
		})
	case "deafen":
		return model.voiceCommand("", func(ctx context.Context, v Voice) (string, error) {
			return "", v.ToggleDeafen(ctx)
		})
	case "video":
		return model.voiceCommand("", func(ctx context.Context, v Voice) (string, error) {
			return "", v.ToggleVideo(ctx)
		})
	case "share":
		return model.voiceCommand("", func(ctx context.Context, v Voice) (string, error) {
			return "", v.ToggleScreenShare(ctx)
		})
	case "leave":
		return model.voiceCommand("left voice", func(ctx context.Context, v Voice) (string, error) {
			return "", v.Disconnect(ctx)
		})

	case "ping":
		if len(parsed.args) != 1 {
			return model.setStatus("usage: /ping <user>", true)
		}
		identity := parsed.args[0]
		return model.voiceCommand("pinged "+identity, func(ctx context.Context, v Voice) (string, error) {
			return "", v.SendPing(ctx, identity)
		})

	case "volume":
		identity, volume, err := volumeArgs(parsed.args)
		if err != nil {
			return model.setStatus(err.Error(), true)
		}
		return model.voiceCommand(fmt.Sprintf("%s at %d%%", identity, volume), func(ctx context.Context, v Voice) (string, error) {
			return "", v.SetParticipantVolume(ctx, identity, volume)
		})

	case "silence":
		if len(parsed.args) != 1 {
			return model.setStatus("usage: /silence <user>", true)
		}
		identity := parsed.args[0]
		return model.voiceCommand("", func(ctx context.Context, v Voice) (string, error) {
			muted, err := v.ToggleParticipantMute(ctx, identity)
			if err != nil {
				return "", err
			}
			if muted {
				return "silenced " + identity, nil
			}
			return "unsilenced " + identity, nil
		})

	default:
		return model.setStatus("unknown command /"+parsed.name+"; try /help", true)
	}
}

// voiceCommand runs fn against the voice controller. notice is shown
// on success when fn returns none.
func (model *Model) voiceCommand(notice string, fn func(context.Context, Voice) (string, error)) tea.Cmd {
	if model.voice == nil {
		return model.setStatus(ErrVoiceUnavailable.Error(), true)
	}
	v := model.voice
	return model.run(func(ctx context.Context) (string, error) {
		result, err := fn(ctx, v)
		if result == "" {
			result = notice
		}
		return result, err
	})
}

// run executes fn off the bubbletea loop with the command timeout.
func (model *Model) run(fn func(context.Context) (string, error)) tea.Cmd {
	timeout := model.timeout
	logger := model.logger
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		notice, err := fn(ctx)
		if err != nil {
			logger.Warn("chat command failed", "error", err)
		}
		return commandResultMsg{notice: notice, err: err}
	}
}

func (model Model) showPanel() bool {
	return model.voice != nil && model.width >= minPanelLayoutWidth
}

// messagesWidth is the width of the message column, without the
// scrollbar.
func (model Model) messagesWidth() int {
	width := model.width - 1
	if model.showPanel() {
		width -= voicePanelWidth
	}
	return max(width, 10)
}

func (model *Model) layout() {
	model.viewport.Width = model.messagesWidth()
	model.viewport.Height = max(model.height-chromeHeight, 1)
	model.input.Width = max(model.width-ansi.StringWidth(model.input.Prompt)-1, 1)
}

// renderContent re-renders the message list into the viewport,
// keeping the scroll offset.
func (model *Model) renderContent() {
	if !model.ready {
		return
	}
	faint := model.lipRenderer.NewStyle().Foreground(model.theme.FaintText)
	var content string
	switch {
	case len(model.messages) > 0:
		now := model.clock.Now()
		content = renderMessages(model.messages, model.theme, model.viewport.Width, model.lipRenderer, func(key string) float64 {
			return model.heat.Heat(key, now)
		})
	case model.conversationState == conversation.Loading:
		content = faint.Render("loading history…")
	case model.conversationState == conversation.Idle:
		content = faint.Render("no conversation open")
	default:
		content = faint.Render("no messages yet")
	}
	offset := model.viewport.YOffset
	model.viewport.SetContent(content)
	model.viewport.SetYOffset(offset)
}

// View implements tea.Model.
func (model Model) View() string {
	if !model.ready {
		return "starting…"
	}

	title := model.title
	if title == "" {
		title = model.roomID.String()
	}
	if model.conversationState == conversation.Loading {
		title += " · loading"
	}
	header := model.lipRenderer.NewStyle().Bold(true).Foreground(model.theme.HeaderForeground).
		Render(ansi.Truncate(title, model.width, "…"))

	scrollbar := renderScrollbar(model.theme, model.lipRenderer, model.viewport.Height,
		model.viewport.TotalLineCount(), model.viewport.Height, model.viewport.YOffset)
	messages := model.lipRenderer.NewStyle().Width(model.viewport.Width).Height(model.viewport.Height).
		Render(model.viewport.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, messages, scrollbar)
	if model.showPanel() {
		panel := renderVoicePanel(model.voiceState, model.participants, model.voice, model.theme, voicePanelWidth-2, model.lipRenderer)
		panel = model.lipRenderer.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).BorderLeft(true).BorderForeground(model.theme.BorderColor).
			PaddingLeft(1).Height(model.viewport.Height).MaxHeight(model.viewport.Height).
			Render(panel)
		body = lipgloss.JoinHorizontal(lipgloss.Top, body, panel)
	}

	statusColor := model.theme.FaintText
	if model.statusIsError {
		statusColor = model.theme.ErrorText
	}
	status := model.lipRenderer.NewStyle().Foreground(statusColor).Render(ansi.Truncate(model.status, model.width, "…"))

	var help []string
	for _, binding := range model.keys.ShortHelp() {
		helpText := binding.Help()
		help = append(help, helpText.Key+" "+helpText.Desc)
	}
	helpLine := model.lipRenderer.NewStyle().Foreground(model.theme.HelpText).
		Render(ansi.Truncate(strings.Join(help, " · "), model.width, "…"))

	return strings.Join([]string{header, body, status, model.input.View(), helpLine}, "\n")
}
