// Package ui renders the live slot-status dashboard. The model is a
// thin projection over the parking store: it never mutates slot state
// itself, it re-reads the store snapshot whenever the store signals a
// change and routes booking input through the booking workflow.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotview/lotview/internal/booking"
	"github.com/lotview/lotview/internal/camera"
	"github.com/lotview/lotview/internal/live"
	"github.com/lotview/lotview/internal/parking"
	"github.com/lotview/lotview/internal/session"
)

// FocusRegion identifies where keyboard input is routed.
type FocusRegion int

const (
	// FocusGrid means navigation keys move the slot cursor.
	FocusGrid FocusRegion = iota
	// FocusDuration means digits edit the booking duration prompt.
	FocusDuration
	// FocusOrder means a payment order is on screen awaiting dismissal.
	FocusOrder
)

const (
	slotCellWidth = 14

	// cameraProbeInterval is how often the camera feed is re-checked.
	cameraProbeInterval = 30 * time.Second

	// noticeFadeDelay is how long a status-bar notice stays visible.
	noticeFadeDelay = 4 * time.Second
)

// storeChangedMsg signals that the parking store snapshot moved.
type storeChangedMsg struct{}

// liveStatusMsg carries a connection state change from the live channel.
type liveStatusMsg struct {
	connected bool
}

// cameraStatusMsg carries the result of a camera feed probe.
type cameraStatusMsg struct {
	online bool
}

// cameraTickMsg schedules the next camera probe.
type cameraTickMsg struct{}

// refreshDoneMsg is sent when a manual full reload completes.
type refreshDoneMsg struct {
	err error
}

// bookingDoneMsg is sent when a booking submission returns.
type bookingDoneMsg struct {
	order booking.PaymentOrder
	err   error
}

// noticeFadeMsg clears the status-bar notice.
type noticeFadeMsg struct{}

// Config carries the wired synchronization core into the model.
type Config struct {
	Store   *parking.Store
	Booking *booking.Workflow
	Live    *live.Supervisor
	Camera  *camera.Feed
	Session *session.Store

	// LiveStatus receives connection state changes from the live
	// channel supervisor's status callback.
	LiveStatus <-chan bool
}

// Model is the dashboard's bubbletea model.
type Model struct {
	ctx     context.Context
	store   *parking.Store
	booking *booking.Workflow
	live    *live.Supervisor
	camera  *camera.Feed
	session *session.Store

	keys  KeyMap
	theme Theme

	changes    <-chan struct{}
	unsub      func()
	liveStatus <-chan bool

	width  int
	height int

	focus         FocusRegion
	cursor        int
	durationInput string

	connected    bool
	cameraOnline bool

	notice   string
	noticeIn time.Time
	err      error
}

// NewModel builds the dashboard model. The context bounds all backend
// calls the model issues (booking submits, manual reloads).
func NewModel(ctx context.Context, config Config) Model {
	changes, unsub := config.Store.Subscribe()
	return Model{
		ctx:        ctx,
		store:      config.Store,
		booking:    config.Booking,
		live:       config.Live,
		camera:     config.Camera,
		session:    config.Session,
		keys:       DefaultKeyMap,
		theme:      DefaultTheme,
		changes:    changes,
		unsub:      unsub,
		liveStatus: config.LiveStatus,
	}
}

// Init implements tea.Model.
func (model Model) Init() tea.Cmd {
	commands := []tea.Cmd{
		listenForStoreChange(model.changes),
		model.probeCamera(),
	}
	if model.liveStatus != nil {
		commands = append(commands, listenForLiveStatus(model.liveStatus))
	}
	return tea.Batch(commands...)
}

// listenForStoreChange blocks until the store signals a change.
func listenForStoreChange(changes <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}

// listenForLiveStatus blocks until the live channel reports a state
// change.
func listenForLiveStatus(status <-chan bool) tea.Cmd {
	return func() tea.Msg {
		connected, ok := <-status
		if !ok {
			return nil
		}
		return liveStatusMsg{connected: connected}
	}
}

func (model Model) probeCamera() tea.Cmd {
	feed := model.camera
	ctx := model.ctx
	return func() tea.Msg {
		if feed == nil {
			return cameraStatusMsg{online: false}
		}
		return cameraStatusMsg{online: feed.Probe(ctx) == nil}
	}
}

// Update implements tea.Model.
func (model Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.KeyMsg:
		switch model.focus {
		case FocusDuration:
			return model.handleDurationKeys(message)
		case FocusOrder:
			return model.handleOrderKeys(message)
		}
		return model.handleGridKeys(message)

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.height = message.Height
		return model, nil

	case storeChangedMsg:
		model.clampCursor()
		return model, listenForStoreChange(model.changes)

	case liveStatusMsg:
		model.connected = message.connected
		return model, listenForLiveStatus(model.liveStatus)

	case cameraStatusMsg:
		model.cameraOnline = message.online
		return model, tea.Tick(cameraProbeInterval, func(time.Time) tea.Msg {
			return cameraTickMsg{}
		})

	case cameraTickMsg:
		return model, model.probeCamera()

	case refreshDoneMsg:
		if message.err != nil {
			return model.withError(message.err)
		}
		return model.withNotice("Refreshed")

	case bookingDoneMsg:
		if message.err != nil {
			model.focus = FocusGrid
			return model.withError(message.err)
		}
		model.focus = FocusOrder
		return model, nil

	case noticeFadeMsg:
		// Only fade if no newer notice replaced this one.
		if time.Since(model.noticeIn) >= noticeFadeDelay-time.Second {
			model.notice = ""
			model.err = nil
		}
		return model, nil
	}
	return model, nil
}

func (model Model) handleGridKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		model.live.Stop()
		model.unsub()
		return model, tea.Quit

	case key.Matches(message, model.keys.Up):
		model.moveCursor(0, -1)
	case key.Matches(message, model.keys.Down):
		model.moveCursor(0, 1)
	case key.Matches(message, model.keys.Left):
		model.moveCursor(-1, 0)
	case key.Matches(message, model.keys.Right):
		model.moveCursor(1, 0)

	case key.Matches(message, model.keys.NextLot):
		return model.switchLot(1)
	case key.Matches(message, model.keys.PrevLot):
		return model.switchLot(-1)

	case key.Matches(message, model.keys.Refresh):
		ctx, store := model.ctx, model.store
		return model, tea.Batch(
			func() tea.Msg {
				_, err := store.LoadLots(ctx)
				return refreshDoneMsg{err: err}
			},
			model.probeCamera(),
		)

	case key.Matches(message, model.keys.Select):
		slots := model.store.Slots()
		if model.cursor >= len(slots) {
			return model, nil
		}
		if err := model.booking.Select(slots[model.cursor]); err != nil {
			return model.withError(err)
		}
		model.focus = FocusDuration
		model.durationInput = ""
		return model, nil

	case key.Matches(message, model.keys.Cancel):
		model.booking.Cancel()
		return model, nil
	}
	return model, nil
}

// handleDurationKeys edits the duration prompt. Digits accumulate,
// backspace deletes, enter validates and submits, escape abandons the
// draft.
func (model Model) handleDurationKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		model.live.Stop()
		model.unsub()
		return model, tea.Quit

	case key.Matches(message, model.keys.Cancel):
		model.booking.Cancel()
		model.focus = FocusGrid
		model.durationInput = ""
		return model, nil

	case key.Matches(message, model.keys.Select):
		hours := parseHours(model.durationInput)
		if err := model.booking.SetDuration(hours); err != nil {
			return model.withError(err)
		}
		ctx, workflow := model.ctx, model.booking
		return model, func() tea.Msg {
			order, err := workflow.Submit(ctx)
			return bookingDoneMsg{order: order, err: err}
		}
	}

	switch message.Type {
	case tea.KeyBackspace:
		if model.durationInput != "" {
			model.durationInput = model.durationInput[:len(model.durationInput)-1]
		}
	case tea.KeyRunes:
		for _, r := range message.Runes {
			if r >= '0' && r <= '9' && len(model.durationInput) < 2 {
				model.durationInput += string(r)
			}
		}
	}
	return model, nil
}

func (model Model) handleOrderKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(message, model.keys.Quit) {
		model.live.Stop()
		model.unsub()
		return model, tea.Quit
	}
	// Any other key dismisses the order view and resets the draft.
	model.booking.Cancel()
	model.focus = FocusGrid
	model.durationInput = ""
	return model, nil
}

// switchLot moves the current lot by delta and rebinds the live
// channel to the new lot.
func (model Model) switchLot(delta int) (tea.Model, tea.Cmd) {
	lots := model.store.Lots()
	if len(lots) < 2 {
		return model, nil
	}
	current, ok := model.store.CurrentLot()
	if !ok {
		return model, nil
	}
	index := 0
	for i, lot := range lots {
		if lot.ID == current.ID {
			index = i
			break
		}
	}
	next := lots[(index+delta+len(lots))%len(lots)]
	if !model.store.SelectLot(next.ID) {
		return model, nil
	}
	model.cursor = 0
	model.booking.Cancel()

	ctx, supervisor := model.ctx, model.live
	return model, func() tea.Msg {
		_ = supervisor.Watch(ctx, next.ID)
		return nil
	}
}

func (model *Model) moveCursor(dx, dy int) {
	slots := model.store.Slots()
	if len(slots) == 0 {
		return
	}
	columns := model.gridColumns()
	next := model.cursor + dx + dy*columns
	if next >= 0 && next < len(slots) {
		model.cursor = next
	}
}

func (model *Model) clampCursor() {
	if count := len(model.store.Slots()); model.cursor >= count {
		if count == 0 {
			model.cursor = 0
		} else {
			model.cursor = count - 1
		}
	}
}

func (model Model) gridColumns() int {
	columns := (model.width - 2) / slotCellWidth
	if columns < 1 {
		return 1
	}
	return columns
}

func (model Model) withNotice(text string) (tea.Model, tea.Cmd) {
	model.notice = text
	model.err = nil
	model.noticeIn = time.Now()
	return model, tea.Tick(noticeFadeDelay, func(time.Time) tea.Msg {
		return noticeFadeMsg{}
	})
}

func (model Model) withError(err error) (tea.Model, tea.Cmd) {
	model.err = err
	model.notice = ""
	model.noticeIn = time.Now()
	return model, tea.Tick(noticeFadeDelay, func(time.Time) tea.Msg {
		return noticeFadeMsg{}
	})
}

func parseHours(input string) int {
	hours := 0
	for _, r := range input {
		hours = hours*10 + int(r-'0')
	}
	return hours
}

// View implements tea.Model.
func (model Model) View() string {
	var sections []string
	sections = append(sections, model.viewHeader())
	sections = append(sections, model.viewStats())
	sections = append(sections, model.viewGrid())
	sections = append(sections, model.viewFooter())
	return strings.Join(sections, "\n")
}

func (model Model) viewHeader() string {
	title := lipgloss.NewStyle().
		Foreground(model.theme.HeaderForeground).
		Background(model.theme.HeaderBackground).
		Bold(true).
		Padding(0, 1).
		Render("lotview")

	lotLabel := "no lots"
	if lot, ok := model.store.CurrentLot(); ok {
		lots := model.store.Lots()
		index := 1
		for i, l := range lots {
			if l.ID == lot.ID {
				index = i + 1
				break
			}
		}
		lotLabel = fmt.Sprintf("%s (%d/%d)", lot.Name, index, len(lots))
	}
	lot := lipgloss.NewStyle().
		Foreground(model.theme.NormalText).
		Padding(0, 1).
		Render(lotLabel)

	badge := lipgloss.NewStyle().Foreground(model.theme.OfflineBadge).Render("● OFFLINE")
	if model.connected {
		badge = lipgloss.NewStyle().Foreground(model.theme.LiveBadge).Render("● LIVE")
	}

	cam := lipgloss.NewStyle().Foreground(model.theme.FaintText).Render("cam ✗")
	if model.cameraOnline {
		cam = lipgloss.NewStyle().Foreground(model.theme.LiveBadge).Render("cam ✓")
	}

	who := ""
	if user, ok := model.session.User(); ok {
		who = lipgloss.NewStyle().Foreground(model.theme.FaintText).Render(user.Email)
	}

	return lipgloss.JoinHorizontal(lipgloss.Center, title, lot, badge, "  ", cam, "  ", who)
}

func (model Model) viewStats() string {
	free, occupied, reserved := parking.CountByStatus(model.store.Slots())
	stat := func(label string, count int, color lipgloss.Color) string {
		return lipgloss.NewStyle().Foreground(color).Bold(true).Render(fmt.Sprintf("%d", count)) +
			lipgloss.NewStyle().Foreground(model.theme.FaintText).Render(" "+label)
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(
		stat("free", free, model.theme.StatusFree) + "   " +
			stat("occupied", occupied, model.theme.StatusOccupied) + "   " +
			stat("reserved", reserved, model.theme.StatusReserved),
	)
}

func (model Model) viewGrid() string {
	slots := model.store.Slots()
	if len(slots) == 0 {
		return lipgloss.NewStyle().
			Foreground(model.theme.FaintText).
			Padding(1, 2).
			Render("No slots in this lot.")
	}

	columns := model.gridColumns()
	selected, hasSelection := model.booking.Selected()

	var rows []string
	for start := 0; start < len(slots); start += columns {
		end := start + columns
		if end > len(slots) {
			end = len(slots)
		}
		var cells []string
		for i := start; i < end; i++ {
			cells = append(cells, model.viewSlotCell(slots[i], i == model.cursor, hasSelection && slots[i].ID == selected.ID))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	return strings.Join(rows, "\n")
}

func (model Model) viewSlotCell(slot parking.Slot, underCursor, drafted bool) string {
	statusColor := model.theme.StatusColor(slot.Status)

	borderColor := model.theme.BorderColor
	if underCursor {
		borderColor = model.theme.CursorBorder
	}

	name := slot.Name
	if drafted {
		name = "▸ " + name
	}

	body := lipgloss.NewStyle().Foreground(model.theme.NormalText).Bold(underCursor).Render(name) + "\n" +
		lipgloss.NewStyle().Foreground(statusColor).Render(string(slot.Status))

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Width(slotCellWidth - 2).
		Render(body)
}

func (model Model) viewFooter() string {
	switch model.focus {
	case FocusDuration:
		slot, _ := model.booking.Selected()
		prompt := fmt.Sprintf("Book %s: duration in hours (1-24): %s█", slot.Name, model.durationInput)
		if hours := parseHours(model.durationInput); hours >= booking.MinDurationHours && hours <= booking.MaxDurationHours {
			prompt += lipgloss.NewStyle().Foreground(model.theme.FaintText).
				Render(fmt.Sprintf("  total ₹%.2f", slot.RatePerHour*float64(hours)))
		}
		return lipgloss.NewStyle().Foreground(model.theme.NoticeText).Padding(0, 1).Render(prompt)

	case FocusOrder:
		order, ok := model.booking.Order()
		if !ok {
			break
		}
		return lipgloss.NewStyle().Foreground(model.theme.NoticeText).Padding(0, 1).Render(
			fmt.Sprintf("Payment order %s: ₹%.2f %s (key %s). Press any key to continue.",
				order.OrderID, float64(order.Amount)/100, order.Currency, order.KeyID))
	}

	if model.err != nil {
		return lipgloss.NewStyle().Foreground(model.theme.ErrorText).Padding(0, 1).Render(model.err.Error())
	}
	if model.notice != "" {
		return lipgloss.NewStyle().Foreground(model.theme.NoticeText).Padding(0, 1).Render(model.notice)
	}

	help := []string{
		model.keys.Up.Help().Key + "/" + model.keys.Down.Help().Key + " move",
		model.keys.NextLot.Help().Key + "/" + model.keys.PrevLot.Help().Key + " lot",
		model.keys.Select.Help().Key + " " + model.keys.Select.Help().Desc,
		model.keys.Refresh.Help().Key + " " + model.keys.Refresh.Help().Desc,
		model.keys.Quit.Help().Key + " " + model.keys.Quit.Help().Desc,
	}
	return lipgloss.NewStyle().Foreground(model.theme.HelpText).Padding(0, 1).
		Render(strings.Join(help, "  ·  "))
}
