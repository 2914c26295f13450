// Package tui is the terminal client for the community messaging core.
package tui

import (
	"context"
	"errors"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/lifelink/commsync/internal/bus"
	"github.com/lifelink/commsync/internal/daemon"
	"github.com/lifelink/commsync/internal/realtime"
	"github.com/lifelink/commsync/internal/store"
	"github.com/lifelink/commsync/internal/tui/keys"
	"github.com/lifelink/commsync/internal/tui/model"
	"github.com/lifelink/commsync/internal/tui/views"
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	core      *daemon.Core
	registry  *keys.Registry
	flash     *model.Flash
	statusBar *views.StatusBar
	roomList  *views.RoomList
	msgView   *views.MessageView
	composer  *views.Composer
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application over an in-process messaging core.
func NewApp(core *daemon.Core, profileName string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		core:      core,
		registry:  keys.NewRegistry(),
		flash:     &model.Flash{},
		statusBar: views.NewStatusBar(),
		roomList:  views.NewRoomList(),
		msgView:   views.NewMessageView(core.IsOwn),
		composer:  views.NewComposer(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetProfile(profileName)
	a.statusBar.SetSignal(string(core.Status()))
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.app.Stop() },
	})
	a.registry.AddGlobal("reconnect", &keys.Action{
		Rune: 'c', Key: tcell.KeyRune,
		Description: "c:connect", Visible: true,
		Handler: func() { a.reconnect() },
	})
	a.registry.AddView("room", "older", &keys.Action{
		Rune: 'o', Key: tcell.KeyRune,
		Description: "o:older", Visible: true,
		Handler: func() { a.loadOlder() },
	})
	a.registry.AddView("rooms", "refresh", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:refresh", Visible: true,
		Handler: func() { go a.loadRooms() },
	})
}

func (a *App) setupCallbacks() {
	a.roomList.SetSelectedFunc(func(row, col int) {
		roomID := a.roomList.SelectedRoom()
		if roomID != "" {
			a.openRoom(roomID)
		}
	})

	a.composer.SetOnSend(func(text string) {
		go a.send(text)
	})
}

func (a *App) setupLayout() {
	roomFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage("rooms", a.roomList, true, true)
	a.pages.AddPage("room", roomFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		currentPage, _ := a.pages.GetFrontPage()

		if event.Key() == tcell.KeyEscape && currentPage == "room" {
			a.pages.SwitchToPage("rooms")
			a.app.SetFocus(a.roomList)
			a.core.SetActiveRoom("")
			return nil
		}

		// Let text input widgets handle all keys normally.
		focused := a.app.GetFocus()
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		// 'i' focuses the composer (only when not already in an input field).
		if currentPage == "room" && event.Key() == tcell.KeyRune && event.Rune() == 'i' {
			a.app.SetFocus(a.composer.InputField)
			return nil
		}

		if a.registry.HandleEvent(currentPage, event) {
			return nil
		}

		return event
	})
}

func (a *App) openRoom(roomID string) {
	a.core.SetActiveRoom(roomID)
	a.msgView.SetRoomName(a.roomList.RoomName(roomID))

	// Render the cached page immediately, then seed from the backend.
	if cached, err := a.core.CachedMessages(roomID, 50); err == nil && len(cached) > 0 {
		msgs := make([]*store.Message, len(cached))
		// Cached pages come newest first.
		for i := range cached {
			msgs[len(cached)-1-i] = &cached[i]
		}
		a.msgView.Update(msgs)
	}
	a.pages.SwitchToPage("room")
	a.app.SetFocus(a.msgView)

	go func() {
		if err := a.core.RequestSubscribe(a.ctx, roomID); err != nil {
			a.flash.Set("Load failed: "+err.Error(), 5*time.Second)
			a.redrawStatus()
		}
	}()
}

func (a *App) send(text string) {
	roomID := a.activeRoom()
	if roomID == "" {
		return
	}
	if _, err := a.core.RequestSendMessage(a.ctx, roomID, text); err != nil {
		a.flash.Set("Send failed: "+err.Error(), 5*time.Second)
		a.redrawStatus()
	}
}

func (a *App) loadOlder() {
	roomID := a.activeRoom()
	if roomID == "" {
		return
	}
	go func() {
		if err := a.core.RequestLoadOlder(a.ctx, roomID); err != nil {
			a.flash.Set("Load older failed: "+err.Error(), 5*time.Second)
			a.redrawStatus()
		}
	}()
}

func (a *App) reconnect() {
	go func() {
		_, err := a.core.RequestConnect(a.ctx)
		switch {
		case errors.Is(err, realtime.ErrAuthRequired):
			a.flash.Set("Sign in on the portal first: token missing or expired", 8*time.Second)
		case errors.Is(err, realtime.ErrCircuitOpen):
			a.flash.Set("Too many failed attempts, retrying later", 5*time.Second)
		case err != nil:
			a.flash.Set("Connect failed: "+err.Error(), 5*time.Second)
		}
		a.redrawStatus()
	}()
}

func (a *App) loadRooms() {
	rooms, err := a.core.Rooms(a.ctx)
	if err != nil {
		a.flash.Set("Room list failed: "+err.Error(), 5*time.Second)
		a.redrawStatus()
		return
	}
	a.app.QueueUpdateDraw(func() {
		a.roomList.Update(rooms)
	})
}

func (a *App) activeRoom() string {
	return a.core.ActiveRoom()
}

func (a *App) redrawStatus() {
	a.app.QueueUpdateDraw(func() {
		a.statusBar.SetFlash(a.flash.Get())
	})
}

// Run starts the TUI application.
func (a *App) Run() error {
	go a.loadRooms()
	go a.consumeEvents()

	return a.app.Run()
}

// consumeEvents drives rendering from the core's event bus: reconciled
// snapshots repaint the active room, connection changes repaint the
// status bar, unread changes repaint the room list.
func (a *App) consumeEvents() {
	roomCh, unsubRoom := a.core.Subscribe("room.", 128)
	connCh, unsubConn := a.core.Subscribe("conn.", 16)
	sendCh, unsubSend := a.core.Subscribe("send.", 16)
	defer unsubRoom()
	defer unsubConn()
	defer unsubSend()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt := <-roomCh:
			a.handleRoomEvent(evt)
		case <-connCh:
			a.app.QueueUpdateDraw(func() {
				a.statusBar.SetSignal(string(a.core.Status()))
			})
		case evt := <-sendCh:
			if evt.Kind == bus.KindSendFailed {
				a.flash.Set("Send failed", 5*time.Second)
				a.redrawStatus()
			}
		case <-ticker.C:
			// Clock and flash expiry.
			a.redrawStatus()
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) handleRoomEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindRoomSnapshot:
		if evt.Room != a.activeRoom() {
			return
		}
		snap := a.core.Messages(evt.Room)
		a.app.QueueUpdateDraw(func() {
			a.msgView.Update(snap.Messages)
		})
	case bus.KindRoomUnread:
		count, ok := evt.Payload.(int)
		if !ok {
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.roomList.SetUnread(evt.Room, count)
		})
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
