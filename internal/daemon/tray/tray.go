package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/opstray-io/opstray/pkg/logging"
)

const (
	maxOpSlots    = 10
	maxAlertSlots = 5
	maxBackends   = 4
)

var (
	state   DaemonState
	onStart func()
	onExit  func()

	backendItems [maxBackends]*systray.MenuItem

	// Pre-allocated operation menu slots. systray cannot remove items, so a
	// fixed pool is shown/hidden as operations come and go.
	opSlots   [maxOpSlots]*systray.MenuItem
	opCancel  [maxOpSlots]*systray.MenuItem
	noOpsItem *systray.MenuItem

	alertSlots   [maxAlertSlots]*systray.MenuItem
	noAlertsItem *systray.MenuItem

	refreshItem *systray.MenuItem
	quitItem    *systray.MenuItem

	// Maps slot index -> operation ID for cancel actions
	slotMu  sync.RWMutex
	slotOps [maxOpSlots]string

	alertMu     sync.Mutex
	alertTitles []string
)

// Run starts the system tray. This blocks the calling goroutine (must be
// main; Cocoa requires the tray loop there). onStartFn runs once the tray is
// ready; onExitFn runs when it quits.
func Run(s DaemonState, onStartFn, onExitFn func()) {
	state = s
	onStart = onStartFn
	onExit = onExitFn
	systray.Run(onReady, onQuit)
}

// Quit signals the tray to exit.
func Quit() {
	systray.Quit()
}

func onReady() {
	systray.SetTemplateIcon(iconData, iconData)
	systray.SetTooltip("opstray")

	header := systray.AddMenuItem("opstray", "")
	header.Disable()

	systray.AddSeparator()

	for i := 0; i < maxBackends; i++ {
		backendItems[i] = systray.AddMenuItem("", "")
		backendItems[i].Disable()
		backendItems[i].Hide()
	}

	systray.AddSeparator()

	for i := 0; i < maxOpSlots; i++ {
		opSlots[i] = systray.AddMenuItem("", "")
		opCancel[i] = opSlots[i].AddSubMenuItem("Cancel", "")
		opSlots[i].Hide()
	}
	noOpsItem = systray.AddMenuItem("No running operations", "")
	noOpsItem.Disable()

	systray.AddSeparator()

	for i := 0; i < maxAlertSlots; i++ {
		alertSlots[i] = systray.AddMenuItem("", "")
		alertSlots[i].Disable()
		alertSlots[i].Hide()
	}
	noAlertsItem = systray.AddMenuItem("No recent alerts", "")
	noAlertsItem.Disable()

	systray.AddSeparator()

	refreshItem = systray.AddMenuItem("Refresh", "Reload all cached listings")
	quitItem = systray.AddMenuItem("Quit", "Shut down opstray")

	if onStart != nil {
		onStart()
	}
	if state != nil {
		UpdateBackends(state.Backends())
	}

	go handleClicks()
}

func onQuit() {
	if onExit != nil {
		onExit()
	}
}

func handleClicks() {
	for {
		select {
		case <-refreshItem.ClickedCh:
			if state != nil {
				go state.RefreshAll()
			}

		case <-quitItem.ClickedCh:
			if state != nil {
				state.RequestShutdown()
			}

		case <-opCancel[0].ClickedCh:
			cancelOpAtSlot(0)
		case <-opCancel[1].ClickedCh:
			cancelOpAtSlot(1)
		case <-opCancel[2].ClickedCh:
			cancelOpAtSlot(2)
		case <-opCancel[3].ClickedCh:
			cancelOpAtSlot(3)
		case <-opCancel[4].ClickedCh:
			cancelOpAtSlot(4)
		case <-opCancel[5].ClickedCh:
			cancelOpAtSlot(5)
		case <-opCancel[6].ClickedCh:
			cancelOpAtSlot(6)
		case <-opCancel[7].ClickedCh:
			cancelOpAtSlot(7)
		case <-opCancel[8].ClickedCh:
			cancelOpAtSlot(8)
		case <-opCancel[9].ClickedCh:
			cancelOpAtSlot(9)
		}
	}
}

func cancelOpAtSlot(slot int) {
	slotMu.RLock()
	id := slotOps[slot]
	slotMu.RUnlock()

	if id == "" || state == nil {
		return
	}
	logging.Info("Tray", "cancel requested for operation %s (slot %d)", id, slot)
	go state.CancelOperation(id)
}

// UpdateOperations refreshes the operation slots and tooltip.
func UpdateOperations(ops []OperationInfo) {
	slotMu.Lock()
	for i := 0; i < maxOpSlots; i++ {
		slotOps[i] = ""
	}
	for i, op := range ops {
		if i >= maxOpSlots {
			break
		}
		slotOps[i] = op.ID
	}
	slotMu.Unlock()

	for i := 0; i < maxOpSlots; i++ {
		opSlots[i].Hide()
	}

	if len(ops) == 0 {
		noOpsItem.Show()
	} else {
		noOpsItem.Hide()
		for i, op := range ops {
			if i >= maxOpSlots {
				break
			}
			title := fmt.Sprintf("● %s (%s)", op.Name, op.Runtime)
			if op.Description != "" {
				title = fmt.Sprintf("● %s: %s (%s)", op.Name, op.Description, op.Runtime)
			}
			opSlots[i].SetTitle(title)
			opSlots[i].Show()
		}
	}

	systray.SetTooltip(fmt.Sprintf("opstray — %d running", len(ops)))
}

// UpdateBackends refreshes the health section.
func UpdateBackends(backends []BackendInfo) {
	for i := 0; i < maxBackends; i++ {
		backendItems[i].Hide()
	}
	for i, b := range backends {
		if i >= maxBackends {
			break
		}
		marker := "○"
		switch {
		case !b.Enabled:
			marker = "–"
		case b.Healthy:
			marker = "●"
		}
		title := fmt.Sprintf("%s %s", marker, b.Name)
		if b.Detail != "" {
			title += " — " + b.Detail
		}
		backendItems[i].SetTitle(title)
		backendItems[i].Show()
	}
}

// PushAlert adds an alert line to the recent-alerts section, newest first.
func PushAlert(text string) {
	alertMu.Lock()
	alertTitles = append([]string{text}, alertTitles...)
	if len(alertTitles) > maxAlertSlots {
		alertTitles = alertTitles[:maxAlertSlots]
	}
	titles := append([]string(nil), alertTitles...)
	alertMu.Unlock()

	noAlertsItem.Hide()
	for i := 0; i < maxAlertSlots; i++ {
		if i < len(titles) {
			alertSlots[i].SetTitle(titles[i])
			alertSlots[i].Show()
		} else {
			alertSlots[i].Hide()
		}
	}
}
