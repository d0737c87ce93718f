// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Petrolink

// Package controller implements the forecourt transaction state machine.
//
// One Controller owns one Session and is driven from a single control loop:
// Tick runs the current state's polling behavior (talking to the pump through
// the Link), HandleKey applies operator keypad events. Both entry points
// mutate the session and nothing else does, so there is no locking anywhere
// in the core.
package controller

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kataras/golog"

	"github.com/petrolink/forecourt/pkg/gaskit"
	"github.com/petrolink/forecourt/pkg/nvram"
)

// PriceMax bounds the unit price in minor currency units.
const PriceMax = 99999

// Link is the half-duplex pump transport the state machine drives.
// *pump.Transport satisfies it.
type Link interface {
	SendStatus() error
	SendStartTransaction(mode gaskit.FuelMode, volume, amount uint32, price uint32) error
	SendTransactionUpdate() error
	SendNozzleOff() error
	SendLitersMonitor() error
	SendRevenueMonitor() error
	SendTotalCounter() error
	SendPause() error
	SendResume() error
	WaitForResponse(buf []byte, expectedLength int, expectedCommand byte) int
}

// Display renders operator-facing text. Text may contain line breaks; the
// implementation owns wrapping and layout.
type Display interface {
	DisplayMessage(text string) bool
}

// Store is the non-volatile checkpoint store. *nvram.Store satisfies it.
type Store interface {
	ReadPrice() (uint32, error)
	WritePrice(price uint32) error
	SaveTransaction(rec nvram.Record) error
	RestoreTransaction() (nvram.Record, bool, error)
}

// Config carries the state machine timing constants so tests can shrink them.
type Config struct {
	ResponseTimeout    time.Duration // error re-poll and total-counter cadence
	DelayAfterResponse time.Duration // minimum spacing between exchanges
	EditTimeout        time.Duration // price edit inactivity
	ViewTimeout        time.Duration // price view auto-return
	TransitionTimeout  time.Duration // settle time after a price change
	NozzleUpGrace      time.Duration // nozzle-up tolerance before Error
	PausedDeadline     time.Duration // hard cap on a paused delivery
	KeyDebounce        time.Duration
	MaxErrors          int // consecutive failures before Error
	EndRetryLimit      int // transaction-update attempts at delivery end
}

// DefaultConfig returns the production timing constants.
func DefaultConfig() Config {
	return Config{
		ResponseTimeout:    3000 * time.Millisecond,
		DelayAfterResponse: 3 * time.Millisecond,
		EditTimeout:        10 * time.Second,
		ViewTimeout:        10 * time.Second,
		TransitionTimeout:  2 * time.Second,
		NozzleUpGrace:      60 * time.Second,
		PausedDeadline:     30 * time.Second,
		KeyDebounce:        200 * time.Millisecond,
		MaxErrors:          5,
		EndRetryLimit:      5,
	}
}

// Controller is the transaction state machine.
type Controller struct {
	cfg     Config
	link    Link
	display Display
	store   Store

	now func() time.Time

	s    Session
	resp [32]byte
}

// New creates a controller. Call Start before the first Tick.
func New(cfg Config, link Link, display Display, store Store) *Controller {
	return &Controller{
		cfg:     cfg,
		link:    link,
		display: display,
		store:   store,
		now:     time.Now,
	}
}

// Session returns a snapshot of the current session.
func (c *Controller) Session() Session {
	return c.s
}

// State returns the current state.
func (c *Controller) State() State {
	return c.s.State
}

// Start initializes the session: reads the stored price, restores a pending
// delivery checkpoint if one exists, and issues the first poll.
func (c *Controller) Start() {
	if err := c.link.SendNozzleOff(); err != nil {
		golog.Debugf("controller: startup nozzle-off: %v", err)
	}

	price, err := c.store.ReadPrice()
	if err != nil {
		golog.Errorf("controller: price restore failed: %v", err)
	}
	now := c.now()
	c.s = Session{
		FuelMode:            gaskit.FuelByVolume,
		UnitPrice:           price,
		PriceValid:          price > 0 && price <= PriceMax,
		StatusPollingActive: true,
		StateEntryTime:      now,
	}

	rec, ok, err := c.store.RestoreTransaction()
	if err != nil {
		golog.Errorf("controller: checkpoint restore failed: %v", err)
		ok = false
	}
	if ok && rec.State <= uint8(StateConfirmTransaction) {
		c.s.CurrentLitersDL = rec.Liters
		c.s.CurrentPriceTotal = rec.PriceTotal
		c.s.State = State(rec.State)
		c.s.FuelMode = gaskit.FuelMode(rec.FuelMode)
		c.s.ModeSelected = rec.ModeSelected
		if c.s.State == StateTransaction || c.s.State == StateTransactionPaused {
			c.s.TransactionStarted = true
			c.s.MonitorActive = true
			c.s.MonitorState = 1
			c.displayTransaction(c.s.CurrentLitersDL, c.s.CurrentPriceTotal, "Restoring trans...")
			golog.Debugf("controller: resuming delivery from checkpoint (%s)", c.s.State)
		} else {
			c.enterColdStart()
		}
	} else {
		c.enterColdStart()
	}

	if c.s.State == StateCheckStatus {
		if err := c.link.SendStatus(); err == nil {
			c.s.WaitingForResponse = true
		}
	}
}

func (c *Controller) enterColdStart() {
	if c.s.PriceValid {
		c.s.State = StateCheckStatus
		c.displayIdleScreen()
	} else {
		c.s.State = StateWaitForPriceInput
		c.display.DisplayMessage("Set price (0-99999)")
	}
}

// Tick runs one polling step of the current state. It may block for up to the
// transport's response timeout while a reply is outstanding.
func (c *Controller) Tick() {
	switch c.s.State {
	case StateCheckStatus:
		c.tickCheckStatus()
	case StateError:
		c.tickError()
	case StateIdle:
		c.tickIdle()
	case StateWaitForPriceInput, StateConfirmTransaction:
		// Key-driven only.
	case StateViewPrice:
		c.tickTimedReturn(c.cfg.ViewTimeout)
	case StateEditPrice:
		c.tickTimedReturn(c.cfg.EditTimeout)
	case StateTransitionPriceSet:
		c.tickTransition(StateCheckStatus)
	case StateTransitionEditPrice:
		c.tickTransition(StateIdle)
	case StateTransaction:
		c.tickTransaction()
	case StateTransactionPaused:
		c.tickTransactionPaused()
	case StateTransactionEnd:
		c.tickTransactionEnd()
	case StateTotalCounter:
		c.tickTotalCounter()
	}
}

// ---- helpers -------------------------------------------------------------

// paceExchanges enforces the minimum spacing between pump exchanges. It
// reports false when the state handler should skip this tick.
func (c *Controller) paceExchanges() bool {
	now := c.now()
	if now.Sub(c.s.LastResponseTime) < c.cfg.DelayAfterResponse {
		return false
	}
	c.s.LastResponseTime = now
	return true
}

func (c *Controller) enterState(st State) {
	c.s.State = st
	c.s.StateEntryTime = c.now()
}

// noteResponse consumes a reply length: a full reply clears the failure
// counter, anything else counts against it and escalates to Error at the
// configured maximum.
func (c *Controller) noteResponse(n, expected int) bool {
	c.s.WaitingForResponse = false
	if n >= expected {
		c.s.ErrorCount = 0
		return true
	}
	c.countError()
	return false
}

func (c *Controller) countError() {
	c.s.ErrorCount++
	if c.s.ErrorCount >= c.cfg.MaxErrors {
		c.enterState(StateError)
		c.display.DisplayMessage("Pump Error")
		golog.Errorf("controller: %d consecutive failures, entering Error", c.s.ErrorCount)
	}
}

func formatLiters(dl uint32) string {
	return fmt.Sprintf("%d.%02d", dl/100, dl%100)
}

func (c *Controller) displayFuelMode() {
	c.display.DisplayMessage("Mode: " + c.s.FuelMode.String())
}

// displayIdleScreen shows the selected mode, or the selection prompt when the
// operator has not chosen one this cycle.
func (c *Controller) displayIdleScreen() {
	if c.s.ModeSelected {
		c.displayFuelMode()
	} else {
		c.display.DisplayMessage("Please select mode")
	}
}

func (c *Controller) displayTransaction(liters, total uint32, status string) {
	if c.s.PriceScaled() {
		total *= 10
	}
	c.display.DisplayMessage(fmt.Sprintf("%s\nL: %s\nP: %d", status, formatLiters(liters), total))
}

func (c *Controller) saveCheckpoint(liters, total uint32) {
	rec := nvram.Record{
		Liters:       liters,
		PriceTotal:   total,
		State:        uint8(c.s.State),
		FuelMode:     uint8(c.s.FuelMode),
		ModeSelected: c.s.ModeSelected,
	}
	if err := c.store.SaveTransaction(rec); err != nil {
		golog.Errorf("controller: checkpoint write failed: %v", err)
	}
}

// enterTransactionEnd requests final totals and checkpoints.
func (c *Controller) enterTransactionEnd(liters, total uint32) {
	c.s.FinalLitersDL = liters
	c.s.FinalPriceTotal = total
	if err := c.link.SendTransactionUpdate(); err == nil {
		c.s.WaitingForResponse = true
	}
	c.enterState(StateTransactionEnd)
	c.s.EndRetryCount = 0
	c.s.EndDataReceived = false
	c.saveCheckpoint(liters, total)
}

// ---- per-state tick handlers ---------------------------------------------

func (c *Controller) tickCheckStatus() {
	if !c.paceExchanges() {
		return
	}
	if !c.s.WaitingForResponse {
		if err := c.link.SendStatus(); err == nil {
			c.s.WaitingForResponse = true
		}
		return
	}

	n := c.link.WaitForResponse(c.resp[:], gaskit.StatusReplyLen, gaskit.CmdStatus)
	if !c.noteResponse(n, gaskit.StatusReplyLen) {
		return
	}
	now := c.now()
	switch gaskit.StatusCode(c.resp[:]) {
	case gaskit.StatusNozzleBack:
		c.sendNozzleOffAndWait()
		c.s.NozzleUpStartedAt = time.Time{}
	case gaskit.StatusIdle:
		c.enterState(StateIdle)
		c.s.NozzleUpWarning = false
		c.s.NozzleUpStartedAt = time.Time{}
		c.displayIdleScreen()
	case gaskit.StatusNozzleUp:
		c.handleNozzleUp(now)
	case gaskit.StatusPaused:
		c.enterState(StateTransactionPaused)
		c.s.MonitorActive = true
		c.s.MonitorState = 0
		c.displayTransaction(c.s.CurrentLitersDL, c.s.CurrentPriceTotal, "Paused")
		c.saveCheckpoint(c.s.CurrentLitersDL, c.s.CurrentPriceTotal)
	case gaskit.StatusSlowdown:
		// A delivery is still running out there; fall back into it.
		c.enterState(StateTransaction)
		c.s.MonitorActive = true
		c.s.MonitorState = 1
		c.s.TransactionStarted = true
		if err := c.link.SendLitersMonitor(); err == nil {
			c.s.WaitingForResponse = true
		}
		c.displayTransaction(c.s.CurrentLitersDL, c.s.CurrentPriceTotal, "Restoring trans...")
	default:
		c.countError()
	}
}

func (c *Controller) sendNozzleOffAndWait() {
	if err := c.link.SendNozzleOff(); err == nil {
		c.s.WaitingForResponse = true
	}
}

// handleNozzleUp re-acknowledges a lifted nozzle and escalates to Error once
// it has stayed up past the grace window.
func (c *Controller) handleNozzleUp(now time.Time) {
	c.sendNozzleOffAndWait()
	c.s.NozzleUpWarning = true
	if c.s.NozzleUpStartedAt.IsZero() {
		c.s.NozzleUpStartedAt = now
	}
	if now.Sub(c.s.NozzleUpStartedAt) > c.cfg.NozzleUpGrace {
		c.enterState(StateError)
		c.display.DisplayMessage("Nozzle up long! Check")
	} else {
		c.display.DisplayMessage("Nozzle up! Hang up")
	}
}

func (c *Controller) tickError() {
	if !c.paceExchanges() {
		return
	}
	now := c.now()
	if now.Sub(c.s.StateEntryTime) >= c.cfg.ResponseTimeout {
		if err := c.link.SendStatus(); err == nil {
			c.s.WaitingForResponse = true
		}
		c.s.StateEntryTime = now
		c.display.DisplayMessage("Pump offline! Check")
	}
	if !c.s.WaitingForResponse {
		return
	}
	n := c.link.WaitForResponse(c.resp[:], gaskit.StatusReplyLen, gaskit.CmdStatus)
	if !c.noteResponse(n, gaskit.StatusReplyLen) {
		return
	}
	switch gaskit.StatusCode(c.resp[:]) {
	case gaskit.StatusNozzleBack:
		c.sendNozzleOffAndWait()
	case gaskit.StatusIdle:
		c.enterState(StateIdle)
		c.s.NozzleUpWarning = false
		c.s.TransactionStarted = false
		c.s.MonitorActive = false
		c.s.MonitorState = 0
		c.s.WaitingForResponse = false
		c.displayIdleScreen()
	case gaskit.StatusNozzleUp:
		c.sendNozzleOffAndWait()
		c.s.NozzleUpWarning = true
		c.display.DisplayMessage("Nozzle up! Hang up")
	case gaskit.StatusPaused:
		c.enterState(StateTransactionPaused)
		c.s.MonitorActive = true
		c.s.MonitorState = 0
		c.displayTransaction(c.s.CurrentLitersDL, c.s.CurrentPriceTotal, "Paused")
		c.saveCheckpoint(c.s.CurrentLitersDL, c.s.CurrentPriceTotal)
	default:
		// Any other coherent reply: communication is back, re-assess.
		c.enterState(StateCheckStatus)
		c.s.WaitingForResponse = false
	}
}

func (c *Controller) tickIdle() {
	if !c.paceExchanges() {
		return
	}
	if c.s.SkipFirstStatusCheck {
		c.s.SkipFirstStatusCheck = false
		c.s.TransactionStarted = false
		c.s.MonitorActive = false
		c.s.MonitorState = 0
		c.s.WaitingForResponse = false
		c.displayIdleScreen()
		return
	}
	if c.s.StatusPollingActive && !c.s.WaitingForResponse {
		if err := c.link.SendStatus(); err == nil {
			c.s.WaitingForResponse = true
		}
		return
	}
	if !c.s.WaitingForResponse {
		return
	}
	n := c.link.WaitForResponse(c.resp[:], gaskit.StatusReplyLen, gaskit.CmdStatus)
	if !c.noteResponse(n, gaskit.StatusReplyLen) {
		return
	}
	now := c.now()
	switch gaskit.StatusCode(c.resp[:]) {
	case gaskit.StatusNozzleBack:
		c.sendNozzleOffAndWait()
		c.s.NozzleUpStartedAt = time.Time{}
	case gaskit.StatusIdle:
		c.s.NozzleUpWarning = false
		c.s.NozzleUpStartedAt = time.Time{}
		c.displayIdleScreen()
	case gaskit.StatusNozzleUp:
		c.handleNozzleUp(now)
	default:
		c.countError()
	}
}

// tickTimedReturn drops back to Idle after a period of operator inactivity
// (price view and price edit share the shape, not the period).
func (c *Controller) tickTimedReturn(timeout time.Duration) {
	if c.now().Sub(c.s.StateEntryTime) < timeout {
		return
	}
	c.enterState(StateIdle)
	if !c.s.NozzleUpWarning {
		c.displayIdleScreen()
	}
}

// tickTransition leaves a settle state once the pump has had time to absorb
// a price change.
func (c *Controller) tickTransition(next State) {
	if c.now().Sub(c.s.StateEntryTime) < c.cfg.TransitionTimeout {
		return
	}
	c.s.WaitingForResponse = false
	c.enterState(next)
	if next == StateIdle && !c.s.NozzleUpWarning {
		c.displayIdleScreen()
	}
}

func (c *Controller) tickTransaction() {
	if !c.paceExchanges() {
		return
	}
	if !c.s.WaitingForResponse {
		if c.s.TransactionStarted && c.s.MonitorActive {
			var err error
			switch c.s.MonitorState {
			case 0:
				err = c.link.SendStatus()
			case 1:
				err = c.link.SendLitersMonitor()
			case 2:
				err = c.link.SendRevenueMonitor()
			}
			if err == nil {
				c.s.WaitingForResponse = true
			}
		} else {
			if err := c.link.SendStatus(); err == nil {
				c.s.WaitingForResponse = true
			}
		}
		return
	}

	expectedLength := gaskit.StatusReplyLen
	expectedCommand := byte(gaskit.CmdStatus)
	if c.s.MonitorActive && c.s.MonitorState != 0 {
		expectedLength = gaskit.MonitorReplyLen
		if c.s.MonitorState == 1 {
			expectedCommand = gaskit.CmdLitersMonitor
		} else {
			expectedCommand = gaskit.CmdRevenueMonitor
		}
	}
	n := c.link.WaitForResponse(c.resp[:], expectedLength, expectedCommand)
	// Monitor replies are longer, but anything status-sized counts as alive.
	if !c.noteResponse(n, gaskit.StatusReplyLen) {
		return
	}

	code := gaskit.StatusCode(c.resp[:])
	if !c.s.TransactionStarted && (code == gaskit.StatusIdle || code == gaskit.StatusNozzleUp) {
		c.startDelivery()
		return
	}
	if c.s.MonitorState == 0 {
		c.dispatchTransactionStatus(code)
		return
	}
	if c.s.MonitorActive {
		c.consumeMonitorReply(n)
	}
}

// startDelivery issues the start command once the pump reports ready.
func (c *Controller) startDelivery() {
	err := c.link.SendStartTransaction(c.s.FuelMode, c.s.TransactionVolume, c.s.TransactionAmount, c.s.WirePrice())
	if err != nil {
		golog.Errorf("controller: start refused: %v", err)
		return
	}
	c.s.WaitingForResponse = true
	c.s.TransactionStarted = true
	c.s.CurrentLitersDL = 0
	c.s.CurrentPriceTotal = 0
	c.s.ErrorCount = 0
	c.displayTransaction(0, 0, "Dispensing...")
	golog.Debugf("controller: transaction started (mode=%s volume=%d amount=%d)",
		c.s.FuelMode, c.s.TransactionVolume, c.s.TransactionAmount)
}

// dispatchTransactionStatus routes an in-transaction status code through the
// dispatch table.
func (c *Controller) dispatchTransactionStatus(code string) {
	action, ok := lookupStatus(code)
	if !ok {
		return
	}
	c.enterState(action.next)
	if action.resetErrors {
		c.s.ErrorCount = 0
	}
	if action.warning != "" {
		c.display.DisplayMessage(action.warning)
	}
	switch action.next {
	case StateTransactionEnd:
		if err := c.link.SendTransactionUpdate(); err == nil {
			c.s.WaitingForResponse = true
		}
		c.s.EndRetryCount = 0
		c.s.EndDataReceived = false
		if code == gaskit.StatusNozzleBack {
			c.link.SendNozzleOff()
		}
		c.displayTransaction(c.s.CurrentLitersDL, c.s.CurrentPriceTotal, "Trans stopped")
		c.saveCheckpoint(c.s.CurrentLitersDL, c.s.CurrentPriceTotal)
	case StateTransactionPaused:
		c.displayTransaction(c.s.CurrentLitersDL, c.s.CurrentPriceTotal, "Paused")
		c.saveCheckpoint(c.s.CurrentLitersDL, c.s.CurrentPriceTotal)
	case StateTransaction:
		if code == gaskit.StatusSlowdown {
			c.s.MonitorActive = true
			c.s.MonitorState = 1
			if err := c.link.SendLitersMonitor(); err == nil {
				c.s.WaitingForResponse = true
			}
		}
	}
}

// consumeMonitorReply parses a liters or revenue poll. A reply with non-digit
// content keeps the previous value.
func (c *Controller) consumeMonitorReply(n int) {
	switch {
	case c.s.MonitorState == 1 && c.resp[3] == gaskit.CmdLitersMonitor && c.resp[4] == '1':
		if n >= gaskit.MonitorReplyLen-1 {
			if v, ok := gaskit.ParseDecimalField(c.resp[:n], gaskit.MonitorValueOffset, gaskit.MonitorValueWidth); ok {
				c.s.CurrentLitersDL = v
			}
			c.displayTransaction(c.s.CurrentLitersDL, c.s.CurrentPriceTotal, "Dispensing...")
		}
		c.s.MonitorState = 2
	case c.s.MonitorState == 2 && c.resp[3] == gaskit.CmdRevenueMonitor && c.resp[4] == '1':
		if n >= gaskit.MonitorReplyLen-1 {
			if v, ok := gaskit.ParseDecimalField(c.resp[:n], gaskit.MonitorValueOffset, gaskit.MonitorValueWidth); ok {
				c.s.CurrentPriceTotal = v
			}
			c.displayTransaction(c.s.CurrentLitersDL, c.s.CurrentPriceTotal, "Dispensing...")
		}
		c.s.MonitorState = 0
	}
}

func (c *Controller) tickTransactionPaused() {
	if !c.paceExchanges() {
		return
	}
	now := c.now()
	if now.Sub(c.s.StateEntryTime) > c.cfg.PausedDeadline {
		c.display.DisplayMessage("Nozzle back! Trans end")
		c.enterTransactionEnd(c.s.CurrentLitersDL, c.s.CurrentPriceTotal)
		return
	}
	if !c.s.WaitingForResponse {
		if err := c.link.SendStatus(); err == nil {
			c.s.WaitingForResponse = true
		}
		return
	}
	n := c.link.WaitForResponse(c.resp[:], gaskit.StatusReplyLen, gaskit.CmdStatus)
	if !c.noteResponse(n, gaskit.StatusReplyLen) {
		return
	}
	code := gaskit.StatusCode(c.resp[:])
	switch {
	case code == gaskit.StatusNozzleBack:
		c.enterTransactionEnd(c.s.CurrentLitersDL, c.s.CurrentPriceTotal)
	case code != gaskit.StatusPaused:
		// Anything but "still paused" means delivery is moving again.
		c.s.MonitorActive = true
		c.s.MonitorState = 0
		c.enterState(StateTransaction)
		c.displayTransaction(c.s.CurrentLitersDL, c.s.CurrentPriceTotal, "Dispensing...")
	}
}

func (c *Controller) tickTransactionEnd() {
	if !c.paceExchanges() {
		return
	}
	if !c.s.WaitingForResponse && !c.s.EndDataReceived && c.s.EndRetryCount < c.cfg.EndRetryLimit {
		if err := c.link.SendTransactionUpdate(); err == nil {
			c.s.WaitingForResponse = true
		}
		c.s.EndRetryCount++
		golog.Debugf("controller: requesting final totals, attempt %d", c.s.EndRetryCount)
		return
	}
	if !c.s.WaitingForResponse {
		return
	}

	n := c.link.WaitForResponse(c.resp[:], gaskit.TransactionEndReplyLen, gaskit.CmdTransactionUpdate)
	if n < 18 {
		c.s.WaitingForResponse = false
		c.s.ErrorCount++
		c.s.EndRetryCount++
		if c.s.EndRetryCount >= c.cfg.EndRetryLimit {
			c.enterState(StateError)
			c.display.DisplayMessage("Trans error! Check pump")
			golog.Errorf("controller: no usable final totals after %d attempts", c.s.EndRetryCount)
		}
		return
	}

	c.s.WaitingForResponse = false
	c.s.ErrorCount = 0
	if c.resp[3] != gaskit.CmdTransactionUpdate || c.resp[4] != '1' {
		return
	}
	offset := gaskit.EndFieldOffset
	if c.resp[gaskit.EndFlagOffset] == 'u' {
		offset = gaskit.EndFieldOffsetAlt
	}
	price, okPrice := gaskit.ParseDecimalField(c.resp[:n], offset, gaskit.EndFieldWidth)
	liters, okLiters := gaskit.ParseDecimalField(c.resp[:n], offset+gaskit.EndFieldWidth+1, gaskit.EndFieldWidth)
	if okPrice && okLiters {
		c.s.FinalLitersDL = liters
		c.s.FinalPriceTotal = price
	} else {
		golog.Errorf("controller: unparsable final totals, keeping last values")
	}
	c.displayTransaction(c.s.FinalLitersDL, c.s.FinalPriceTotal, "Filling end")
	c.link.SendNozzleOff()
	c.s.EndDataReceived = true
	c.s.EndRetryCount = 0
	c.saveCheckpoint(c.s.FinalLitersDL, c.s.FinalPriceTotal)
	golog.Debugf("controller: transaction end, liters=%d total=%d", c.s.FinalLitersDL, c.s.FinalPriceTotal)
}

func (c *Controller) tickTotalCounter() {
	if !c.paceExchanges() {
		return
	}
	now := c.now()
	if !c.s.WaitingForResponse && c.s.C0RetryCount < c.cfg.MaxErrors &&
		now.Sub(c.s.LastC0SendTime) >= c.cfg.ResponseTimeout {
		if err := c.link.SendTotalCounter(); err == nil {
			c.s.WaitingForResponse = true
		}
		c.s.LastC0SendTime = now
		c.s.C0RetryCount++
		return
	}
	if !c.s.WaitingForResponse {
		return
	}
	n := c.link.WaitForResponse(c.resp[:], gaskit.TotalCounterReplyLen, gaskit.CmdTotalCounter)
	if !c.noteResponse(n, gaskit.TotalCounterReplyLen) {
		return
	}
	if c.resp[3] == gaskit.CmdTotalCounter && c.resp[4] == '1' {
		if v, ok := gaskit.ParseDecimalField(c.resp[:n], gaskit.TotalCounterOffset, gaskit.TotalCounterWidth); ok {
			// The lifetime counter is milliliter-scaled.
			c.display.DisplayMessage("TOTAL:\n" + formatLiters(v/10))
		} else {
			c.display.DisplayMessage("TOTAL:\nError")
		}
		c.s.WaitingForResponse = false
		c.s.C0RetryCount = c.cfg.MaxErrors
	} else if c.s.C0RetryCount >= c.cfg.MaxErrors {
		c.display.DisplayMessage("TOTAL:\nError")
	}
}

// ---- key handling --------------------------------------------------------

func isDigit(key byte) bool { return key >= '0' && key <= '9' }

// HandleKey applies one operator keypad event. Repeats faster than the
// debounce window are dropped with a complaint.
func (c *Controller) HandleKey(key byte) {
	now := c.now()
	if now.Sub(c.s.LastKeyTime) < c.cfg.KeyDebounce {
		c.display.DisplayMessage("Slow down! Wait")
		return
	}
	c.s.LastKeyTime = now
	golog.Debugf("controller: key %q in %s", key, c.s.State)

	switch c.s.State {
	case StateWaitForPriceInput:
		c.keyWaitForPriceInput(key)
	case StateIdle:
		c.keyIdle(key)
	case StateViewPrice:
		c.keyViewPrice(key)
	case StateEditPrice:
		c.keyEditPrice(key)
	case StateTransitionPriceSet:
		c.tickTransition(StateCheckStatus)
	case StateTransitionEditPrice:
		c.tickTransition(StateIdle)
	case StateConfirmTransaction:
		c.keyConfirmTransaction(key)
	case StateTransaction:
		c.keyTransaction(key)
	case StateTransactionPaused:
		c.keyTransactionPaused(key)
	case StateTransactionEnd:
		c.keyTransactionEnd(key)
	case StateTotalCounter:
		c.keyTotalCounter(key)
	}
}

func (c *Controller) appendInput(key byte) bool {
	if len(c.s.PriceInput) >= MaxPriceInput {
		return false
	}
	c.s.PriceInput += string(key)
	return true
}

// keyWaitForPriceInput serves two entry contexts: with no valid stored price
// (cold start) the operator is entering the unit price; with a valid price
// (reached from Idle via K) the operator is entering the delivery target.
func (c *Controller) keyWaitForPriceInput(key byte) {
	now := c.now()
	switch {
	case isDigit(key):
		if c.appendInput(key) {
			if c.s.PriceValid {
				label := "Volume"
				if c.s.FuelMode != gaskit.FuelByVolume {
					label = "Amount"
				}
				c.display.DisplayMessage(fmt.Sprintf("%s: %s", label, c.s.PriceInput))
			} else {
				c.display.DisplayMessage("Price: " + c.s.PriceInput)
			}
		}
		c.s.StateEntryTime = now

	case key == 'E':
		if len(c.s.PriceInput) == 0 {
			if c.s.PriceValid {
				c.enterState(StateIdle)
				if !c.s.NozzleUpWarning {
					c.displayIdleScreen()
				}
			} else {
				c.display.DisplayMessage("Set price (0-99999)")
			}
		} else {
			c.s.PriceInput = ""
			c.display.DisplayMessage("Cleared")
			c.s.StateEntryTime = now
		}

	case key == 'K':
		if len(c.s.PriceInput) == 0 {
			return
		}
		value, _ := strconv.ParseUint(c.s.PriceInput, 10, 32)
		if !c.s.PriceValid {
			c.commitPrice(uint32(value), StateTransitionPriceSet)
			return
		}
		if value == 0 {
			c.display.DisplayMessage("Invalid input!")
			c.s.PriceInput = ""
			c.s.StateEntryTime = now
			return
		}
		if c.s.FuelMode == gaskit.FuelByVolume {
			c.s.TransactionVolume = uint32(value) * 100 // liters in, deciliters here
			c.s.TransactionAmount = 0
		} else {
			c.s.TransactionVolume = 0
			c.s.TransactionAmount = uint32(value)
		}
		c.enterState(StateConfirmTransaction)
		c.s.PriceInput = ""
		c.display.DisplayMessage("Confirm? Press K")
	}
}

// commitPrice validates and persists a newly entered unit price, then parks
// in a settle state while the pump absorbs it.
func (c *Controller) commitPrice(value uint32, next State) {
	if value > 0 && value <= PriceMax {
		c.s.UnitPrice = value
		c.s.PriceValid = true
		if err := c.store.WritePrice(value); err != nil {
			golog.Errorf("controller: price write failed: %v", err)
		}
		c.display.DisplayMessage("Price updated!")
		c.enterState(next)
		c.s.PriceInput = ""
	} else {
		c.display.DisplayMessage("Invalid input!")
		c.s.PriceInput = ""
		c.s.StateEntryTime = c.now()
	}
}

func (c *Controller) keyIdle(key byte) {
	now := c.now()
	switch {
	case c.s.NozzleUpWarning && key == 'K':
		c.display.DisplayMessage("Nozzle up! Hang up")
		c.s.StateEntryTime = now

	case key == 'G':
		c.enterState(StateViewPrice)
		c.display.DisplayMessage(fmt.Sprintf("Price: %d", c.s.UnitPrice))

	case key == 'E':
		c.s.StatusPollingActive = true
		c.s.ModeSelected = false
		if !c.s.NozzleUpWarning {
			c.display.DisplayMessage("Please select mode")
		}
		c.s.StateEntryTime = now

	case key == 'C':
		c.s.FuelMode = c.s.FuelMode.Next()
		c.s.ModeSelected = true
		c.displayFuelMode()
		c.s.StateEntryTime = now

	case key == 'K':
		if c.s.FuelMode == gaskit.FuelByFullTank {
			c.s.TransactionVolume = 0
			c.s.TransactionAmount = gaskit.FullTankAmount
			c.enterState(StateConfirmTransaction)
			c.display.DisplayMessage("Confirm? Press K")
		} else {
			c.s.PriceInput = ""
			c.enterState(StateWaitForPriceInput)
			if c.s.FuelMode == gaskit.FuelByVolume {
				c.display.DisplayMessage("Enter Volume")
			} else {
				c.display.DisplayMessage("Enter Amount")
			}
		}

	case key == 'A':
		c.s.StatusPollingActive = false
		c.enterState(StateTotalCounter)
		c.s.ErrorCount = 0
		c.s.C0RetryCount = 0
		c.s.WaitingForResponse = true
		c.s.LastC0SendTime = now
		c.link.SendTotalCounter()
		c.display.DisplayMessage("TOTAL:\nWaiting...")
	}
}

func (c *Controller) keyViewPrice(key byte) {
	switch key {
	case 'G':
		c.enterState(StateEditPrice)
		c.s.PriceInput = ""
		c.display.DisplayMessage("Editing Price")
	case 'E':
		c.enterState(StateIdle)
		if !c.s.NozzleUpWarning {
			c.displayIdleScreen()
		}
	}
}

func (c *Controller) keyEditPrice(key byte) {
	c.s.StateEntryTime = c.now()
	switch {
	case isDigit(key):
		if c.appendInput(key) {
			c.display.DisplayMessage("New Price: " + c.s.PriceInput)
		}
	case key == 'E':
		c.s.PriceInput = ""
		c.display.DisplayMessage("Price cleared")
	case key == 'K':
		if len(c.s.PriceInput) > 0 {
			value, _ := strconv.ParseUint(c.s.PriceInput, 10, 32)
			c.commitPrice(uint32(value), StateTransitionEditPrice)
		} else {
			c.enterState(StateIdle)
			if !c.s.NozzleUpWarning {
				c.displayIdleScreen()
			}
		}
	}
}

func (c *Controller) keyConfirmTransaction(key byte) {
	switch key {
	case 'K':
		c.enterState(StateTransaction)
		c.display.DisplayMessage("Confirm! UP Nozzle")
		golog.Debugf("controller: transaction confirmed")
	case 'E':
		c.enterState(StateIdle)
		if !c.s.NozzleUpWarning {
			c.displayIdleScreen()
		}
	}
}

func (c *Controller) keyTransaction(key byte) {
	if key != 'E' {
		return
	}
	if !c.s.TransactionStarted {
		// Back out before the pump was ever authorized.
		c.enterState(StateIdle)
		c.resetDeliveryCounters()
		c.link.SendNozzleOff()
		c.s.WaitingForResponse = true
		if !c.s.NozzleUpWarning {
			c.displayIdleScreen()
		}
		return
	}
	c.link.SendPause()
	c.s.WaitingForResponse = true
	c.enterState(StateTransactionPaused)
	c.displayTransaction(c.s.CurrentLitersDL, c.s.CurrentPriceTotal, "Paused")
	c.saveCheckpoint(c.s.CurrentLitersDL, c.s.CurrentPriceTotal)
}

func (c *Controller) keyTransactionPaused(key byte) {
	switch key {
	case 'K':
		c.link.SendResume()
		c.s.WaitingForResponse = true
		c.enterState(StateTransaction)
		c.s.MonitorActive = true
		c.s.MonitorState = 0
		c.displayTransaction(c.s.CurrentLitersDL, c.s.CurrentPriceTotal, "Dispensing...")
	case 'E':
		c.enterTransactionEnd(c.s.CurrentLitersDL, c.s.CurrentPriceTotal)
	}
}

func (c *Controller) keyTransactionEnd(key byte) {
	if key != 'E' {
		return
	}
	c.enterState(StateIdle)
	c.resetDeliveryCounters()
	c.s.SkipFirstStatusCheck = true
	if !c.s.NozzleUpWarning {
		c.displayIdleScreen()
	}
}

func (c *Controller) keyTotalCounter(key byte) {
	if key != 'E' {
		return
	}
	c.enterState(StateIdle)
	c.s.TransactionStarted = false
	c.s.MonitorState = 0
	c.s.MonitorActive = false
	c.s.WaitingForResponse = false
	c.s.ErrorCount = 0
	c.s.C0RetryCount = 0
	if !c.s.NozzleUpWarning {
		c.displayIdleScreen()
	}
}

func (c *Controller) resetDeliveryCounters() {
	c.s.TransactionStarted = false
	c.s.MonitorState = 0
	c.s.MonitorActive = false
	c.s.WaitingForResponse = false
	c.s.CurrentLitersDL = 0
	c.s.CurrentPriceTotal = 0
	c.s.FinalLitersDL = 0
	c.s.FinalPriceTotal = 0
	c.s.ErrorCount = 0
}
