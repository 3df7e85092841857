// Package statusicon models the window system integration of the wallet:
// the tray icon, the dock icon and the Unity launcher entry. Nothing is
// drawn here; the rendered state is pushed to a Sink.
package statusicon

import (
	"fmt"
	"strings"
	"sync"
)

// Style selects how the state is rendered.
type Style int

const (
	// StyleDefault is a plain tray icon whose tooltip and icon follow
	// the network.
	StyleDefault Style = iota

	// StyleDock is a dock icon that follows the network.
	StyleDock

	// StyleUnity is an indicator icon showing connection, attention and
	// error state, plus launcher progress.
	StyleUnity
)

var styleNames = map[Style]string{
	StyleDefault: "default",
	StyleDock:    "dock",
	StyleUnity:   "unity",
}

func (s Style) String() string {
	if name, ok := styleNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Style(%d)", int(s))
}

// ParseStyle returns the style named s.
func ParseStyle(s string) (Style, error) {
	for style, name := range styleNames {
		if strings.EqualFold(s, name) {
			return style, nil
		}
	}
	return 0, fmt.Errorf("unknown status icon style %q", s)
}

// Icon names an icon resource.
type Icon string

const (
	IconToolbar        Icon = "toolbar"
	IconToolbarTestnet Icon = "toolbar_testnet"
	IconBitcoin        Icon = "bitcoin"
	IconBitcoinTestnet Icon = "bitcoin_testnet"

	// Unity indicator icons.
	IconBase       Icon = "indicator-bitcoin"
	IconConnecting Icon = "indicator-bitcoin-connecting"
	IconAttention  Icon = "indicator-bitcoin-attention"
	IconError      Icon = "indicator-bitcoin-error"
)

const (
	toolTip = "Bitcoin client"
	header  = "Bitcoin"
	testnet = "[testnet]"
)

// Launcher message keys.
const (
	ProgressVisibleKey = "progress-visible"
	ProgressKey        = "progress"
)

// Sink receives the rendered state.
type Sink interface {
	SetIcon(icon Icon)
	SetToolTip(tip string)
	SetHeader(text string, icon Icon)
	LauncherMessage(args map[string]interface{})
}

// Snapshot is the current input and rendered state.
type Snapshot struct {
	Style           string  `json:"style"`
	Icon            Icon    `json:"icon"`
	ToolTip         string  `json:"tooltip,omitempty"`
	Header          string  `json:"header,omitempty"`
	HeaderIcon      Icon    `json:"headericon,omitempty"`
	Testnet         bool    `json:"testnet"`
	Attention       bool    `json:"attention"`
	Error           bool    `json:"error"`
	Connections     int     `json:"connections"`
	ProgressVisible bool    `json:"progressvisible"`
	Progress        float64 `json:"progress"`
}

// Integration receives status updates from the host. Each style uses or
// ignores any piece of information as it wishes.
type Integration struct {
	mu    sync.Mutex
	style Style
	sink  Sink
	snap  Snapshot
}

// New returns an integration of style rendering to sink. A nil sink logs.
func New(style Style, sink Sink) *Integration {
	if sink == nil {
		sink = LogSink{}
	}
	i := &Integration{
		style: style,
		sink:  sink,
		snap:  Snapshot{Style: style.String()},
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	switch style {
	case StyleDefault:
		i.setIcon(IconToolbar)
	case StyleDock:
		i.setIcon(IconBitcoin)
	case StyleUnity:
		i.setIcon(IconBase)
		i.setHeader(header, IconBitcoin)
	}
	return i
}

func (i *Integration) setIcon(icon Icon) {
	if i.snap.Icon == icon {
		return
	}
	i.snap.Icon = icon
	i.sink.SetIcon(icon)
}

func (i *Integration) setHeader(text string, icon Icon) {
	i.snap.Header = text
	i.snap.HeaderIcon = icon
	i.sink.SetHeader(text, icon)
}

// updateStatus picks the Unity indicator icon. An error wins over a
// missing connection, which wins over attention.
func (i *Integration) updateStatus() {
	switch {
	case i.snap.Error:
		i.setIcon(IconError)
	case i.snap.Connections == 0:
		i.setIcon(IconConnecting)
	case i.snap.Attention:
		i.setIcon(IconAttention)
	default:
		i.setIcon(IconBase)
	}
}

// SetProgressVisible shows or hides the launcher progress bar.
func (i *Integration) SetProgressVisible(visible bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.snap.ProgressVisible = visible
	if i.style == StyleUnity {
		i.sink.LauncherMessage(map[string]interface{}{
			ProgressVisibleKey: visible,
		})
	}
}

// SetProgress sets the launcher progress. A zero denominator means busy
// and is shown as no progress.
func (i *Integration) SetProgress(numerator, denominator int) {
	i.mu.Lock()
	defer i.mu.Unlock()

	var progress float64
	if denominator != 0 {
		progress = float64(numerator) / float64(denominator)
	}
	i.snap.Progress = progress
	if i.style == StyleUnity {
		i.sink.LauncherMessage(map[string]interface{}{
			ProgressKey: progress,
		})
	}
}

// SetTestnet switches icons and labels between mainnet and testnet.
func (i *Integration) SetTestnet(on bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.snap.Testnet = on
	switch i.style {
	case StyleDefault:
		if on {
			i.snap.ToolTip = toolTip + " " + testnet
			i.sink.SetToolTip(i.snap.ToolTip)
			i.setIcon(IconToolbarTestnet)
		} else {
			i.snap.ToolTip = toolTip
			i.sink.SetToolTip(i.snap.ToolTip)
			i.setIcon(IconToolbar)
		}
	case StyleDock:
		if on {
			i.setIcon(IconBitcoinTestnet)
		} else {
			i.setIcon(IconBitcoin)
		}
	case StyleUnity:
		if on {
			i.setHeader(header+" "+testnet, IconToolbarTestnet)
		} else {
			i.setHeader(header, IconToolbar)
		}
	}
}

// SetAttentionFlag marks unseen wallet activity.
func (i *Integration) SetAttentionFlag(attention bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.snap.Attention = attention
	if i.style == StyleUnity {
		i.updateStatus()
	}
}

// SetErrorFlag marks an error condition.
func (i *Integration) SetErrorFlag(err bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.snap.Error = err
	if i.style == StyleUnity {
		i.updateStatus()
	}
}

// SetNumConnections records the number of peer connections.
func (i *Integration) SetNumConnections(n int) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.snap.Connections = n
	if i.style == StyleUnity {
		i.updateStatus()
	}
}

// Snapshot returns a copy of the current state.
func (i *Integration) Snapshot() Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.snap
}

// LogSink renders the state to the package logger.
type LogSink struct{}

func (LogSink) SetIcon(icon Icon) {
	log.Debugf("Status icon: %s", icon)
}

func (LogSink) SetToolTip(tip string) {
	log.Debugf("Status tooltip: %s", tip)
}

func (LogSink) SetHeader(text string, icon Icon) {
	log.Debugf("Status header: %s (%s)", text, icon)
}

func (LogSink) LauncherMessage(args map[string]interface{}) {
	log.Tracef("Launcher message: %v", args)
}
