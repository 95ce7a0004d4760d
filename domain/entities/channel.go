package entities

import (
	"errors"
	"fmt"
	"strconv"
)

// ChannelNo identifies one of the fixed virtual channels multiplexed over a session.
type ChannelNo int

const (
	ChannelVoice   ChannelNo = -2 // voice ingress
	ChannelControl ChannelNo = -1 // shared ingress and control
	ChannelChat    ChannelNo = 0  // conversational AI output
	ChannelAgent1  ChannelNo = 1
	ChannelAgent2  ChannelNo = 2
	ChannelAgent3  ChannelNo = 3
	ChannelAgent4  ChannelNo = 4
)

// ChannelCount is the number of channel slots a session owns.
const ChannelCount = 7

// ErrInvalidChannel is returned for channel numbers outside -2..4.
var ErrInvalidChannel = errors.New("invalid channel")

// AllChannels lists every channel in slot order.
var AllChannels = [ChannelCount]ChannelNo{
	ChannelVoice, ChannelControl, ChannelChat,
	ChannelAgent1, ChannelAgent2, ChannelAgent3, ChannelAgent4,
}

// Valid reports whether c is one of the fixed channel numbers.
func (c ChannelNo) Valid() bool {
	return c >= ChannelVoice && c <= ChannelAgent4
}

// Index maps the channel onto a 0-based slot for fixed-size tables.
func (c ChannelNo) Index() int {
	return int(c) + 2
}

// IsAgent reports whether c is one of the code-agent worker channels.
func (c ChannelNo) IsAgent() bool {
	return c >= ChannelAgent1 && c <= ChannelAgent4
}

// IsOutput reports whether c can be the target of a dispatched request.
func (c ChannelNo) IsOutput() bool {
	return c >= ChannelChat && c <= ChannelAgent4
}

func (c ChannelNo) String() string {
	switch c {
	case ChannelVoice:
		return "voice"
	case ChannelControl:
		return "control"
	case ChannelChat:
		return "chat"
	default:
		if c.IsAgent() {
			return "agent" + strconv.Itoa(int(c))
		}
		return "invalid(" + strconv.Itoa(int(c)) + ")"
	}
}

// ParseChannel converts a query or config value into a ChannelNo.
func ParseChannel(s string) (ChannelNo, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
	c := ChannelNo(n)
	if !c.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidChannel, n)
	}
	return c, nil
}
