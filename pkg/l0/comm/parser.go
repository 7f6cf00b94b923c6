package comm

// Parser parses bytes received, one at a time. It never allocates:
// the emitted Frame points into the parser's own buffer and is only
// valid until the next call to Parse.
type Parser struct {
	// Layout is the expected field order.
	Layout Layout
	// Header2 is the accepted second header byte.
	// Zero accepts both HeaderHost and HeaderDevice.
	Header2 byte

	state     parseState
	sum       byte
	remaining int
	length    int
	frame     Frame
	buf       [MaxPayload]byte
}

// TimerAction defines what to do with the idle timer.
type TimerAction int

const (
	// TimerNoChange indicates keep the timer as-is.
	TimerNoChange TimerAction = iota
	// TimerRestart to restart the timer.
	TimerRestart
	// TimerStop to stop/cancel the timer.
	TimerStop
)

// ParseResult indicates the result after one parsing step.
type ParseResult struct {
	// Receiving is true in the middle of a frame.
	Receiving bool
	// Frame is set when a frame is completed with valid checksum.
	Frame *Frame
	// Err is set when a frame is dropped.
	Err error
}

// WhatAboutTimer decides what to do with the idle timer.
func (r ParseResult) WhatAboutTimer() TimerAction {
	if r.Receiving {
		return TimerRestart
	}
	return TimerStop
}

type parseState int

const (
	stateHeader1  parseState = iota // waiting for Header1
	stateHeader2                    // waiting for second header byte
	stateOpcode                     // waiting for opcode
	stateLength                     // waiting for length
	statePayload                    // receiving payload
	stateChecksum                   // waiting for checksum
)

// NewCommandParser creates a parser for frames sent by a host.
func NewCommandParser() *Parser {
	return &Parser{Layout: CommandLayout}
}

// NewResponseParser creates a parser for frames sent by the firmware.
func NewResponseParser() *Parser {
	return &Parser{Layout: ResponseLayout, Header2: HeaderDevice}
}

// Receiving tells if a frame is partially received.
func (p *Parser) Receiving() bool {
	return p.state != stateHeader1
}

// Reset drops any partially received frame.
func (p *Parser) Reset() {
	p.state = stateHeader1
}

// Timeout notifies the parser the idle timer expires. A partially
// received frame is abandoned.
func (p *Parser) Timeout() (pr ParseResult) {
	if p.state != stateHeader1 {
		pr.Err = ErrIncomplete
		p.state = stateHeader1
	}
	return
}

// Parse consumes one byte.
func (p *Parser) Parse(b byte) (pr ParseResult) {
	pr.Frame, pr.Err = p.parseByte(b)
	pr.Receiving = p.state != stateHeader1
	return
}

func (p *Parser) parseByte(b byte) (*Frame, error) {
	switch p.state {
	case stateHeader1:
		if b == Header1 {
			p.sum = b
			p.state = stateHeader2
		}
	case stateHeader2:
		if !p.acceptHeader2(b) {
			p.state = stateHeader1
			return nil, nil
		}
		p.sum += b
		p.frame.Header = b
		if p.Layout == ResponseLayout {
			p.state = stateLength
		} else {
			p.state = stateOpcode
		}
	case stateOpcode:
		p.sum += b
		p.frame.Opcode = b
		if p.Layout == ResponseLayout {
			return p.startPayload()
		}
		p.state = stateLength
	case stateLength:
		p.sum += b
		p.length = int(b)
		if p.Layout == ResponseLayout {
			if p.length == 0 {
				p.state = stateHeader1
				return nil, ErrBadLength
			}
			p.length--
			p.state = stateOpcode
			break
		}
		return p.startPayload()
	case statePayload:
		p.sum += b
		p.buf[p.length-p.remaining] = b
		if p.remaining--; p.remaining == 0 {
			p.state = stateChecksum
		}
	case stateChecksum:
		p.state = stateHeader1
		if b != p.sum {
			return nil, ErrChecksum
		}
		p.frame.Payload = p.buf[:p.length]
		return &p.frame, nil
	default:
		p.state = stateHeader1
	}
	return nil, nil
}

func (p *Parser) startPayload() (*Frame, error) {
	if p.length > MaxPayload {
		p.state = stateHeader1
		return nil, ErrBadLength
	}
	p.remaining = p.length
	if p.remaining == 0 {
		p.state = stateChecksum
	} else {
		p.state = statePayload
	}
	return nil, nil
}

func (p *Parser) acceptHeader2(b byte) bool {
	if p.Header2 != 0 {
		return b == p.Header2
	}
	return b == HeaderHost || b == HeaderDevice
}
