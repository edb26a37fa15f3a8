// Package telnet implements the subset of the Telnet option protocol this
// front-end needs: opcode/text splitting on a plain-Telnet stream, the IAC
// command builders, feature advertisement, echo toggling, and the MSSP
// sub-negotiation reply. It does not attempt full RFC 854 coverage.
package telnet

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// Core protocol bytes.
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Sub-negotiation Begin
	GA   byte = 249 // Go Ahead
	SE   byte = 240 // Sub-negotiation End

	MSSP    byte = 70
	CHARSET byte = 42
	NAWS    byte = 31
	EOR     byte = 25
	TTYPE   byte = 24
	ECHO    byte = 1
	NUL     byte = 0
)

// knownOpcodes is the set of bytes the simple splitter recognizes as
// telnet command bytes rather than user text.
var knownOpcodes = map[byte]bool{
	IAC: true, DONT: true, DO: true, WONT: true, WILL: true,
	SB: true, GA: true, SE: true,
	MSSP: true, CHARSET: true, NAWS: true, EOR: true, TTYPE: true, ECHO: true, NUL: true,
}

func isPrintableASCII(b byte) bool {
	return b >= 0x20 && b < 0x7f || b == '\r' || b == '\n' || b == '\t'
}

// SplitOpcodeFromInput walks buf byte by byte, separating telnet option
// bytes from user text. Bytes that are neither a known opcode nor printable
// ASCII are discarded. This is the simplified splitter the spec documents
// for plain-Telnet sessions; it does not reassemble sub-negotiation
// sequences embedded in the stream — see Decoder for that.
func SplitOpcodeFromInput(buf []byte) (opcodes []byte, text string) {
	var txt bytes.Buffer
	for _, b := range buf {
		switch {
		case knownOpcodes[b]:
			opcodes = append(opcodes, b)
		case isPrintableASCII(b):
			txt.WriteByte(b)
		}
	}
	return opcodes, txt.String()
}

// IACSeg is an argument to IAC/IACSB: a raw byte slice, a string (UTF-8
// encoded), or an int (ASCII-decimal encoded).
type IACSeg = any

func encodeSeg(seg IACSeg) []byte {
	switch v := seg.(type) {
	case []byte:
		return v
	case byte:
		return []byte{v}
	case string:
		return []byte(v)
	case int:
		return []byte(strconv.Itoa(v))
	default:
		panic(fmt.Sprintf("telnet: unsupported IAC segment type %T", seg))
	}
}

// BuildIAC concatenates segs (byte slices pass through, strings UTF-8
// encode, ints ASCII-decimal encode) and prefixes the result with IAC.
func BuildIAC(segs ...IACSeg) []byte {
	out := []byte{IAC}
	for _, s := range segs {
		out = append(out, encodeSeg(s)...)
	}
	return out
}

// BuildIACSB frames segs as IAC SB <segs> IAC SE.
func BuildIACSB(segs ...IACSeg) []byte {
	out := []byte{IAC, SB}
	for _, s := range segs {
		out = append(out, encodeSeg(s)...)
	}
	out = append(out, IAC, SE)
	return out
}

// capabilities this front-end advertises on accept.
var capabilities = []byte{MSSP}

// AdvertiseFeatures returns the IAC WILL sequence for every capability this
// front-end offers.
func AdvertiseFeatures() []byte {
	var out []byte
	for _, opt := range capabilities {
		out = append(out, IAC, WILL, opt)
	}
	return out
}

// RequestNAWS returns IAC DO NAWS, inviting the client to report its
// terminal size (and any future resize) via a NAWS sub-negotiation. Only
// transports that reassemble sub-negotiations (see Decoder) can act on
// the reply.
func RequestNAWS() []byte { return []byte{IAC, DO, NAWS} }

// EchoOff returns IAC WILL ECHO: the server takes over echoing, which
// suppresses the client's local echo. Used for password entry.
func EchoOff() []byte { return []byte{IAC, WILL, ECHO} }

// EchoOn returns IAC WONT ECHO: the client resumes local echo.
func EchoOn() []byte { return []byte{IAC, WONT, ECHO} }

// GoAheadBytes returns IAC GA, appended after a prompt for clients that
// want one.
func GoAheadBytes() []byte { return []byte{IAC, GA} }

// MSSPValues is the fixed variable schema advertised by the MSSP reply.
// PlayerCount is sent as given; UPTIME is not a field here, MSSPResponse
// computes it from process start time. Everything else is static server
// metadata.
type MSSPValues struct {
	Name        string
	PlayerCount int
	Codebase    string
	Contact     string
	Created     int
	Language    string
	Location    string
	Family      string
	Genre       string
	Gameplay    string
	Status      string
	Gamesystem  string
	Intermud    string
	Subgenre    string
	Ports       []int
}

// DefaultMSSPValues mirrors the reference schema akrios advertises.
func DefaultMSSPValues() MSSPValues {
	return MSSPValues{
		Name:        "AetherlinkMUD",
		PlayerCount: 0,
		Codebase:    "aetherlink",
		Contact:     "admin@example.com",
		Created:     2024,
		Language:    "English",
		Location:    "United States of America",
		Family:      "Custom",
		Genre:       "Fantasy",
		Gameplay:    "Adventure",
		Status:      "Alpha",
		Gamesystem:  "None",
		Intermud:    "Grapevine",
		Subgenre:    "High Fantasy",
		Ports:       []int{4000, 4001, 4002},
	}
}

var startTime = time.Now()

// msspVar/msspVal are the MSSP sub-negotiation tag bytes. They only have
// this meaning inside an IAC SB MSSP block; the same values serve as option
// codes (ECHO is 1) and TTYPE sub-commands elsewhere.
const (
	msspVar byte = 1
	msspVal byte = 2
)

// msspPair appends one VAR name VAL value pair to dst. val may be a string
// or an int; both encode as their natural text form.
func msspPair(dst []byte, name string, val any) []byte {
	dst = append(dst, msspVar)
	dst = append(dst, []byte(name)...)
	dst = append(dst, msspVal)
	switch v := val.(type) {
	case string:
		dst = append(dst, []byte(v)...)
	case int:
		dst = append(dst, []byte(strconv.Itoa(v))...)
	default:
		dst = append(dst, []byte(fmt.Sprint(v))...)
	}
	return dst
}

// MSSPResponse builds the IAC SB MSSP ... IAC SE reply to a DO MSSP probe.
// List-valued variables (currently just PORT) are encoded as repeated
// VAR name VAL element pairs, per the MSSP convention.
func MSSPResponse(v MSSPValues) []byte {
	uptime := int(time.Since(startTime).Seconds())

	var body []byte
	body = msspPair(body, "NAME", v.Name)
	body = msspPair(body, "PLAYERS", v.PlayerCount)
	body = msspPair(body, "UPTIME", uptime)
	body = msspPair(body, "CODEBASE", v.Codebase)
	body = msspPair(body, "CONTACT", v.Contact)
	body = msspPair(body, "CRAWL DELAY", -1)
	body = msspPair(body, "CREATED", v.Created)
	body = msspPair(body, "HOSTNAME", -1)
	body = msspPair(body, "ICON", -1)
	body = msspPair(body, "IP", -1)
	body = msspPair(body, "IPV6", -1)
	body = msspPair(body, "LANGUAGE", v.Language)
	body = msspPair(body, "LOCATION", v.Location)
	body = msspPair(body, "MINIMUM AGE", -1)
	for _, p := range v.Ports {
		body = msspPair(body, "PORT", p)
	}
	body = msspPair(body, "REFERRAL", -1)
	body = msspPair(body, "WEBSITE", -1)
	body = msspPair(body, "FAMILY", v.Family)
	body = msspPair(body, "GENRE", v.Genre)
	body = msspPair(body, "GAMEPLAY", v.Gameplay)
	body = msspPair(body, "STATUS", v.Status)
	body = msspPair(body, "GAMESYSTEM", v.Gamesystem)
	body = msspPair(body, "INTERMUD", v.Intermud)
	body = msspPair(body, "SUBGENRE", v.Subgenre)
	body = msspPair(body, "AREAS", 1)
	body = msspPair(body, "HELPFILES", 60)
	body = msspPair(body, "MOBILES", 1)
	body = msspPair(body, "OBJECTS", 1)
	body = msspPair(body, "ROOMS", 20)
	body = msspPair(body, "CLASSES", 5)
	body = msspPair(body, "LEVELS", 50)
	body = msspPair(body, "RACES", 5)
	body = msspPair(body, "SKILLS", 1)
	body = msspPair(body, "ANSI", 1)
	body = msspPair(body, "MSP", 0)
	body = msspPair(body, "UTF-8", 1)
	body = msspPair(body, "VT100", 0)
	body = msspPair(body, "XTERM 256 COLORS", 0)
	body = msspPair(body, "XTERM TRUE COLORS", 0)
	body = msspPair(body, "PAY TO PLAY", 0)
	body = msspPair(body, "PAY FOR PERKS", 0)
	body = msspPair(body, "HIRING BUILDERS", 0)
	body = msspPair(body, "HIRING CODERS", 0)

	out := []byte{IAC, SB, MSSP}
	out = append(out, body...)
	out = append(out, IAC, SE)
	return out
}

// Handle dispatches opcode bytes extracted from a client stream (as
// returned by SplitOpcodeFromInput) against the known-option table,
// writing any reply synchronously and flushing before returning. Unknown
// opcodes are ignored.
func Handle(opcodes []byte, mssp MSSPValues, write func([]byte) error) error {
	for _, part := range bytes.Split(opcodes, []byte{IAC}) {
		if len(part) == 2 && part[0] == DO && part[1] == MSSP {
			if err := write(MSSPResponse(mssp)); err != nil {
				return err
			}
		}
	}
	return nil
}
