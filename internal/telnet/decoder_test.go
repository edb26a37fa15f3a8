package telnet

import (
	"bytes"
	"testing"
)

func TestDecoderPassesThroughText(t *testing.T) {
	d := NewDecoder()
	text := d.Write([]byte("look\n"))
	if string(text) != "look\n" {
		t.Errorf("text = %q, want %q", text, "look\n")
	}
	if len(d.Take()) != 0 {
		t.Error("unexpected opcodes")
	}
}

// Open question 9(b): UTF-8 continuation bytes must survive the decoder,
// unlike the plain splitter which drops non-printable, non-opcode bytes.
func TestDecoderPreservesUTF8Continuation(t *testing.T) {
	d := NewDecoder()
	input := []byte("caf\xc3\xa9\n") // "café\n"
	text := d.Write(input)
	if !bytes.Equal(text, input) {
		t.Errorf("text = %v, want %v", text, input)
	}
}

func TestDecoderExtractsEmbeddedOpcode(t *testing.T) {
	d := NewDecoder()
	input := []byte{'h', 'i', IAC, DO, MSSP, 'x'}
	text := d.Write(input)
	if string(text) != "hix" {
		t.Errorf("text = %q, want %q", text, "hix")
	}
	opcodes := d.Take()
	want := []byte{IAC, DO, MSSP}
	if !bytes.Equal(opcodes, want) {
		t.Errorf("opcodes = %v, want %v", opcodes, want)
	}
}

func TestDecoderNAWSSubnegotiation(t *testing.T) {
	d := NewDecoder()
	var gotW, gotH int
	d.OnNAWS = func(w, h int) { gotW, gotH = w, h }

	// IAC SB NAWS 0 80 0 24 IAC SE
	input := []byte{IAC, SB, NAWS, 0, 80, 0, 24, IAC, SE}
	text := d.Write(input)
	if len(text) != 0 {
		t.Errorf("expected no text from subnegotiation, got %v", text)
	}
	if gotW != 80 || gotH != 24 {
		t.Errorf("NAWS = %dx%d, want 80x24", gotW, gotH)
	}
}

func TestDecoderEscapedIACInSubnegotiation(t *testing.T) {
	d := NewDecoder()
	var got []byte
	d.OnNAWS = nil
	// SB with an escaped 0xFF byte in the data, option arbitrary (not NAWS)
	input := []byte{IAC, SB, 99, 0xAB, IAC, IAC, 0xCD, IAC, SE}
	_ = d.Write(input)
	got = d.sbData
	want := []byte{0xAB, IAC, 0xCD}
	if !bytes.Equal(got, want) {
		t.Errorf("sbData = %v, want %v", got, want)
	}
}

func TestDecoderIncrementalFeed(t *testing.T) {
	d := NewDecoder()
	var all []byte
	chunks := [][]byte{{'a'}, {IAC}, {DO}, {MSSP}, {'b'}}
	for _, c := range chunks {
		all = append(all, d.Write(c)...)
	}
	if string(all) != "ab" {
		t.Errorf("incremental text = %q, want %q", all, "ab")
	}
	want := []byte{IAC, DO, MSSP}
	if !bytes.Equal(d.Take(), want) {
		t.Errorf("incremental opcodes wrong")
	}
}
