// Package wgconf reads and writes the daemon's native INI-style configuration
// file. Unknown keys and comment lines are kept so that a parse/render round
// trip only changes what was edited.
package wgconf

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const (
	SectionInterface = "Interface"
	SectionPeer      = "Peer"

	KeyPrivateKey          = "PrivateKey"
	KeyPublicKey           = "PublicKey"
	KeyPresharedKey        = "PresharedKey"
	KeyAddress             = "Address"
	KeyListenPort          = "ListenPort"
	KeyAllowedIPs          = "AllowedIPs"
	KeyEndpoint            = "Endpoint"
	KeyDNS                 = "DNS"
	KeyPersistentKeepalive = "PersistentKeepalive"
)

var ErrNoInterface = errors.New("config has no [Interface] section")

// Line is one line of a section. Comment and blank lines have an empty Key
// and are rendered from Raw.
type Line struct {
	Key   string
	Value string
	Raw   string
}

type Section struct {
	Name  string
	Lines []Line
}

// Get returns the first value for key. Keys match case-insensitively.
func (s *Section) Get(key string) (string, bool) {
	for _, line := range s.Lines {
		if line.Key != "" && strings.EqualFold(line.Key, key) {
			return line.Value, true
		}
	}
	return "", false
}

// Set replaces the first value for key or appends a new line.
func (s *Section) Set(key, value string) {
	for i, line := range s.Lines {
		if line.Key != "" && strings.EqualFold(line.Key, key) {
			s.Lines[i].Value = value
			s.Lines[i].Raw = ""
			return
		}
	}
	s.Lines = append(s.Lines, Line{Key: key, Value: value})
}

// File is a parsed config. Preamble holds lines before the first section.
type File struct {
	Preamble []Line
	Sections []*Section
}

func Parse(text string) *File {
	f := &File{}
	var current *Section

	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(raw)

		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			current = &Section{Name: strings.TrimSpace(trimmed[1 : len(trimmed)-1])}
			f.Sections = append(f.Sections, current)
			continue
		}

		line := Line{Raw: raw}
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") && !strings.HasPrefix(trimmed, ";") {
			if key, value, ok := strings.Cut(trimmed, "="); ok {
				line = Line{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value)}
			}
		}

		if current == nil {
			f.Preamble = append(f.Preamble, line)
		} else {
			current.Lines = append(current.Lines, line)
		}
	}

	f.Preamble = trimTrailingBlank(f.Preamble)
	for _, s := range f.Sections {
		s.Lines = trimTrailingBlank(s.Lines)
	}
	return f
}

func trimTrailingBlank(lines []Line) []Line {
	for len(lines) > 0 {
		last := lines[len(lines)-1]
		if last.Key != "" || strings.TrimSpace(last.Raw) != "" {
			break
		}
		lines = lines[:len(lines)-1]
	}
	return lines
}

// String renders the file with one blank line between sections and a
// trailing newline.
func (f *File) String() string {
	var b strings.Builder
	writeLines(&b, f.Preamble)
	for i, s := range f.Sections {
		if i > 0 || len(f.Preamble) > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s]\n", s.Name)
		writeLines(&b, s.Lines)
	}
	return b.String()
}

func writeLines(b *strings.Builder, lines []Line) {
	for _, line := range lines {
		if line.Key == "" {
			b.WriteString(line.Raw)
		} else {
			b.WriteString(line.Key)
			b.WriteString(" = ")
			b.WriteString(line.Value)
		}
		b.WriteString("\n")
	}
}

func (f *File) Interface() (*Section, error) {
	for _, s := range f.Sections {
		if strings.EqualFold(s.Name, SectionInterface) {
			return s, nil
		}
	}
	return nil, ErrNoInterface
}

func (f *File) Peers() []*Section {
	var peers []*Section
	for _, s := range f.Sections {
		if strings.EqualFold(s.Name, SectionPeer) {
			peers = append(peers, s)
		}
	}
	return peers
}

// Peer is the server-side description of one client.
type Peer struct {
	// Comment is written on one line; control characters become spaces.
	Comment      string
	PublicKey    string
	PresharedKey string
	AllowedIPs   []string
}

func (f *File) HasPeer(publicKey string) bool {
	for _, s := range f.Peers() {
		if key, _ := s.Get(KeyPublicKey); key == publicKey {
			return true
		}
	}
	return false
}

// AddPeer appends a [Peer] section. The caller is responsible for key
// uniqueness.
func (f *File) AddPeer(p Peer) {
	s := &Section{Name: SectionPeer}
	if comment := commentText(p.Comment); comment != "" {
		s.Lines = append(s.Lines, Line{Raw: "# " + comment})
	}
	s.Lines = append(s.Lines, Line{Key: KeyPublicKey, Value: p.PublicKey})
	if p.PresharedKey != "" {
		s.Lines = append(s.Lines, Line{Key: KeyPresharedKey, Value: p.PresharedKey})
	}
	s.Lines = append(s.Lines, Line{Key: KeyAllowedIPs, Value: strings.Join(p.AllowedIPs, ", ")})
	f.Sections = append(f.Sections, s)
}

func commentText(text string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text))
}

// RemovePeer drops every [Peer] section with the given public key and
// reports whether any was found.
func (f *File) RemovePeer(publicKey string) bool {
	kept := f.Sections[:0]
	removed := false
	for _, s := range f.Sections {
		if strings.EqualFold(s.Name, SectionPeer) {
			if key, _ := s.Get(KeyPublicKey); key == publicKey {
				removed = true
				continue
			}
		}
		kept = append(kept, s)
	}
	f.Sections = kept
	return removed
}

// obfuscationKeys are the AmneziaWG junk-packet and header parameters that
// a client must mirror from the server interface.
var obfuscationKeys = []string{"Jc", "Jmin", "Jmax", "S1", "S2", "H1", "H2", "H3", "H4"}

// Obfuscation returns the AmneziaWG parameters present on the interface in
// a fixed order. Plain WireGuard configs return nothing.
func (f *File) Obfuscation() []Line {
	iface, err := f.Interface()
	if err != nil {
		return nil
	}
	var params []Line
	for _, key := range obfuscationKeys {
		if value, ok := iface.Get(key); ok {
			params = append(params, Line{Key: key, Value: value})
		}
	}
	return params
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
