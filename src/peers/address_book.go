package peers

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

const jsonAddressBookPath = "peers.json"

// AddressBook remembers endpoints across restarts.
type AddressBook interface {
	Endpoints() ([]Endpoint, error)
	Write([]Endpoint) error
}

type jsonEntry struct {
	NetAddr string
}

// JSONAddressBook is used to provide endpoint persistence on disk in the form
// of a JSON file.
type JSONAddressBook struct {
	l    sync.Mutex
	path string
}

// NewJSONAddressBook creates a JSONAddressBook with reference to a base
// directory where the JSON file resides.
func NewJSONAddressBook(base string) *JSONAddressBook {
	return &JSONAddressBook{
		path: filepath.Join(base, jsonAddressBookPath),
	}
}

// Path ...
func (j *JSONAddressBook) Path() string {
	return j.path
}

// Endpoints parses the underlying JSON file. A missing file is an empty book.
// Entries which do not parse are skipped.
func (j *JSONAddressBook) Endpoints() ([]Endpoint, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return []Endpoint{}, nil
	}
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(buf)) == 0 {
		return []Endpoint{}, nil
	}

	var entries []jsonEntry
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&entries); err != nil {
		return nil, err
	}

	res := make([]Endpoint, 0, len(entries))
	for _, e := range entries {
		ep, err := ParseEndpoint(e.NetAddr)
		if err != nil {
			continue
		}
		res = append(res, ep)
	}
	return res, nil
}

// Write persists endpoints to the JSON file, replacing its content.
func (j *JSONAddressBook) Write(endpoints []Endpoint) error {
	j.l.Lock()
	defer j.l.Unlock()

	entries := make([]jsonEntry, len(endpoints))
	for i, e := range endpoints {
		entries[i] = jsonEntry{NetAddr: e.String()}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return err
	}

	return os.WriteFile(j.path, buf.Bytes(), 0644)
}

// StaticAddressBook keeps endpoints in memory.
type StaticAddressBook struct {
	l         sync.Mutex
	endpoints []Endpoint
}

// NewStaticAddressBook ...
func NewStaticAddressBook(endpoints ...Endpoint) *StaticAddressBook {
	return &StaticAddressBook{endpoints: endpoints}
}

// Endpoints implements AddressBook.
func (s *StaticAddressBook) Endpoints() ([]Endpoint, error) {
	s.l.Lock()
	defer s.l.Unlock()
	return append([]Endpoint(nil), s.endpoints...), nil
}

// Write implements AddressBook.
func (s *StaticAddressBook) Write(endpoints []Endpoint) error {
	s.l.Lock()
	defer s.l.Unlock()
	s.endpoints = append([]Endpoint(nil), endpoints...)
	return nil
}
