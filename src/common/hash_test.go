package common

import (
	"encoding/json"
	"testing"
)

func TestHashHexRoundTrip(t *testing.T) {
	var h Hash
	for i := range h {
		h[i] = byte(i)
	}

	for _, s := range []string{h.String(), "0x" + h.String(), EncodeToString(h[:])} {
		parsed, err := HexToHash(s)
		if err != nil {
			t.Fatalf("HexToHash(%s) err: %v", s, err)
		}
		if parsed != h {
			t.Fatalf("HexToHash(%s) should be %s, not %s", s, h, parsed)
		}
	}

	if _, err := HexToHash("abcd"); err == nil {
		t.Fatalf("short hash should not parse")
	}
}

func TestHashJSON(t *testing.T) {
	h := BytesToHash([]byte{0xde, 0xad, 0xbe, 0xef})

	raw, err := json.Marshal(map[string]Hash{"h": h})
	if err != nil {
		t.Fatal(err)
	}

	var out map[string]Hash
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out["h"] != h {
		t.Fatalf("json round trip should give %s, not %s", h, out["h"])
	}
	if h.Short() != "deadbeef" {
		t.Fatalf("Short should be deadbeef, not %s", h.Short())
	}
}
