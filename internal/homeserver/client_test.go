package homeserver

import "testing"

func TestParsePixelURI(t *testing.T) {
	tests := []struct {
		name       string
		uri        string
		wantUserPK string
		wantID     string
		wantOK     bool
	}{
		{
			name:       "valid",
			uri:        "pubky://user123/pub/pubky-canva/pixels/0000000000001",
			wantUserPK: "user123",
			wantID:     "0000000000001",
			wantOK:     true,
		},
		{name: "wrong scheme", uri: "https://user123/pub/pubky-canva/pixels/0000000000001"},
		{name: "wrong path", uri: "pubky://user123/pub/pubky.app/profile.json"},
		{name: "missing id", uri: "pubky://user123/pub/pubky-canva/pixels/"},
		{name: "nested id", uri: "pubky://user123/pub/pubky-canva/pixels/a/b"},
		{name: "no path", uri: "pubky://user123"},
		{name: "empty", uri: ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			userPK, pixelID, ok := ParsePixelURI(test.uri)
			if ok != test.wantOK {
				t.Fatalf("expected ok=%v for %q, got %v", test.wantOK, test.uri, ok)
			}
			if !ok {
				return
			}
			if userPK != test.wantUserPK || pixelID != test.wantID {
				t.Fatalf("expected (%q, %q), got (%q, %q)", test.wantUserPK, test.wantID, userPK, pixelID)
			}
		})
	}
}

func TestParseEventStream(t *testing.T) {
	text := "event: PUT\n" +
		"data: pubky://user1/pub/pubky-canva/pixels/0000000000001\n" +
		"data: cursor: 41\n" +
		"data: content_hash: abc123\n" +
		"\n" +
		"event: DEL\n" +
		"data: pubky://user1/pub/pubky-canva/pixels/0000000000002\n" +
		"data: cursor: 42\n" +
		"\n"

	records := parseEventStream(text)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Type != "PUT" || records[0].Cursor != "41" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[0].URI != "pubky://user1/pub/pubky-canva/pixels/0000000000001" {
		t.Fatalf("unexpected first uri: %q", records[0].URI)
	}
	if records[1].Type != "DEL" || records[1].Cursor != "42" {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
}

func TestParseEventStreamWithoutTrailingBlankLine(t *testing.T) {
	text := "event: PUT\n" +
		"data: pubky://user1/pub/pubky-canva/pixels/0000000000003\n" +
		"data: cursor: 7"

	records := parseEventStream(text)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].Cursor != "7" {
		t.Fatalf("unexpected cursor: %q", records[0].Cursor)
	}
}

func TestParseEventStreamEmpty(t *testing.T) {
	if records := parseEventStream(""); len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
	if records := parseEventStream("\n\n"); len(records) != 0 {
		t.Fatalf("expected no records for blank input, got %d", len(records))
	}
}

func TestExtractHomeserverID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "https://hs.example.org/", want: "hs.example.org"},
		{input: "http://hs.example.org/some/path", want: "hs.example.org"},
		{input: "bare-homeserver-id", want: "bare-homeserver-id"},
	}
	for _, test := range tests {
		if got := extractHomeserverID(test.input); got != test.want {
			t.Fatalf("expected %q for %q, got %q", test.want, test.input, got)
		}
	}
}
