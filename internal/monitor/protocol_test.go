package monitor

import "testing"

func TestParseCommandWithArgument(t *testing.T) {
	c := parseCommand("stats 20")
	if c.name != "stats" {
		t.Fatalf("expected name=stats, got %q", c.name)
	}
	if !c.has || c.arg != 20 {
		t.Fatalf("expected arg=20, got has=%v arg=%d", c.has, c.arg)
	}
}

func TestParseCommandWithoutArgument(t *testing.T) {
	c := parseCommand("start")
	if c.name != "start" {
		t.Fatalf("expected name=start, got %q", c.name)
	}
	if c.has {
		t.Fatal("expected no argument to be parsed")
	}
}

func TestParseCommandIsCaseInsensitive(t *testing.T) {
	c := parseCommand("STOP")
	if c.name != "stop" {
		t.Fatalf("expected lowercased name, got %q", c.name)
	}
}

func TestParseCommandEmptyLine(t *testing.T) {
	c := parseCommand("   ")
	if c.name != "" {
		t.Fatalf("expected empty command name, got %q", c.name)
	}
}

func TestParseCommandIgnoresNonNumericSecondField(t *testing.T) {
	c := parseCommand("dump all")
	if c.name != "dump" {
		t.Fatalf("expected name=dump, got %q", c.name)
	}
	if c.has {
		t.Fatal("expected non-numeric second field to leave arg unset")
	}
}
