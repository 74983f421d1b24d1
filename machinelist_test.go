package dc

import "testing"

func TestParseMachineListValid(t *testing.T) {
	ml, err := parseMachineList([]string{"host1:1234", "host2:5678"}, 0)
	if err != nil {
		t.Fatalf("parseMachineList: %v", err)
	}
	if len(ml) != 2 {
		t.Fatalf("len: got %d, want 2", len(ml))
	}
	addr, err := ml.addr(1)
	if err != nil || addr != "host2:5678" {
		t.Fatalf("addr(1): got (%q, %v), want (%q, nil)", addr, err, "host2:5678")
	}
}

func TestParseMachineListEmpty(t *testing.T) {
	_, err := parseMachineList(nil, 0)
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("empty list: got %v, want *ConfigurationError", err)
	}
}

func TestParseMachineListMalformedEntry(t *testing.T) {
	for _, bad := range []string{"no-port-here", ":1234", "host:", "host"} {
		if _, err := parseMachineList([]string{bad}, 0); err == nil {
			t.Errorf("parseMachineList([%q]): got nil error, want *ConfigurationError", bad)
		} else if _, ok := err.(*ConfigurationError); !ok {
			t.Errorf("parseMachineList([%q]): got %T, want *ConfigurationError", bad, err)
		}
	}
}

func TestParseMachineListDuplicateEntry(t *testing.T) {
	_, err := parseMachineList([]string{"host1:1234", "host2:5678", "host1:1234"}, 0)
	ce, ok := err.(*ConfigurationError)
	if !ok {
		t.Fatalf("duplicate entry: got %v, want *ConfigurationError", err)
	}
	if ce.Reason == "" {
		t.Error("ConfigurationError.Reason is empty")
	}
}

func TestParseMachineListSelfOutOfRange(t *testing.T) {
	_, err := parseMachineList([]string{"host1:1234", "host2:5678"}, 5)
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("self out of range: got %v, want *ConfigurationError", err)
	}
}

func TestMachineListAddrUnknownProcID(t *testing.T) {
	ml, err := parseMachineList([]string{"host1:1234"}, 0)
	if err != nil {
		t.Fatalf("parseMachineList: %v", err)
	}
	if _, err := ml.addr(7); err == nil {
		t.Error("addr(7): got nil error, want *ConfigurationError")
	}
}

func TestMachineListString(t *testing.T) {
	ml, err := parseMachineList([]string{"host1:1234", "host2:5678"}, 0)
	if err != nil {
		t.Fatalf("parseMachineList: %v", err)
	}
	if got, want := ml.String(), "host1:1234,host2:5678"; got != want {
		t.Errorf("String(): got %q, want %q", got, want)
	}
}
