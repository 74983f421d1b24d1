package dc

import (
	"reflect"
	"testing"
)

func TestParseInitStringDefaults(t *testing.T) {
	cfg, err := ParseInitString("")
	if err != nil {
		t.Fatalf("ParseInitString(\"\"): %v", err)
	}
	if !reflect.DeepEqual(cfg, DefaultConfig()) {
		t.Fatalf("empty init string: got %+v, want DefaultConfig()", cfg)
	}
}

func TestParseInitStringOverrides(t *testing.T) {
	cfg, err := ParseInitString("buffered_send=yes,send_buffer_size=4096,combine_lower_threshold=10,combine_upper_threshold=20,tcp_nodelay=no")
	if err != nil {
		t.Fatalf("ParseInitString: %v", err)
	}
	if !cfg.BufferedSend {
		t.Error("buffered_send: got false, want true")
	}
	if cfg.SendBufferSize != 4096 {
		t.Errorf("send_buffer_size: got %d, want 4096", cfg.SendBufferSize)
	}
	if cfg.CombineLowerThreshold != 10 {
		t.Errorf("combine_lower_threshold: got %d, want 10", cfg.CombineLowerThreshold)
	}
	if cfg.CombineUpperThreshold != 20 {
		t.Errorf("combine_upper_threshold: got %d, want 20", cfg.CombineUpperThreshold)
	}
	if cfg.TCPNoDelay {
		t.Error("tcp_nodelay: got true, want false")
	}
}

func TestParseInitStringWhitespaceTolerant(t *testing.T) {
	cfg, err := ParseInitString(" buffered_send = true , tcp_nodelay=1 ")
	if err != nil {
		t.Fatalf("ParseInitString: %v", err)
	}
	if !cfg.BufferedSend || !cfg.TCPNoDelay {
		t.Errorf("got %+v, want both true", cfg)
	}
}

func TestParseInitStringUnknownKey(t *testing.T) {
	_, err := ParseInitString("not_a_real_option=yes")
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("unknown key: got %v, want *ConfigurationError", err)
	}
}

func TestParseInitStringMissingEquals(t *testing.T) {
	_, err := ParseInitString("buffered_send")
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("missing '=': got %v, want *ConfigurationError", err)
	}
}

func TestParseInitStringBadBoolean(t *testing.T) {
	_, err := ParseInitString("tcp_nodelay=maybe")
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("bad boolean: got %v, want *ConfigurationError", err)
	}
}

func TestParseInitStringBadInteger(t *testing.T) {
	for _, s := range []string{
		"send_buffer_size=not_a_number",
		"send_buffer_size=0",
		"send_buffer_size=-1",
		"combine_upper_threshold=0",
		"combine_lower_threshold=-5",
	} {
		if _, err := ParseInitString(s); err == nil {
			t.Errorf("ParseInitString(%q): got nil error, want *ConfigurationError", s)
		}
	}
}

func TestParseInitStringThresholdOrdering(t *testing.T) {
	_, err := ParseInitString("combine_lower_threshold=100,combine_upper_threshold=10")
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("lower > upper: got %v, want *ConfigurationError", err)
	}
}

func TestParseInitStringIgnoresTrailingComma(t *testing.T) {
	cfg, err := ParseInitString("tcp_nodelay=no,")
	if err != nil {
		t.Fatalf("ParseInitString: %v", err)
	}
	if cfg.TCPNoDelay {
		t.Error("tcp_nodelay: got true, want false")
	}
}
