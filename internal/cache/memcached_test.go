package cache

import "testing"

func TestMemcachedStore_Key(t *testing.T) {
	tests := []struct {
		serial string
		want   string
	}{
		{"MAP-0001", "metarmap:MAP-0001:cache"},
		{"living room", "metarmap:living_room:cache"},
		{"", "metarmap:default:cache"},
	}
	for _, tt := range tests {
		s := NewMemcachedStore("", tt.serial, 0, 0)
		if got := s.key(); got != tt.want {
			t.Errorf("key(%q) = %q, want %q", tt.serial, got, tt.want)
		}
	}
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs(" a:1 ,, b:2 ")
	if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Errorf("parseAddrs() = %v", got)
	}
}
