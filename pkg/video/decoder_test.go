package video

import (
	"testing"
	"time"
)

func TestDecoder_SkipsTinyUnits(t *testing.T) {
	d := NewDecoder(time.Millisecond)

	_, ok, err := d.Decode(make([]byte, 50))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected tiny unit to be skipped")
	}
}

func TestDecoder_RateLimits(t *testing.T) {
	d := NewDecoder(time.Hour)
	d.lastDecode = time.Now()

	_, ok, err := d.Decode(make([]byte, 200))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected rate-limited unit to be skipped")
	}
}

func TestNewSource_DefaultsDecodeInterval(t *testing.T) {
	s := NewSource(Config{SignallingURL: "ws://example:8443", ProducerName: "cam"})
	if s.decoder.minInterval != DefaultConfig().DecodeInterval {
		t.Errorf("expected default decode interval, got %v", s.decoder.minInterval)
	}
}
