package logging

import "testing"

func TestParseLevelFallsBackToInfo(t *testing.T) {
	if parseLevel("bogus") != parseLevel("") {
		t.Error("expected unrecognized level names to fall back the same as empty")
	}
	if parseLevel("debug") == parseLevel("info") {
		t.Error("expected debug and info to map to different levels")
	}
}
