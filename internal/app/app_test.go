package app

import (
	"strings"
	"testing"
)

func TestSystemPrompt(t *testing.T) {
	got := SystemPrompt("RingCentral")
	if !strings.Contains(got, "RingCentral") {
		t.Error("prompt missing company name")
	}
	if !strings.Contains(got, "`search`") {
		t.Error("prompt missing search tool capability")
	}
	if !strings.Contains(got, "`rewrite`") {
		t.Error("prompt missing rewrite tool capability")
	}
}
