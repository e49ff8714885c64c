package synth

import "testing"

func TestExplicitLanguagePassesThrough(t *testing.T) {
	if got := ResolveLanguage("edge", "fr-FR", "bonjour"); got != "fr-FR" {
		t.Errorf("explicit language rewritten to %q", got)
	}
}

func TestAutoDetectMapsToBackendVocabulary(t *testing.T) {
	cases := []struct {
		backend string
		text    string
		want    string
	}{
		{"edge", "the quick brown fox jumps over the lazy dog", "en-US"},
		{"edge", "这是一个中文测试句子，欢迎来到直播间", "zh-CN"},
		{"gpt_sovits", "这是一个中文测试句子，欢迎来到直播间", "zh"},
	}
	for _, tc := range cases {
		if got := ResolveLanguage(tc.backend, "auto", tc.text); got != tc.want {
			t.Errorf("%s / %q: got %q, want %q", tc.backend, tc.text, got, tc.want)
		}
	}
}

func TestUnsupportedGuessFallsBack(t *testing.T) {
	// Thai is not in the gpt_sovits table; its default must apply.
	got := ResolveLanguage("gpt_sovits", "auto", "สวัสดีครับ ยินดีต้อนรับสู่ห้องไลฟ์สด")
	if got != "zh" {
		t.Errorf("expected backend default zh, got %q", got)
	}
}

func TestUnknownBackendUsesEmptyDefault(t *testing.T) {
	if got := ResolveLanguage("mystery", "auto", "hello"); got != "" {
		t.Errorf("unknown backend should resolve empty, got %q", got)
	}
}
