package lifecycle

import (
	"net/url"
	"testing"
)

func TestCheckoutURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		referral url.Values
		want     string
	}{
		{"no referral", "https://pay.example/c", nil, "https://pay.example/c"},
		{"parceiro wins", "https://pay.example/c", url.Values{"ref": {"r"}, "parceiro": {"p"}}, "https://pay.example/c?src=p&sck=p&utm_source=p"},
		{"utm fallback", "https://pay.example/c", url.Values{"utm_source": {"insta"}}, "https://pay.example/c?src=insta&sck=insta&utm_source=insta"},
		{"base with query", "https://pay.example/c?offer=1", url.Values{"ref": {"ana"}}, "https://pay.example/c?offer=1&src=ana&sck=ana&utm_source=ana"},
		{"escaped", "https://pay.example/c", url.Values{"ref": {"a b&c"}}, "https://pay.example/c?src=a+b%26c&sck=a+b%26c&utm_source=a+b%26c"},
		{"blank partner", "https://pay.example/c", url.Values{"ref": {"  "}}, "https://pay.example/c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckoutURL(tt.base, tt.referral); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestViewURL(t *testing.T) {
	if got := ViewURL("https://capsule.example/", "abc"); got != "https://capsule.example/v/abc" {
		t.Fatalf("got %q", got)
	}
}
