package lifecycle

import (
	"net/url"
	"strings"
)

// referral parameters, highest priority first
var partnerParams = []string{"parceiro", "ref", "utm_source"}

// CheckoutURL appends the partner attribution found in referral to base.
// The partner is copied into src, sck and utm_source; without a partner base
// is returned unchanged.
func CheckoutURL(base string, referral url.Values) string {
	partner := ""
	for _, k := range partnerParams {
		if v := strings.TrimSpace(referral.Get(k)); v != "" {
			partner = v
			break
		}
	}
	if partner == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	p := url.QueryEscape(partner)
	return base + sep + "src=" + p + "&sck=" + p + "&utm_source=" + p
}

// ViewURL is the permanent link of a capsule.
func ViewURL(publicBase, id string) string {
	return strings.TrimRight(publicBase, "/") + "/v/" + url.PathEscape(id)
}
